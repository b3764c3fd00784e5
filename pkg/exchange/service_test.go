/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	clmem "github.com/DevAlexey/cordentity-1/pkg/cl/mem"
	"github.com/DevAlexey/cordentity-1/pkg/ledger"
	"github.com/DevAlexey/cordentity-1/pkg/lifecycle"
	"github.com/DevAlexey/cordentity-1/pkg/proof"
	"github.com/DevAlexey/cordentity-1/pkg/storage/mem"
	"github.com/DevAlexey/cordentity-1/pkg/store/credential"
)

const (
	issuerDID = "V4SGRU86Z58d6TV7PBUe6f"
	proverDID = "VsKV7grR1BUE29mG2Fm2kX"
	secretID  = "main"
)

// capturingMessenger records outgoing messages instead of delivering them.
type capturingMessenger struct {
	sent []interface{}
}

func (m *capturingMessenger) Send(_ context.Context, _ string, msg interface{}) error {
	m.sent = append(m.sent, msg)

	return nil
}

func (m *capturingMessenger) last() interface{} {
	if len(m.sent) == 0 {
		return nil
	}

	return m.sent[len(m.sent)-1]
}

type fixture struct {
	verifier    *Verifier
	prover      *Prover
	verifierOut *capturingMessenger
	proverOut   *capturingMessenger
	clock       *clock.Mock
	credDefID   anoncreds.CredDefID
}

// newFixture issues Alice a passport credential (name, birthdate) and wires
// verifier and prover services over capturing messengers.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	l, err := ledger.NewStoreLedger(mem.NewProvider())
	require.NoError(t, err)

	wallet, err := credential.Open(mem.NewProvider())
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(time.Unix(1_000, 0))

	issuerService := clmem.NewIssuer()
	proverService := clmem.NewProver()

	issuer := lifecycle.New(issuerDID, l, issuerService, proverService, nil, clk)
	holder := lifecycle.New(proverDID, l, issuerService, proverService, wallet, clk)

	schemaID, err := issuer.CreateSchema("passport", "1.0", []string{"name", "birthdate"})
	require.NoError(t, err)

	credDefID, err := issuer.CreateCredentialDefinition(schemaID, false)
	require.NoError(t, err)

	offer, err := issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := holder.CreateRequest(offer, proverDID, secretID)
	require.NoError(t, err)

	cred, err := issuer.IssueCredential(
		map[string]string{"name": "Alice", "birthdate": "19950101"}, request, offer, "")
	require.NoError(t, err)
	require.NoError(t, holder.ReceiveCredential(cred, request, secretID))

	verifierOut := &capturingMessenger{}
	proverOut := &capturingMessenger{}

	verifierEngine := proof.NewEngine(l, proverService, clmem.NewVerifier(), nil)
	proverEngine := proof.NewEngine(l, proverService, clmem.NewVerifier(), wallet)

	return &fixture{
		verifier:    NewVerifier(verifierEngine, verifierOut, clk, 0),
		prover:      NewProver(proverEngine, proverOut),
		verifierOut: verifierOut,
		proverOut:   proverOut,
		clock:       clk,
		credDefID:   credDefID,
	}
}

func (f *fixture) begin(t *testing.T, attributes []AttributeSpec,
	predicates []PredicateSpec) *SessionHandle {
	t.Helper()

	handle, err := f.verifier.BeginVerification(context.Background(), proverDID,
		attributes, predicates, nil)
	require.NoError(t, err)

	request, ok := f.verifierOut.last().(*ProofRequestMessage)
	require.True(t, ok, "opening a session sends the proof request")
	require.Equal(t, handle.Nonce, request.Request.Nonce)

	return handle
}

// relay lets the prover answer the verifier's last request and feeds the
// presentation back in, returning the session outcome.
func (f *fixture) relay(t *testing.T, handle *SessionHandle) *Outcome {
	t.Helper()

	request := f.verifierOut.last().(*ProofRequestMessage)

	require.NoError(t, f.prover.HandleProofRequest(context.Background(), issuerDID, request, secretID))

	presentation, ok := f.proverOut.last().(*PresentationMessage)
	require.True(t, ok)

	outcome, err := f.verifier.OnProofReceived(context.Background(), handle, presentation)
	require.NoError(t, err)

	return outcome
}

func passportSpecs(credDefID anoncreds.CredDefID, expectedName string) ([]AttributeSpec, []PredicateSpec) {
	attributes := []AttributeSpec{{
		FieldRef: anoncreds.CredentialFieldReference{FieldName: "name", CredDefID: credDefID},
		Expected: expectedName,
	}}
	predicates := []PredicateSpec{{
		FieldRef: anoncreds.CredentialFieldReference{FieldName: "birthdate", CredDefID: credDefID},
		Value:    19_000_101,
	}}

	return attributes, predicates
}

func TestExchange_PassportScenario(t *testing.T) {
	f := newFixture(t)

	attributes, predicates := passportSpecs(f.credDefID, "Alice")
	handle := f.begin(t, attributes, predicates)

	outcome := f.relay(t, handle)
	require.True(t, outcome.Accepted)
	require.Empty(t, outcome.Reason)

	stored, err := f.verifier.Outcome(handle)
	require.NoError(t, err)
	require.Equal(t, outcome, stored)
}

func TestExchange_ExpectedValueMismatch(t *testing.T) {
	f := newFixture(t)

	// Cryptographically the proof is fine; the business check is not.
	attributes, predicates := passportSpecs(f.credDefID, "Mallory")
	handle := f.begin(t, attributes, predicates)

	outcome := f.relay(t, handle)
	require.False(t, outcome.Accepted)
	require.Equal(t, anoncreds.KindValidation, outcome.Kind)

	report, ok := f.verifierOut.last().(*ProblemReportMessage)
	require.True(t, ok, "rejection is reported back to the prover")
	require.Equal(t, handle.Nonce, report.Nonce)
}

func TestExchange_ProverCannotSatisfy(t *testing.T) {
	f := newFixture(t)

	attributes := []AttributeSpec{{
		FieldRef: anoncreds.CredentialFieldReference{FieldName: "degree"},
	}}
	handle := f.begin(t, attributes, nil)

	request := f.verifierOut.last().(*ProofRequestMessage)

	err := f.prover.HandleProofRequest(context.Background(), issuerDID, request, secretID)
	require.Error(t, err, "build failure surfaces to the prover host")

	report, ok := f.proverOut.last().(*ProblemReportMessage)
	require.True(t, ok, "prover aborts with a problem report")
	require.Equal(t, string(anoncreds.KindCredentialNotFound), report.Code)

	outcome, err := f.verifier.OnProblemReport(context.Background(), handle, report)
	require.NoError(t, err)
	require.False(t, outcome.Accepted)
	require.Equal(t, anoncreds.KindCredentialNotFound, outcome.Kind)
}

func TestExchange_Timeout(t *testing.T) {
	f := newFixture(t)

	attributes, predicates := passportSpecs(f.credDefID, "Alice")
	handle := f.begin(t, attributes, predicates)

	f.clock.Add(DefaultTimeout + time.Second)

	outcome, err := f.verifier.Outcome(handle)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.False(t, outcome.Accepted)
	require.Equal(t, anoncreds.KindTimeout, outcome.Kind)

	t.Run("late presentation keeps the timeout outcome", func(t *testing.T) {
		late := f.relay(t, handle)
		require.Equal(t, anoncreds.KindTimeout, late.Kind)
	})
}

func TestExchange_ReplayedPresentationRejected(t *testing.T) {
	f := newFixture(t)

	attributes, predicates := passportSpecs(f.credDefID, "Alice")

	first := f.begin(t, attributes, predicates)
	outcome := f.relay(t, first)
	require.True(t, outcome.Accepted)

	captured := f.proverOut.last().(*PresentationMessage)

	second := f.begin(t, attributes, predicates)

	replayed, err := f.verifier.OnProofReceived(context.Background(), second, captured)
	require.NoError(t, err)
	require.False(t, replayed.Accepted, "presentation bound to another nonce is rejected")
}

func TestExchange_Cancel(t *testing.T) {
	f := newFixture(t)

	attributes, predicates := passportSpecs(f.credDefID, "Alice")
	handle := f.begin(t, attributes, predicates)

	f.verifier.Cancel(handle)

	_, err := f.verifier.Outcome(handle)
	require.Error(t, err, "cancelled session releases its nonce")
}

func TestDecodeMessage(t *testing.T) {
	t.Run("problem report", func(t *testing.T) {
		decoded, err := DecodeMessage(map[string]interface{}{
			"type":    ProblemReportMsgType,
			"nonce":   "123",
			"code":    "verification",
			"comment": "presentation did not verify",
		})
		require.NoError(t, err)

		report, ok := decoded.(*ProblemReportMessage)
		require.True(t, ok)
		require.Equal(t, "123", report.Nonce)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeMessage(map[string]interface{}{"type": "cordentity/1.0/unknown"})
		require.Error(t, err)
	})
}

func TestExchange_SessionPendingUntilAnswered(t *testing.T) {
	f := newFixture(t)

	attributes, predicates := passportSpecs(f.credDefID, "Alice")
	handle := f.begin(t, attributes, predicates)

	outcome, err := f.verifier.Outcome(handle)
	require.NoError(t, err)
	require.Nil(t, outcome, "session stays pending until the prover answers")
	require.Len(t, f.verifierOut.sent, 1, "only the proof request has gone out")

	resumed := f.relay(t, handle)
	require.True(t, resumed.Accepted)
}
