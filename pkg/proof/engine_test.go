/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proof

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	clmem "github.com/DevAlexey/cordentity-1/pkg/cl/mem"
	"github.com/DevAlexey/cordentity-1/pkg/ledger"
	"github.com/DevAlexey/cordentity-1/pkg/lifecycle"
	"github.com/DevAlexey/cordentity-1/pkg/storage/mem"
	"github.com/DevAlexey/cordentity-1/pkg/store/credential"
)

const (
	issuerDID = "V4SGRU86Z58d6TV7PBUe6f"
	proverDID = "VsKV7grR1BUE29mG2Fm2kX"
	secretID  = "main"
)

type fixture struct {
	engine    *Engine
	issuer    *lifecycle.Manager
	prover    *lifecycle.Manager
	ledger    ledger.Service
	clock     *clock.Mock
	credDefID anoncreds.CredDefID
	regID     anoncreds.RevRegID
}

// newFixture publishes a revocable passport credential definition with a
// five-credential registry and issues one credential to the prover.
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

	f := &fixture{
		engine: NewEngine(l, proverService, clmem.NewVerifier(), wallet),
		issuer: lifecycle.New(issuerDID, l, issuerService, proverService, nil, clk),
		prover: lifecycle.New(proverDID, l, issuerService, proverService, wallet, clk),
		ledger: l,
		clock:  clk,
	}

	schemaID, err := f.issuer.CreateSchema("passport", "1.0", []string{"name", "birthdate"})
	require.NoError(t, err)

	f.credDefID, err = f.issuer.CreateCredentialDefinition(schemaID, true)
	require.NoError(t, err)

	f.regID, err = f.issuer.CreateRevocationRegistry(f.credDefID, 5)
	require.NoError(t, err)

	f.clock.Add(time.Second)
	f.issue(t, map[string]string{"name": "Alice", "birthdate": "19950101"})

	return f
}

func (f *fixture) issue(t *testing.T, values map[string]string) *anoncreds.Credential {
	return f.issueAs(t, secretID, values)
}

// issueAs issues a credential bound to the given master secret. Tests that
// need the registry to evolve past an already-held credential issue the next
// one under a different secret, since the wallet keeps one credential per
// (schema, creddef, secret).
func (f *fixture) issueAs(t *testing.T, masterSecretID string, values map[string]string) *anoncreds.Credential {
	t.Helper()

	offer, err := f.issuer.CreateOffer(f.credDefID)
	require.NoError(t, err)

	request, err := f.prover.CreateRequest(offer, proverDID, masterSecretID)
	require.NoError(t, err)

	cred, err := f.issuer.IssueCredential(values, request, offer, f.regID)
	require.NoError(t, err)

	require.NoError(t, f.prover.ReceiveCredential(cred, request, masterSecretID))

	return cred
}

// passportRequest asks to reveal the name and prove birthdate <= 20080101
// (adulthood as a GE predicate on the numeric date), non-revoked now.
func (f *fixture) passportRequest(t *testing.T) *anoncreds.ProofRequest {
	t.Helper()

	nonce, err := NewNonce()
	require.NoError(t, err)

	req, err := BuildProofRequest("1.0", "passport-check",
		map[string]anoncreds.RequestedAttribute{
			"attr1_referent": {
				FieldRef: anoncreds.CredentialFieldReference{FieldName: "name", CredDefID: f.credDefID},
				Revealed: true,
			},
		},
		map[string]anoncreds.CredentialPredicate{
			"predicate1_referent": {
				FieldRef: anoncreds.CredentialFieldReference{FieldName: "birthdate", CredDefID: f.credDefID},
				Value:    19_000_101,
				PType:    anoncreds.PredicateGE,
			},
		},
		&anoncreds.Interval{To: f.clock.Now().Unix()},
		nonce)
	require.NoError(t, err)

	return req
}

func TestBuildProofRequest_Validation(t *testing.T) {
	attr := map[string]anoncreds.RequestedAttribute{
		"attr1_referent": {FieldRef: anoncreds.CredentialFieldReference{FieldName: "name"}},
	}

	t.Run("empty nonce", func(t *testing.T) {
		_, err := BuildProofRequest("1.0", "x", attr, nil, nil, "")
		require.Error(t, err)
	})

	t.Run("nothing requested", func(t *testing.T) {
		_, err := BuildProofRequest("1.0", "x", nil, nil, nil, "nonce")
		require.Error(t, err)
	})

	t.Run("unsupported predicate type", func(t *testing.T) {
		_, err := BuildProofRequest("1.0", "x", nil, map[string]anoncreds.CredentialPredicate{
			"p": {FieldRef: anoncreds.CredentialFieldReference{FieldName: "a"}, PType: "LE"},
		}, nil, "nonce")
		require.Error(t, err)
	})
}

func TestEngine_ProveAndVerify(t *testing.T) {
	f := newFixture(t)

	req := f.passportRequest(t)

	proof, err := f.engine.CreateProof(req, secretID)
	require.NoError(t, err)
	require.Equal(t, "Alice", proof.RevealedAttributes["attr1_referent"].Raw)

	valid, err := f.engine.VerifyProof(req, proof)
	require.NoError(t, err)
	require.True(t, valid)

	t.Run("verification is idempotent", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			again, err := f.engine.VerifyProof(req, proof)
			require.NoError(t, err)
			require.True(t, again)
		}
	})

	t.Run("nonce anti-replay", func(t *testing.T) {
		replayed := f.passportRequest(t)

		valid, err := f.engine.VerifyProof(replayed, proof)
		require.NoError(t, err)
		require.False(t, valid, "proof built for another nonce must not verify")
	})

	t.Run("tampered revealed value", func(t *testing.T) {
		forged := *proof
		forged.RevealedAttributes = map[string]anoncreds.CredentialValue{
			"attr1_referent": {Raw: "Mallory", Encoded: anoncreds.EncodeRawValue("Mallory")},
		}

		valid, err := f.engine.VerifyProof(req, &forged)
		require.NoError(t, err)
		require.False(t, valid)
	})
}

func TestEngine_PredicateNotSatisfiable(t *testing.T) {
	f := newFixture(t)

	nonce, err := NewNonce()
	require.NoError(t, err)

	req, err := BuildProofRequest("1.0", "strict-check", nil,
		map[string]anoncreds.CredentialPredicate{
			"predicate1_referent": {
				FieldRef: anoncreds.CredentialFieldReference{FieldName: "birthdate", CredDefID: f.credDefID},
				Value:    20_000_101,
				PType:    anoncreds.PredicateGE,
			},
		}, nil, nonce)
	require.NoError(t, err)

	_, err = f.engine.CreateProof(req, secretID)

	validation := &anoncreds.ValidationError{}
	require.True(t, errors.As(err, &validation), "prover refuses to build an unsatisfiable proof")
}

func TestEngine_MissingCredential(t *testing.T) {
	f := newFixture(t)

	nonce, err := NewNonce()
	require.NoError(t, err)

	req, err := BuildProofRequest("1.0", "degree-check",
		map[string]anoncreds.RequestedAttribute{
			"attr1_referent": {FieldRef: anoncreds.CredentialFieldReference{FieldName: "degree"}, Revealed: true},
		}, nil, nil, nonce)
	require.NoError(t, err)

	_, err = f.engine.CreateProof(req, secretID)

	notFound := &anoncreds.CredentialNotFoundError{}
	require.True(t, errors.As(err, &notFound))
}

func TestEngine_RevocationFlipsVerdict(t *testing.T) {
	f := newFixture(t)

	req := f.passportRequest(t)

	proof, err := f.engine.CreateProof(req, secretID)
	require.NoError(t, err)

	valid, err := f.engine.VerifyProof(req, proof)
	require.NoError(t, err)
	require.True(t, valid)

	f.clock.Add(time.Second)
	require.NoError(t, f.issuer.RevokeCredential(f.regID, 1))

	// A fresh request whose interval covers the revocation.
	afterRevocation := f.passportRequest(t)

	refreshed, err := f.engine.CreateProof(afterRevocation, secretID)
	require.NoError(t, err)

	valid, err = f.engine.VerifyProof(afterRevocation, refreshed)
	require.NoError(t, err)
	require.False(t, valid, "conjunctive verdict: predicate holds but revocation fails")
}

func TestEngine_WitnessRefresh(t *testing.T) {
	f := newFixture(t)

	// Registry evolves after issuance, leaving the stored witness stale.
	f.clock.Add(time.Second)
	f.issueAs(t, "other", map[string]string{"name": "Bob", "birthdate": "19900101"})

	f.clock.Add(time.Second)

	req := f.passportRequest(t)

	proof, err := f.engine.CreateProof(req, secretID)
	require.NoError(t, err)

	valid, err := f.engine.VerifyProof(req, proof)
	require.NoError(t, err)
	require.True(t, valid, "witness is replayed forward before proving")
}

func TestEngine_PrunedHistory(t *testing.T) {
	f := newFixture(t)

	f.clock.Add(time.Second)
	f.issueAs(t, "other", map[string]string{"name": "Bob", "birthdate": "19900101"})

	require.NoError(t, f.ledger.Prune(f.regID, f.clock.Now().Unix()))

	f.clock.Add(time.Second)

	req := f.passportRequest(t)

	_, err := f.engine.CreateProof(req, secretID)

	unavailable := &anoncreds.WitnessUnavailableError{}
	require.True(t, errors.As(err, &unavailable))
}
