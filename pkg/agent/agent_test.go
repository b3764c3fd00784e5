/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	clmem "github.com/DevAlexey/cordentity-1/pkg/cl/mem"
	"github.com/DevAlexey/cordentity-1/pkg/exchange"
	"github.com/DevAlexey/cordentity-1/pkg/ledger"
	"github.com/DevAlexey/cordentity-1/pkg/storage/mem"
)

const (
	issuerDID = "V4SGRU86Z58d6TV7PBUe6f"
	proverDID = "VsKV7grR1BUE29mG2Fm2kX"
)

func newAgents(t *testing.T) (issuer, prover *Agent) {
	t.Helper()

	l, err := ledger.NewStoreLedger(mem.NewProvider())
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(time.Unix(1_000, 0))

	issuerService := clmem.NewIssuer()
	proverService := clmem.NewProver()
	verifierService := clmem.NewVerifier()

	issuer, err = New(&Config{
		DID:           issuerDID,
		StoreProvider: mem.NewProvider(),
		Ledger:        l,
		Issuer:        issuerService,
		Prover:        proverService,
		Verifier:      verifierService,
		Clock:         clk,
	})
	require.NoError(t, err)

	prover, err = New(&Config{
		DID:           proverDID,
		StoreProvider: mem.NewProvider(),
		Ledger:        l,
		Issuer:        issuerService,
		Prover:        proverService,
		Verifier:      verifierService,
		Clock:         clk,
	})
	require.NoError(t, err)

	return issuer, prover
}

func TestNew_ConfigValidation(t *testing.T) {
	t.Run("missing fields are listed", func(t *testing.T) {
		_, err := New(&Config{})

		validation := &anoncreds.ValidationError{}
		require.True(t, errors.As(err, &validation))
		require.Contains(t, validation.Msg, "DID")
		require.Contains(t, validation.Msg, "Ledger")
	})

	t.Run("malformed DID", func(t *testing.T) {
		_, err := New(&Config{DID: "0O0O0O"})
		require.Error(t, err)
	})
}

func TestAgent_IssuanceAndVerification(t *testing.T) {
	issuer, prover := newAgents(t)

	schemaID, err := issuer.CreateSchema("passport", "1.0", []string{"name", "birthdate"})
	require.NoError(t, err)

	credDefID, err := issuer.CreateCredentialDefinition(schemaID, false)
	require.NoError(t, err)

	offer, err := issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := prover.CreateRequest(offer)
	require.NoError(t, err)

	cred, err := issuer.IssueCredential(
		map[string]string{"name": "Alice", "birthdate": "19950101"}, request, offer, "")
	require.NoError(t, err)
	require.NoError(t, prover.ReceiveCredential(cred, request))

	t.Run("resolution round-trip", func(t *testing.T) {
		resolved, err := prover.ResolveSchema(anoncreds.SchemaDetails{
			Name: "passport", Version: "1.0", Owner: issuerDID,
		})
		require.NoError(t, err)
		require.Equal(t, schemaID, resolved)

		resolvedDef, err := prover.ResolveCredDef(resolved, issuerDID)
		require.NoError(t, err)
		require.Equal(t, credDefID, resolvedDef)
	})

	req, err := issuer.CreateProofRequest("1.0", "passport-check",
		map[string]anoncreds.RequestedAttribute{
			"attr1_referent": {
				FieldRef: anoncreds.CredentialFieldReference{FieldName: "name", CredDefID: credDefID},
				Revealed: true,
			},
		}, nil, nil)
	require.NoError(t, err)

	p, err := prover.CreateProof(req)
	require.NoError(t, err)

	valid, err := issuer.VerifyProof(req, p)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestAgent_ExchangeServices(t *testing.T) {
	issuer, prover := newAgents(t)

	schemaID, err := issuer.CreateSchema("passport", "1.0", []string{"name"})
	require.NoError(t, err)

	credDefID, err := issuer.CreateCredentialDefinition(schemaID, false)
	require.NoError(t, err)

	offer, err := issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := prover.CreateRequest(offer)
	require.NoError(t, err)

	cred, err := issuer.IssueCredential(map[string]string{"name": "Alice"}, request, offer, "")
	require.NoError(t, err)
	require.NoError(t, prover.ReceiveCredential(cred, request))

	var sent []interface{}

	messenger := messengerFunc(func(msg interface{}) { sent = append(sent, msg) })

	verifier := issuer.VerifierExchange(messenger, 0)
	presenter := prover.ProverExchange(messenger)

	handle, err := verifier.BeginVerification(context.Background(), proverDID,
		[]exchange.AttributeSpec{{
			FieldRef: anoncreds.CredentialFieldReference{FieldName: "name", CredDefID: credDefID},
			Expected: "Alice",
		}}, nil, nil)
	require.NoError(t, err)

	requestMsg := sent[len(sent)-1].(*exchange.ProofRequestMessage)
	require.NoError(t, presenter.HandleProofRequest(context.Background(), issuerDID, requestMsg, DefaultMasterSecretID))

	presentation := sent[len(sent)-1].(*exchange.PresentationMessage)

	outcome, err := verifier.OnProofReceived(context.Background(), handle, presentation)
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
}

func TestAgent_KnownIdentities(t *testing.T) {
	issuer, prover := newAgents(t)

	require.NoError(t, issuer.AddKnownIdentity(&anoncreds.IdentityDetails{
		DID: issuerDID, Alias: "treasury",
	}))

	identities, err := prover.KnownIdentities()
	require.NoError(t, err)
	require.Len(t, identities, 1)
}

type messengerFunc func(msg interface{})

func (f messengerFunc) Send(_ context.Context, _ string, msg interface{}) error {
	f(msg)

	return nil
}
