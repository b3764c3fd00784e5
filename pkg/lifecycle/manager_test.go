/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	clmem "github.com/DevAlexey/cordentity-1/pkg/cl/mem"
	"github.com/DevAlexey/cordentity-1/pkg/ledger"
	"github.com/DevAlexey/cordentity-1/pkg/storage/mem"
	"github.com/DevAlexey/cordentity-1/pkg/store/credential"
)

const (
	issuerDID = "V4SGRU86Z58d6TV7PBUe6f"
	proverDID = "VsKV7grR1BUE29mG2Fm2kX"
	secretID  = "main"
)

type fixture struct {
	issuer *Manager
	prover *Manager
	wallet *credential.Store
	ledger ledger.Service
	clock  *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	l, err := ledger.NewStoreLedger(mem.NewProvider())
	require.NoError(t, err)

	wallet, err := credential.Open(mem.NewProvider())
	require.NoError(t, err)

	clk := clock.NewMock()
	clService := clmem.NewIssuer()
	proverService := clmem.NewProver()

	return &fixture{
		issuer: New(issuerDID, l, clService, proverService, nil, clk),
		prover: New(proverDID, l, clService, proverService, wallet, clk),
		wallet: wallet,
		ledger: l,
		clock:  clk,
	}
}

func (f *fixture) passportCredDef(t *testing.T, revocable bool) anoncreds.CredDefID {
	t.Helper()

	schemaID, err := f.issuer.CreateSchema("passport", "1.0", []string{"name", "age"})
	require.NoError(t, err)

	credDefID, err := f.issuer.CreateCredentialDefinition(schemaID, revocable)
	require.NoError(t, err)

	return credDefID
}

// issue runs the full offer/request/issue/receive exchange.
func (f *fixture) issue(t *testing.T, credDefID anoncreds.CredDefID, revRegID anoncreds.RevRegID,
	values map[string]string) *anoncreds.Credential {
	t.Helper()

	offer, err := f.issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := f.prover.CreateRequest(offer, proverDID, secretID)
	require.NoError(t, err)

	cred, err := f.issuer.IssueCredential(values, request, offer, revRegID)
	require.NoError(t, err)

	require.NoError(t, f.prover.ReceiveCredential(cred, request, secretID))

	return cred
}

func TestManager_CreateSchemaValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name    string
		version string
		attrs   []string
	}{
		{"", "1.0", []string{"a"}},
		{"passport", "1", []string{"a"}},
		{"passport", "one.zero", []string{"a"}},
		{"passport", "1.0", nil},
		{"passport", "1.0", []string{"a", "a"}},
		{"passport", "1.0", []string{""}},
	}

	for _, tc := range cases {
		_, err := f.issuer.CreateSchema(tc.name, tc.version, tc.attrs)

		validation := &anoncreds.ValidationError{}
		require.True(t, errors.As(err, &validation), "name=%q version=%q attrs=%v", tc.name, tc.version, tc.attrs)
	}
}

func TestManager_IssueNonRevocable(t *testing.T) {
	f := newFixture(t)

	credDefID := f.passportCredDef(t, false)

	cred := f.issue(t, credDefID, "", map[string]string{"name": "Alice", "age": "18"})
	require.False(t, cred.Revocable())
	require.Equal(t, "Alice", cred.Values["name"].Raw)

	record, err := f.wallet.FindByFieldRef(
		anoncreds.CredentialFieldReference{FieldName: "name", CredDefID: credDefID}, secretID)
	require.NoError(t, err)
	require.Nil(t, record.RevState)
}

func TestManager_IssueValidation(t *testing.T) {
	f := newFixture(t)

	credDefID := f.passportCredDef(t, false)

	offer, err := f.issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := f.prover.CreateRequest(offer, proverDID, secretID)
	require.NoError(t, err)

	t.Run("missing attribute", func(t *testing.T) {
		_, err := f.issuer.IssueCredential(map[string]string{"name": "Alice"}, request, offer, "")
		require.Error(t, err)
	})

	t.Run("extra attribute", func(t *testing.T) {
		_, err := f.issuer.IssueCredential(
			map[string]string{"name": "Alice", "age": "18", "height": "170"}, request, offer, "")
		require.Error(t, err)
	})
}

func TestManager_RevocationRegistry(t *testing.T) {
	f := newFixture(t)

	credDefID := f.passportCredDef(t, true)

	t.Run("rejects non-positive capacity", func(t *testing.T) {
		_, err := f.issuer.CreateRevocationRegistry(credDefID, 0)
		require.Error(t, err)
	})

	t.Run("rejects non-revocable definition", func(t *testing.T) {
		plain := f.passportCredDef(t, false)

		_, err := f.issuer.CreateRevocationRegistry(plain, 5)
		require.Error(t, err)
	})

	regID, err := f.issuer.CreateRevocationRegistry(credDefID, 5)
	require.NoError(t, err)

	entry, err := f.ledger.FetchLatestEntry(regID)
	require.NoError(t, err)
	require.NotEmpty(t, entry.Accumulator, "registry opens with an initial accumulator entry")

	t.Run("issuance requires a registry", func(t *testing.T) {
		offer, err := f.issuer.CreateOffer(credDefID)
		require.NoError(t, err)

		request, err := f.prover.CreateRequest(offer, proverDID, secretID)
		require.NoError(t, err)

		_, err = f.issuer.IssueCredential(map[string]string{"name": "Alice", "age": "18"}, request, offer, "")
		require.Error(t, err)
	})
}

func TestManager_CapacityBoundary(t *testing.T) {
	f := newFixture(t)

	const capacity = 3

	credDefID := f.passportCredDef(t, true)

	regID, err := f.issuer.CreateRevocationRegistry(credDefID, capacity)
	require.NoError(t, err)

	for i := 1; i <= capacity; i++ {
		f.clock.Add(time.Second)

		cred := f.issue(t, credDefID, regID, map[string]string{
			"name": fmt.Sprintf("holder-%d", i), "age": "18",
		})
		require.Equal(t, i, cred.RevocationIndex)
	}

	offer, err := f.issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := f.prover.CreateRequest(offer, proverDID, secretID)
	require.NoError(t, err)

	_, err = f.issuer.IssueCredential(map[string]string{"name": "late", "age": "18"}, request, offer, regID)

	capErr := &anoncreds.CapacityExceededError{}
	require.True(t, errors.As(err, &capErr))
	require.Equal(t, capacity, capErr.Max)
}

func TestManager_RevokeCredential(t *testing.T) {
	f := newFixture(t)

	credDefID := f.passportCredDef(t, true)

	regID, err := f.issuer.CreateRevocationRegistry(credDefID, 5)
	require.NoError(t, err)

	f.clock.Add(time.Second)

	cred := f.issue(t, credDefID, regID, map[string]string{"name": "Alice", "age": "18"})
	require.Equal(t, regID, cred.RevRegID)

	t.Run("never-issued index", func(t *testing.T) {
		err := f.issuer.RevokeCredential(regID, 4)

		notFound := &anoncreds.NotFoundError{}
		require.True(t, errors.As(err, &notFound))
	})

	f.clock.Add(time.Second)
	require.NoError(t, f.issuer.RevokeCredential(regID, cred.RevocationIndex))

	t.Run("double revocation", func(t *testing.T) {
		err := f.issuer.RevokeCredential(regID, cred.RevocationIndex)

		notFound := &anoncreds.NotFoundError{}
		require.True(t, errors.As(err, &notFound))
	})

	latest, err := f.ledger.FetchLatestEntry(regID)
	require.NoError(t, err)
	require.Equal(t, []int{cred.RevocationIndex}, latest.Revoked)
}

func TestManager_TamperedCredentialRejected(t *testing.T) {
	f := newFixture(t)

	credDefID := f.passportCredDef(t, false)

	offer, err := f.issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := f.prover.CreateRequest(offer, proverDID, secretID)
	require.NoError(t, err)

	cred, err := f.issuer.IssueCredential(map[string]string{"name": "Alice", "age": "18"}, request, offer, "")
	require.NoError(t, err)

	cred.Values["age"] = anoncreds.CredentialValue{Raw: "21", Encoded: "21"}

	err = f.prover.ReceiveCredential(cred, request, secretID)

	verification := &anoncreds.VerificationError{}
	require.True(t, errors.As(err, &verification))
}

func TestManager_OfferAnsweredOnce(t *testing.T) {
	f := newFixture(t)

	credDefID := f.passportCredDef(t, false)

	offer, err := f.issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := f.prover.CreateRequest(offer, proverDID, secretID)
	require.NoError(t, err)

	values := map[string]string{"name": "Alice", "age": "18"}

	_, err = f.issuer.IssueCredential(values, request, offer, "")
	require.NoError(t, err)

	_, err = f.issuer.IssueCredential(values, request, offer, "")

	validation := &anoncreds.ValidationError{}
	require.True(t, errors.As(err, &validation))

	t.Run("failed issuance does not consume the offer", func(t *testing.T) {
		offer, err := f.issuer.CreateOffer(credDefID)
		require.NoError(t, err)

		request, err := f.prover.CreateRequest(offer, proverDID, secretID)
		require.NoError(t, err)

		_, err = f.issuer.IssueCredential(map[string]string{"name": "Alice"}, request, offer, "")
		require.Error(t, err)

		_, err = f.issuer.IssueCredential(values, request, offer, "")
		require.NoError(t, err)
	})
}

func TestManager_RegistryMustMatchDefinition(t *testing.T) {
	f := newFixture(t)

	credDefID := f.passportCredDef(t, true)
	otherDefID := f.passportCredDef(t, true)

	otherRegID, err := f.issuer.CreateRevocationRegistry(otherDefID, 5)
	require.NoError(t, err)

	offer, err := f.issuer.CreateOffer(credDefID)
	require.NoError(t, err)

	request, err := f.prover.CreateRequest(offer, proverDID, secretID)
	require.NoError(t, err)

	_, err = f.issuer.IssueCredential(map[string]string{"name": "Alice", "age": "18"}, request, offer, otherRegID)

	validation := &anoncreds.ValidationError{}
	require.True(t, errors.As(err, &validation))
}
