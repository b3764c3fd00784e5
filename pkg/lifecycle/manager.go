/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package lifecycle drives the credential lifecycle: schema and credential
// definition publication, revocation registry provisioning, the
// offer/request/issue exchange, and revocation.
package lifecycle

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/cl"
	"github.com/DevAlexey/cordentity-1/pkg/common/log"
	"github.com/DevAlexey/cordentity-1/pkg/ledger"
	"github.com/DevAlexey/cordentity-1/pkg/store/credential"
)

var logger = log.New("cordentity/lifecycle")

// Manager coordinates issuer and prover lifecycle operations against the
// ledger. Issuance and revocation on the same registry are serialized;
// distinct registries proceed independently.
type Manager struct {
	did    string
	ledger ledger.Service
	issuer cl.IssuerService
	prover cl.ProverService
	wallet *credential.Store
	clock  clock.Clock

	mu         sync.Mutex // guards registries
	registries map[anoncreds.RevRegID]*registryState

	offersMu      sync.Mutex // guards settledOffers
	settledOffers map[string]bool
}

// registryState is the issuer's in-process bookkeeping for one registry.
// Indices are 1-based; nextIndex is the index the next issuance will take.
type registryState struct {
	mu        sync.Mutex
	nextIndex int
	revoked   map[int]bool
	max       int
}

// New returns a lifecycle manager acting as the given DID.
func New(did string, l ledger.Service, issuer cl.IssuerService, prover cl.ProverService,
	wallet *credential.Store, clk clock.Clock) *Manager {
	return &Manager{
		did:           did,
		ledger:        l,
		issuer:        issuer,
		prover:        prover,
		wallet:        wallet,
		clock:         clk,
		registries:    make(map[anoncreds.RevRegID]*registryState),
		settledOffers: make(map[string]bool),
	}
}

// CreateSchema publishes a new schema and returns its identifier.
func (m *Manager) CreateSchema(name, version string, attrNames []string) (anoncreds.SchemaID, error) {
	if name == "" {
		return "", anoncreds.NewValidationError("schema name is empty")
	}

	if err := anoncreds.ValidateVersion(version); err != nil {
		return "", err
	}

	if len(attrNames) == 0 {
		return "", anoncreds.NewValidationError("schema %q has no attributes", name)
	}

	seen := make(map[string]bool, len(attrNames))

	for _, attr := range attrNames {
		if attr == "" {
			return "", anoncreds.NewValidationError("schema %q has an empty attribute name", name)
		}

		if seen[attr] {
			return "", anoncreds.NewValidationError("schema %q repeats attribute %q", name, attr)
		}

		seen[attr] = true
	}

	return m.ledger.PublishSchema(&anoncreds.Schema{
		Name:      name,
		Version:   version,
		AttrNames: attrNames,
		IssuerDID: m.did,
	})
}

// CreateCredentialDefinition generates definition key material for the schema
// and publishes the definition.
func (m *Manager) CreateCredentialDefinition(schemaID anoncreds.SchemaID,
	supportsRevocation bool) (anoncreds.CredDefID, error) {
	schema, err := m.ledger.FetchSchema(schemaID)
	if err != nil {
		return "", err
	}

	publicKey, correctnessProof, err := m.issuer.CreateCredentialDefinition(schema, supportsRevocation)
	if err != nil {
		return "", err
	}

	return m.ledger.PublishCredDef(&anoncreds.CredentialDefinition{
		SchemaID:            schemaID,
		IssuerDID:           m.did,
		SupportsRevocation:  supportsRevocation,
		PublicKey:           publicKey,
		KeyCorrectnessProof: correctnessProof,
	})
}

// CreateRevocationRegistry provisions a registry for the credential definition
// and publishes its definition and initial accumulator entry.
func (m *Manager) CreateRevocationRegistry(credDefID anoncreds.CredDefID,
	maxCredentialCount int) (anoncreds.RevRegID, error) {
	if maxCredentialCount <= 0 {
		return "", anoncreds.NewValidationError(
			"revocation registry capacity must be positive, got %d", maxCredentialCount)
	}

	credDef, err := m.ledger.FetchCredDef(credDefID)
	if err != nil {
		return "", err
	}

	if !credDef.SupportsRevocation {
		return "", anoncreds.NewValidationError(
			"credential definition %s does not support revocation", credDefID)
	}

	publicParams, initialAccumulator, err := m.issuer.CreateRevocationRegistry(credDef, maxCredentialCount)
	if err != nil {
		return "", err
	}

	regID, err := m.ledger.PublishRevRegDef(&anoncreds.RevocationRegistryDefinition{
		CredDefID:          credDefID,
		MaxCredentialCount: maxCredentialCount,
		PublicParams:       publicParams,
	})
	if err != nil {
		return "", err
	}

	err = m.ledger.PublishRevRegEntry(&anoncreds.RevocationRegistryEntry{
		RevRegID:    regID,
		Accumulator: initialAccumulator,
		Timestamp:   m.clock.Now().Unix(),
	})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.registries[regID] = &registryState{nextIndex: 1, revoked: map[int]bool{}, max: maxCredentialCount}
	m.mu.Unlock()

	return regID, nil
}

// CreateOffer produces a credential offer for the definition.
func (m *Manager) CreateOffer(credDefID anoncreds.CredDefID) (*anoncreds.CredentialOffer, error) {
	credDef, err := m.ledger.FetchCredDef(credDefID)
	if err != nil {
		return nil, err
	}

	return m.issuer.OfferCredential(credDef)
}

// CreateRequest answers an offer on the prover side, blinding the master
// secret identified by masterSecretID. The secret is created on first use.
func (m *Manager) CreateRequest(offer *anoncreds.CredentialOffer, proverDID,
	masterSecretID string) (*anoncreds.CredentialRequest, error) {
	if masterSecretID == "" {
		return nil, anoncreds.NewValidationError("master secret id is empty")
	}

	credDef, err := m.ledger.FetchCredDef(offer.CredDefID)
	if err != nil {
		return nil, err
	}

	if err := m.prover.CreateMasterSecret(masterSecretID); err != nil {
		return nil, err
	}

	return m.prover.RequestCredential(offer, credDef.PublicKey, proverDID, masterSecretID)
}

// IssueCredential signs the attribute values into a credential answering the
// request. An offer is consumed by successful issuance; answering it a second
// time fails with ValidationError. For a revocation-supporting definition,
// revRegID names the registry the credential is issued into; issuance takes
// the registry's next free index and appends the advanced accumulator to the
// ledger.
func (m *Manager) IssueCredential(values map[string]string, request *anoncreds.CredentialRequest,
	offer *anoncreds.CredentialOffer, revRegID anoncreds.RevRegID) (*anoncreds.Credential, error) {
	if offer == nil || offer.Nonce == "" {
		return nil, anoncreds.NewValidationError("credential offer carries no nonce")
	}

	if err := m.settleOffer(offer.Nonce); err != nil {
		return nil, err
	}

	cred, err := m.issueCredential(values, request, offer, revRegID)
	if err != nil {
		m.releaseOffer(offer.Nonce)

		return nil, err
	}

	return cred, nil
}

func (m *Manager) issueCredential(values map[string]string, request *anoncreds.CredentialRequest,
	offer *anoncreds.CredentialOffer, revRegID anoncreds.RevRegID) (*anoncreds.Credential, error) {
	credDef, err := m.ledger.FetchCredDef(offer.CredDefID)
	if err != nil {
		return nil, err
	}

	schema, err := m.ledger.FetchSchema(credDef.SchemaID)
	if err != nil {
		return nil, err
	}

	if err := checkAttributeCoverage(schema, values); err != nil {
		return nil, err
	}

	proposal := anoncreds.EncodeValues(values)

	if !credDef.SupportsRevocation {
		cred, _, err := m.issuer.IssueCredential(proposal, request, offer, credDef, nil)

		return cred, err
	}

	if revRegID == "" {
		return nil, anoncreds.NewValidationError(
			"credential definition %s requires a revocation registry", credDef.ID)
	}

	regDef, err := m.ledger.FetchRevRegDef(revRegID)
	if err != nil {
		return nil, err
	}

	if regDef.CredDefID != credDef.ID {
		return nil, anoncreds.NewValidationError(
			"revocation registry %s belongs to credential definition %s, not %s",
			revRegID, regDef.CredDefID, credDef.ID)
	}

	state, err := m.loadRegistryState(regDef)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.nextIndex > state.max {
		return nil, &anoncreds.CapacityExceededError{RevRegID: revRegID, Max: state.max}
	}

	latest, err := m.ledger.FetchLatestEntry(revRegID)
	if err != nil {
		return nil, err
	}

	index := state.nextIndex

	cred, newAccumulator, err := m.issuer.IssueCredential(proposal, request, offer, credDef,
		&cl.RevocationContext{Definition: regDef, Accumulator: latest.Accumulator, Index: index})
	if err != nil {
		return nil, err
	}

	err = m.ledger.PublishRevRegEntry(&anoncreds.RevocationRegistryEntry{
		RevRegID:    revRegID,
		Accumulator: newAccumulator,
		Timestamp:   m.clock.Now().Unix(),
		Issued:      []int{index},
	})
	if err != nil {
		return nil, err
	}

	state.nextIndex++

	logger.Debugf("issued credential %d/%d in registry %s", index, state.max, revRegID)

	return cred, nil
}

// ReceiveCredential finishes issuance on the prover side: it checks the
// credential's signature, derives the initial revocation state for revocable
// credentials, and stores the result in the wallet.
func (m *Manager) ReceiveCredential(cred *anoncreds.Credential, request *anoncreds.CredentialRequest,
	masterSecretID string) error {
	credDef, err := m.ledger.FetchCredDef(cred.CredDefID)
	if err != nil {
		return err
	}

	if err := m.prover.ProcessCredential(cred, request, credDef.PublicKey); err != nil {
		return err
	}

	record := &credential.Record{Credential: cred, MasterSecretID: masterSecretID}

	if cred.Revocable() {
		regDef, err := m.ledger.FetchRevRegDef(cred.RevRegID)
		if err != nil {
			return err
		}

		entry, err := m.ledger.FetchLatestEntry(cred.RevRegID)
		if err != nil {
			return err
		}

		record.RevState, err = m.prover.CreateRevocationState(regDef, entry, cred.RevocationIndex)
		if err != nil {
			return err
		}
	}

	return m.wallet.Save(record)
}

// RevokeCredential removes the index from the registry's accumulator.
// Irreversible. Revoking an index that was never issued, or one already
// revoked, fails with NotFoundError.
func (m *Manager) RevokeCredential(revRegID anoncreds.RevRegID, index int) error {
	regDef, err := m.ledger.FetchRevRegDef(revRegID)
	if err != nil {
		return err
	}

	state, err := m.loadRegistryState(regDef)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if index < 1 || index >= state.nextIndex {
		return &anoncreds.NotFoundError{What: "issued credential at registry index"}
	}

	if state.revoked[index] {
		return &anoncreds.NotFoundError{What: "unrevoked credential at registry index"}
	}

	latest, err := m.ledger.FetchLatestEntry(revRegID)
	if err != nil {
		return err
	}

	newAccumulator, err := m.issuer.RevokeCredential(
		&cl.RevocationContext{Definition: regDef, Accumulator: latest.Accumulator, Index: index})
	if err != nil {
		return err
	}

	err = m.ledger.PublishRevRegEntry(&anoncreds.RevocationRegistryEntry{
		RevRegID:    revRegID,
		Accumulator: newAccumulator,
		Timestamp:   m.clock.Now().Unix(),
		Revoked:     []int{index},
	})
	if err != nil {
		return err
	}

	state.revoked[index] = true

	logger.Debugf("revoked index %d in registry %s", index, revRegID)

	return nil
}

// settleOffer marks the offer nonce as answered. A nonce settles at most once.
func (m *Manager) settleOffer(nonce string) error {
	m.offersMu.Lock()
	defer m.offersMu.Unlock()

	if m.settledOffers[nonce] {
		return anoncreds.NewValidationError("credential offer %s was already answered", nonce)
	}

	m.settledOffers[nonce] = true

	return nil
}

// releaseOffer returns the nonce to the pool after a failed issuance.
func (m *Manager) releaseOffer(nonce string) {
	m.offersMu.Lock()
	delete(m.settledOffers, nonce)
	m.offersMu.Unlock()
}

// loadRegistryState returns the bookkeeping for a registry, rebuilding it from
// the ledger's entry history when this process did not create the registry.
func (m *Manager) loadRegistryState(regDef *anoncreds.RevocationRegistryDefinition) (*registryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.registries[regDef.ID]; ok {
		return state, nil
	}

	latest, err := m.ledger.FetchLatestEntry(regDef.ID)
	if err != nil {
		return nil, err
	}

	entries, err := m.ledger.FetchDelta(regDef.ID, 0, latest.Timestamp)
	if err != nil {
		return nil, err
	}

	state := &registryState{nextIndex: 1, revoked: map[int]bool{}, max: regDef.MaxCredentialCount}

	for _, entry := range entries {
		for _, index := range entry.Issued {
			if index >= state.nextIndex {
				state.nextIndex = index + 1
			}
		}

		for _, index := range entry.Revoked {
			state.revoked[index] = true
		}
	}

	m.registries[regDef.ID] = state

	return state, nil
}

func checkAttributeCoverage(schema *anoncreds.Schema, values map[string]string) error {
	if len(values) != len(schema.AttrNames) {
		return anoncreds.NewValidationError(
			"values cover %d attributes, schema %s declares %d",
			len(values), schema.ID, len(schema.AttrNames))
	}

	for _, attr := range schema.AttrNames {
		if _, ok := values[attr]; !ok {
			return anoncreds.NewValidationError(
				"missing value for schema attribute %q", attr)
		}
	}

	return nil
}
