/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package agent assembles the credential stack behind a single facade: one
// Agent owns the registry, the wallet, the lifecycle manager and the proof
// engine for a DID, and hands out exchange services on top of them.
package agent

import (
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/cl"
	"github.com/DevAlexey/cordentity-1/pkg/exchange"
	"github.com/DevAlexey/cordentity-1/pkg/ledger"
	"github.com/DevAlexey/cordentity-1/pkg/lifecycle"
	"github.com/DevAlexey/cordentity-1/pkg/proof"
	"github.com/DevAlexey/cordentity-1/pkg/registry"
	"github.com/DevAlexey/cordentity-1/pkg/store/credential"
	"github.com/DevAlexey/cordentity-1/spi/storage"
)

// DefaultMasterSecretID is the master secret an agent uses when the caller
// does not name one.
const DefaultMasterSecretID = "main"

// Config collects an agent's dependencies. DID, StoreProvider, Ledger and the
// three CL services are required; a nil Clock falls back to the wall clock.
type Config struct {
	DID           string
	StoreProvider storage.Provider
	Ledger        ledger.Service
	Issuer        cl.IssuerService
	Prover        cl.ProverService
	Verifier      cl.VerifierService
	Clock         clock.Clock
}

func (c *Config) validate() error {
	var missing []string

	if c.DID == "" {
		missing = append(missing, "DID")
	} else if err := anoncreds.ValidateDID(c.DID); err != nil {
		return err
	}

	if c.StoreProvider == nil {
		missing = append(missing, "StoreProvider")
	}

	if c.Ledger == nil {
		missing = append(missing, "Ledger")
	}

	if c.Issuer == nil {
		missing = append(missing, "Issuer")
	}

	if c.Prover == nil {
		missing = append(missing, "Prover")
	}

	if c.Verifier == nil {
		missing = append(missing, "Verifier")
	}

	if len(missing) > 0 {
		return anoncreds.NewValidationError("agent config misses %s", strings.Join(missing, ", "))
	}

	return nil
}

// Agent is the per-DID facade over the credential stack.
type Agent struct {
	did       string
	ledger    ledger.Service
	registry  *registry.Registry
	wallet    *credential.Store
	lifecycle *lifecycle.Manager
	engine    *proof.Engine
	clock     clock.Clock
}

// New validates the config and wires the agent.
func New(cfg *Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	wallet, err := credential.Open(cfg.StoreProvider)
	if err != nil {
		return nil, err
	}

	return &Agent{
		did:       cfg.DID,
		ledger:    cfg.Ledger,
		registry:  registry.New(cfg.Ledger),
		wallet:    wallet,
		lifecycle: lifecycle.New(cfg.DID, cfg.Ledger, cfg.Issuer, cfg.Prover, wallet, clk),
		engine:    proof.NewEngine(cfg.Ledger, cfg.Prover, cfg.Verifier, wallet),
		clock:     clk,
	}, nil
}

// DID returns the identity the agent acts as.
func (a *Agent) DID() string { return a.did }

// CreateSchema publishes a schema in the agent's name.
func (a *Agent) CreateSchema(name, version string, attrNames []string) (anoncreds.SchemaID, error) {
	return a.lifecycle.CreateSchema(name, version, attrNames)
}

// CreateCredentialDefinition publishes definition key material for the schema.
func (a *Agent) CreateCredentialDefinition(schemaID anoncreds.SchemaID,
	supportsRevocation bool) (anoncreds.CredDefID, error) {
	return a.lifecycle.CreateCredentialDefinition(schemaID, supportsRevocation)
}

// CreateRevocationRegistry provisions a registry for the definition.
func (a *Agent) CreateRevocationRegistry(credDefID anoncreds.CredDefID,
	maxCredentialCount int) (anoncreds.RevRegID, error) {
	return a.lifecycle.CreateRevocationRegistry(credDefID, maxCredentialCount)
}

// CreateOffer opens issuance of a credential of the given definition.
func (a *Agent) CreateOffer(credDefID anoncreds.CredDefID) (*anoncreds.CredentialOffer, error) {
	return a.lifecycle.CreateOffer(credDefID)
}

// CreateRequest answers an offer using the default master secret.
func (a *Agent) CreateRequest(offer *anoncreds.CredentialOffer) (*anoncreds.CredentialRequest, error) {
	return a.lifecycle.CreateRequest(offer, a.did, DefaultMasterSecretID)
}

// IssueCredential signs the values into a credential answering the request.
func (a *Agent) IssueCredential(values map[string]string, request *anoncreds.CredentialRequest,
	offer *anoncreds.CredentialOffer, revRegID anoncreds.RevRegID) (*anoncreds.Credential, error) {
	return a.lifecycle.IssueCredential(values, request, offer, revRegID)
}

// ReceiveCredential checks and stores an issued credential under the default
// master secret.
func (a *Agent) ReceiveCredential(cred *anoncreds.Credential,
	request *anoncreds.CredentialRequest) error {
	return a.lifecycle.ReceiveCredential(cred, request, DefaultMasterSecretID)
}

// RevokeCredential revokes the registry index. Irreversible.
func (a *Agent) RevokeCredential(revRegID anoncreds.RevRegID, index int) error {
	return a.lifecycle.RevokeCredential(revRegID, index)
}

// ResolveSchema resolves schema details to a ledger identifier.
func (a *Agent) ResolveSchema(details anoncreds.SchemaDetails) (anoncreds.SchemaID, error) {
	return a.registry.ResolveSchema(details)
}

// ResolveCredDef resolves the credential definition published for the schema.
func (a *Agent) ResolveCredDef(schemaID anoncreds.SchemaID, owner string) (anoncreds.CredDefID, error) {
	return a.registry.ResolveCredDef(schemaID, owner)
}

// CreateProofRequest assembles a proof request with a fresh nonce.
func (a *Agent) CreateProofRequest(version, name string,
	attributes map[string]anoncreds.RequestedAttribute,
	predicates map[string]anoncreds.CredentialPredicate,
	nonRevoked *anoncreds.Interval) (*anoncreds.ProofRequest, error) {
	nonce, err := proof.NewNonce()
	if err != nil {
		return nil, err
	}

	return proof.BuildProofRequest(version, name, attributes, predicates, nonRevoked, nonce)
}

// CreateProof satisfies the request out of the agent's wallet.
func (a *Agent) CreateProof(req *anoncreds.ProofRequest) (*anoncreds.Proof, error) {
	return a.engine.CreateProof(req, DefaultMasterSecretID)
}

// VerifyProof checks the proof against the request and the ledger.
func (a *Agent) VerifyProof(req *anoncreds.ProofRequest, p *anoncreds.Proof) (bool, error) {
	return a.engine.VerifyProof(req, p)
}

// AddKnownIdentity publishes an identity record to the ledger.
func (a *Agent) AddKnownIdentity(identity *anoncreds.IdentityDetails) error {
	return a.registry.AddKnownIdentity(identity)
}

// KnownIdentities lists the identity records published to the ledger.
func (a *Agent) KnownIdentities() ([]*anoncreds.IdentityDetails, error) {
	return a.registry.KnownIdentities()
}

// VerifierExchange returns a verifier-role exchange service over the agent's
// proof engine.
func (a *Agent) VerifierExchange(messenger exchange.Messenger,
	timeout time.Duration) *exchange.Verifier {
	return exchange.NewVerifier(a.engine, messenger, a.clock, timeout)
}

// ProverExchange returns a prover-role exchange service over the agent's
// proof engine and wallet.
func (a *Agent) ProverExchange(messenger exchange.Messenger) *exchange.Prover {
	return exchange.NewProver(a.engine, messenger)
}
