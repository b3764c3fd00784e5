/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cl defines the CL anonymous-credential capability interfaces the
// protocol components are written against. Backends provide the actual
// cryptography: the ursa package binds to libursa, the mem package is an
// in-memory implementation for development and tests.
package cl

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
)

// RevocationContext carries the accumulator state a revocable issuance or
// revocation operates on.
type RevocationContext struct {
	Definition  *anoncreds.RevocationRegistryDefinition
	Accumulator []byte
	Index       int
}

// RevocationStatus is the verifier-side view of one registry at a chosen
// timestamp: the accumulator value and the set of indices revoked up to then.
type RevocationStatus struct {
	Accumulator []byte
	Timestamp   int64
	Revoked     []int
}

// PublicData is the ledger-resolved material a proof is verified against.
type PublicData struct {
	Schemas   map[anoncreds.SchemaID]*anoncreds.Schema
	CredDefs  map[anoncreds.CredDefID]*anoncreds.CredentialDefinition
	RevRegs   map[anoncreds.RevRegID]*anoncreds.RevocationRegistryDefinition
	RevStatus map[anoncreds.RevRegID]*RevocationStatus
}

// CredentialMatch pairs a credential with the proof request referents it
// serves and, for revocable credentials, the prover's revocation state.
type CredentialMatch struct {
	Credential         *anoncreds.Credential
	CredDefPublicKey   []byte
	AttributeReferents []string
	PredicateReferents []string
	RevState           *anoncreds.RevocationState
}

// IssuerService is the issuer side of the CL credential primitives.
type IssuerService interface {
	// CreateCredentialDefinition generates credential definition key material
	// for the schema's attributes.
	CreateCredentialDefinition(schema *anoncreds.Schema, supportsRevocation bool) (publicKey, keyCorrectnessProof []byte, err error)

	// OfferCredential produces a fresh credential offer for the definition.
	OfferCredential(credDef *anoncreds.CredentialDefinition) (*anoncreds.CredentialOffer, error)

	// CreateRevocationRegistry generates accumulator public parameters and the
	// initial accumulator value for up to maxCredNum credentials.
	CreateRevocationRegistry(credDef *anoncreds.CredentialDefinition, maxCredNum int) (publicParams, initialAccumulator []byte, err error)

	// IssueCredential signs the proposal against the blinded master secret in
	// the request. With a revocation context it also advances the accumulator
	// and returns its new value; otherwise newAccumulator is nil.
	IssueCredential(proposal anoncreds.CredentialProposal, request *anoncreds.CredentialRequest,
		offer *anoncreds.CredentialOffer, credDef *anoncreds.CredentialDefinition,
		rev *RevocationContext) (cred *anoncreds.Credential, newAccumulator []byte, err error)

	// RevokeCredential removes the index from the accumulator and returns the
	// new accumulator value. Irreversible.
	RevokeCredential(rev *RevocationContext) (newAccumulator []byte, err error)
}

// ProverService is the prover side of the CL credential primitives. Master
// secrets live inside the backend and never leave it; callers address them by
// id only.
type ProverService interface {
	// CreateMasterSecret ensures a master secret exists under the given id.
	CreateMasterSecret(masterSecretID string) error

	// RequestCredential blinds the master secret against the offer, producing
	// a credential request bound to the prover DID.
	RequestCredential(offer *anoncreds.CredentialOffer, credDefPub []byte,
		proverDID, masterSecretID string) (*anoncreds.CredentialRequest, error)

	// ProcessCredential checks the issued credential's signature against the
	// credential definition public key and the original request. Returns a
	// VerificationError when the signature does not verify.
	ProcessCredential(cred *anoncreds.Credential, request *anoncreds.CredentialRequest, credDefPub []byte) error

	// CreateRevocationState derives witness material for the credential's
	// registry index from the given accumulator entry.
	CreateRevocationState(regDef *anoncreds.RevocationRegistryDefinition,
		entry *anoncreds.RevocationRegistryEntry, index int) (*anoncreds.RevocationState, error)

	// UpdateRevocationState replays registry entries to bring a stale witness
	// up to the last of the deltas.
	UpdateRevocationState(state *anoncreds.RevocationState, regDef *anoncreds.RevocationRegistryDefinition,
		deltas []*anoncreds.RevocationRegistryEntry) (*anoncreds.RevocationState, error)

	// CreateProof builds the cryptographic proof for the request out of the
	// matched credentials.
	CreateProof(req *anoncreds.ProofRequest, matches []*CredentialMatch, masterSecretID string) (*anoncreds.Proof, error)
}

// VerifierService is the verifier side of the CL credential primitives.
type VerifierService interface {
	// VerifyProof checks the proof against the request and the
	// ledger-resolved public data. A nil return means the proof is
	// cryptographically valid; a VerificationError means it is not. Any other
	// error means the comparison could not be performed at all.
	VerifyProof(req *anoncreds.ProofRequest, proof *anoncreds.Proof, pub *PublicData) error
}

const nonceBits = 80

// NewNonce produces an 80-bit decimal nonce, the form indy proof-request and
// offer nonces take. Generation is mandatory per request; there is no default.
func NewNonce() (string, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), nonceBits)

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	return n.String(), nil
}
