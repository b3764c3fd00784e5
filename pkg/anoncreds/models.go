/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package anoncreds holds the data model of the credential exchange core:
// schemas, credential definitions, revocation registries, credential
// offers/requests/credentials, proof requests and proofs, together with the
// identifier scheme and the error taxonomy shared by all components.
package anoncreds

import (
	"golang.org/x/exp/slices"
)

// Schema is a named, versioned set of attribute names defining a credential's
// shape. Immutable once published.
type Schema struct {
	ID        SchemaID `json:"id,omitempty"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	AttrNames []string `json:"attrNames"`
	IssuerDID string   `json:"issuerDid,omitempty"`
}

// ContainsAttr reports whether the schema defines the given attribute name.
func (s *Schema) ContainsAttr(name string) bool {
	return slices.Contains(s.AttrNames, name)
}

// CredentialDefinition is issuer-specific public key material binding to
// exactly one schema. Immutable once published.
type CredentialDefinition struct {
	ID                  CredDefID `json:"id,omitempty"`
	SchemaID            SchemaID  `json:"schemaId"`
	IssuerDID           string    `json:"issuerDid"`
	SupportsRevocation  bool      `json:"supportsRevocation"`
	PublicKey           []byte    `json:"publicKey"`
	KeyCorrectnessProof []byte    `json:"keyCorrectnessProof"`
}

// RevocationRegistryDefinition declares a cryptographic accumulator tracking
// which credentials issued against a credential definition remain valid.
type RevocationRegistryDefinition struct {
	ID                 RevRegID  `json:"id,omitempty"`
	CredDefID          CredDefID `json:"credDefId"`
	MaxCredentialCount int       `json:"maxCredNum"`
	PublicParams       []byte    `json:"publicParams"`
}

// RevocationRegistryEntry is one element of a registry's monotonically
// evolving accumulator sequence. Issued and Revoked carry the registry
// indices that changed state in this entry, delta style; the full history
// stays queryable for interval proofs against past timestamps.
type RevocationRegistryEntry struct {
	RevRegID    RevRegID `json:"revRegId"`
	Accumulator []byte   `json:"accum"`
	Timestamp   int64    `json:"timestamp"`
	Issued      []int    `json:"issued,omitempty"`
	Revoked     []int    `json:"revoked,omitempty"`
}

// CredentialOffer is ephemeral: produced by an issuer and consumed once by a
// prover to build a CredentialRequest.
type CredentialOffer struct {
	CredDefID           CredDefID `json:"credDefId"`
	KeyCorrectnessProof []byte    `json:"keyCorrectnessProof"`
	Nonce               string    `json:"nonce"`
}

// CredentialRequest binds a prover's master secret to a future credential
// without the issuer learning it. The master secret itself never leaves the
// prover's crypto backend; only the blinded form travels.
type CredentialRequest struct {
	ProverDID           string    `json:"proverDid"`
	CredDefID           CredDefID `json:"credDefId"`
	BlindedMasterSecret []byte    `json:"blindedMs"`
	BlindedMsProof      []byte    `json:"blindedMsProof,omitempty"`
	MasterSecretID      string    `json:"masterSecretId"`
	Nonce               string    `json:"nonce"`
}

// CredentialValue pairs an attribute's raw value with its integer encoding
// used inside the CL signature.
type CredentialValue struct {
	Raw     string `json:"raw"`
	Encoded string `json:"encoded"`
}

// CredentialProposal maps attribute names to the values an issuer intends to
// sign.
type CredentialProposal map[string]CredentialValue

// Credential is owned privately by the prover after issuance and is never
// written to the public ledger.
type Credential struct {
	SchemaID        SchemaID                   `json:"schemaId"`
	CredDefID       CredDefID                  `json:"credDefId"`
	RevRegID        RevRegID                   `json:"revRegId,omitempty"`
	RevocationIndex int                        `json:"revocationIndex,omitempty"`
	Values          map[string]CredentialValue `json:"values"`
	Signature       []byte                     `json:"signature"`
	SignatureProof  []byte                     `json:"signatureProof,omitempty"`
}

// Revocable reports whether the credential was issued against a revocation
// registry.
func (c *Credential) Revocable() bool {
	return c.RevRegID != ""
}

// CredentialFieldReference identifies exactly one attribute of one credential
// definition, the addressing unit used throughout proof construction.
type CredentialFieldReference struct {
	FieldName string    `json:"fieldName"`
	SchemaID  SchemaID  `json:"schemaId"`
	CredDefID CredDefID `json:"credDefId"`
}

// PredicateGE is the only supported predicate type: attribute >= value.
const PredicateGE = "GE"

// CredentialPredicate is a provable numeric inequality over one credential
// attribute, satisfiable without revealing the exact attribute value.
type CredentialPredicate struct {
	FieldRef CredentialFieldReference `json:"fieldRef"`
	Value    int64                    `json:"value"`
	PType    string                   `json:"pType"`
}

// Interval is a non-revocation timestamp range. From may be zero for an
// open start.
type Interval struct {
	From int64 `json:"from,omitempty"`
	To   int64 `json:"to"`
}

// Contains reports whether ts falls within the interval. A zero To leaves the
// interval open-ended.
func (i Interval) Contains(ts int64) bool {
	return ts >= i.From && (i.To == 0 || ts <= i.To)
}

// RequestedAttribute is a proof request item: one field reference with a
// revealed/unrevealed flag.
type RequestedAttribute struct {
	FieldRef CredentialFieldReference `json:"fieldRef"`
	Revealed bool                     `json:"revealed"`
}

// ProofRequest is a verifier's specification of attributes to reveal and
// predicates/non-revocation to prove. The nonce is unique per session to
// prevent replay.
type ProofRequest struct {
	Version    string                         `json:"version"`
	Name       string                         `json:"name"`
	Nonce      string                         `json:"nonce"`
	Attributes map[string]RequestedAttribute  `json:"requestedAttributes"`
	Predicates map[string]CredentialPredicate `json:"requestedPredicates"`
	NonRevoked *Interval                      `json:"nonRevoked,omitempty"`
}

// SubProofIdentifier names the public artifacts one sub-proof of a Proof was
// built against, including the accumulator timestamp used for the
// non-revocation part, if any.
type SubProofIdentifier struct {
	SchemaID  SchemaID  `json:"schemaId"`
	CredDefID CredDefID `json:"credDefId"`
	RevRegID  RevRegID  `json:"revRegId,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// Proof demonstrates possession of credentials satisfying a ProofRequest
// without over-disclosure. Valid only against the exact request nonce and the
// registry state at verification time.
type Proof struct {
	Nonce              string                     `json:"nonce"`
	RevealedAttributes map[string]CredentialValue `json:"revealedAttrs"`
	Identifiers        []SubProofIdentifier       `json:"identifiers"`
	ProofBlob          []byte                     `json:"proof"`
}

// RevocationState is the prover-held witness material for one credential,
// relative to the accumulator state at Timestamp. It goes stale when the
// registry evolves past that timestamp.
type RevocationState struct {
	RevRegID    RevRegID `json:"revRegId"`
	Index       int      `json:"index"`
	Witness     []byte   `json:"witness"`
	Accumulator []byte   `json:"accum"`
	Timestamp   int64    `json:"timestamp"`
}

// IdentityDetails is a public identity record: the DID and verkey of a party
// known to the network.
type IdentityDetails struct {
	DID    string `json:"did"`
	Verkey string `json:"verkey"`
	Alias  string `json:"alias,omitempty"`
}

// SchemaDetails is the abstract addressing form of a schema before
// resolution: name + version scoped to an owner.
type SchemaDetails struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Owner   string `json:"owner,omitempty"`
}
