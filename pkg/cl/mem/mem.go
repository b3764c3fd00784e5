/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mem provides an in-memory implementation of the CL services for
// development and tests. It reproduces the structure and failure modes of the
// CL exchange with keyed blake2b commitments instead of pairing cryptography:
// signatures bind the blinded master secret, the attribute commitments and
// the revocation index, and proofs bind the request nonce and the accumulator
// state. It provides no actual secrecy (credential definition "private" keys
// equal the public keys, and sub-proofs carry the registry index in the
// clear), so it must not be used outside development.
package mem

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/slices"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/cl"
)

const seedSize = 32

// subProof is the per-credential part of the proof blob.
type subProof struct {
	BlindedMS          []byte            `json:"blindedMs"`
	Index              int               `json:"index,omitempty"`
	Commitments        [][]byte          `json:"commitments"`
	AttributeReferents map[string]string `json:"attrReferents"` // referent -> attribute name
	AggregateMAC       []byte            `json:"aggregateMac"`
	PredicateMACs      map[string][]byte `json:"predicateMacs,omitempty"`
	NonRevMAC          []byte            `json:"nonRevMac,omitempty"`
}

type proofPayload struct {
	SubProofs []subProof `json:"subProofs"`
}

// Issuer is the in-memory implementation of the CL IssuerService. It keeps no
// state: the credential definition public key doubles as the signing key.
type Issuer struct{}

// NewIssuer instantiates the issuer service.
func NewIssuer() *Issuer { return &Issuer{} }

// CreateCredentialDefinition generates key material for the schema.
func (s *Issuer) CreateCredentialDefinition(schema *anoncreds.Schema, _ bool) (publicKey, keyCorrectnessProof []byte, err error) {
	seed := make([]byte, seedSize)
	if _, err = rand.Read(seed); err != nil {
		return nil, nil, fmt.Errorf("generate credential definition key: %w", err)
	}

	return seed, mac(seed, []byte("key-correctness"), []byte(schema.Name)), nil
}

// OfferCredential produces a fresh offer for the definition.
func (s *Issuer) OfferCredential(credDef *anoncreds.CredentialDefinition) (*anoncreds.CredentialOffer, error) {
	nonce, err := cl.NewNonce()
	if err != nil {
		return nil, err
	}

	return &anoncreds.CredentialOffer{
		CredDefID:           credDef.ID,
		KeyCorrectnessProof: credDef.KeyCorrectnessProof,
		Nonce:               nonce,
	}, nil
}

// CreateRevocationRegistry generates accumulator parameters and the initial
// accumulator value.
func (s *Issuer) CreateRevocationRegistry(credDef *anoncreds.CredentialDefinition, maxCredNum int) (publicParams, initialAccumulator []byte, err error) {
	params := mac(credDef.PublicKey, []byte("revreg-params"), []byte(strconv.Itoa(maxCredNum)))

	return params, digest([]byte("accum-init"), params), nil
}

// IssueCredential signs the proposal.
func (s *Issuer) IssueCredential(proposal anoncreds.CredentialProposal, request *anoncreds.CredentialRequest,
	offer *anoncreds.CredentialOffer, credDef *anoncreds.CredentialDefinition,
	rev *cl.RevocationContext) (*anoncreds.Credential, []byte, error) {
	if request.CredDefID != offer.CredDefID || offer.CredDefID != credDef.ID {
		return nil, nil, fmt.Errorf("credential request, offer and definition reference different definitions")
	}

	values := make(map[string]anoncreds.CredentialValue, len(proposal))
	for name, value := range proposal {
		values[name] = value
	}

	credential := &anoncreds.Credential{
		SchemaID:  credDef.SchemaID,
		CredDefID: credDef.ID,
		Values:    values,
	}

	var newAccumulator []byte

	if rev != nil {
		credential.RevRegID = rev.Definition.ID
		credential.RevocationIndex = rev.Index
		newAccumulator = advanceAccumulator(rev.Accumulator, "issue", rev.Index)
	}

	sig := signature(credDef.PublicKey, request.BlindedMasterSecret, credential)
	credential.Signature = sig
	credential.SignatureProof = mac(credDef.PublicKey, []byte("sig-correctness"), sig)

	return credential, newAccumulator, nil
}

// RevokeCredential removes the index from the accumulator.
func (s *Issuer) RevokeCredential(rev *cl.RevocationContext) ([]byte, error) {
	return advanceAccumulator(rev.Accumulator, "revoke", rev.Index), nil
}

// Prover is the in-memory implementation of the CL ProverService. Master
// secrets and the per-credential blinding material live only inside this
// instance.
type Prover struct {
	mu        sync.Mutex
	secrets   map[string][]byte
	blindings map[string][]byte // signature digest -> blinded master secret
}

// NewProver instantiates the prover service.
func NewProver() *Prover {
	return &Prover{
		secrets:   make(map[string][]byte),
		blindings: make(map[string][]byte),
	}
}

// CreateMasterSecret ensures a master secret exists under the given id.
func (s *Prover) CreateMasterSecret(masterSecretID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.masterSecret(masterSecretID)

	return err
}

// masterSecret returns the secret for the id, creating it on first use.
// Callers must hold s.mu.
func (s *Prover) masterSecret(masterSecretID string) ([]byte, error) {
	if masterSecretID == "" {
		return nil, anoncreds.NewValidationError("master secret id cannot be empty")
	}

	if secret, ok := s.secrets[masterSecretID]; ok {
		return secret, nil
	}

	secret := make([]byte, seedSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}

	s.secrets[masterSecretID] = secret

	return secret, nil
}

// RequestCredential blinds the master secret against the offer.
func (s *Prover) RequestCredential(offer *anoncreds.CredentialOffer, _ []byte,
	proverDID, masterSecretID string) (*anoncreds.CredentialRequest, error) {
	s.mu.Lock()
	secret, err := s.masterSecret(masterSecretID)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	nonce, err := cl.NewNonce()
	if err != nil {
		return nil, err
	}

	blinded := digest([]byte("blinded-ms"), secret, []byte(offer.Nonce))

	return &anoncreds.CredentialRequest{
		ProverDID:           proverDID,
		CredDefID:           offer.CredDefID,
		BlindedMasterSecret: blinded,
		BlindedMsProof:      digest([]byte("blinded-ms-proof"), blinded, offer.KeyCorrectnessProof),
		MasterSecretID:      masterSecretID,
		Nonce:               nonce,
	}, nil
}

// ProcessCredential checks the issued credential's signature and remembers the
// blinding material needed later for proof creation.
func (s *Prover) ProcessCredential(cred *anoncreds.Credential, request *anoncreds.CredentialRequest, credDefPub []byte) error {
	expected := signature(credDefPub, request.BlindedMasterSecret, cred)
	if !bytes.Equal(expected, cred.Signature) {
		return &anoncreds.VerificationError{Msg: "credential signature does not verify against the credential definition"}
	}

	s.mu.Lock()
	s.blindings[sigKey(cred.Signature)] = request.BlindedMasterSecret
	s.mu.Unlock()

	return nil
}

// CreateRevocationState derives witness material from the given entry.
func (s *Prover) CreateRevocationState(regDef *anoncreds.RevocationRegistryDefinition,
	entry *anoncreds.RevocationRegistryEntry, index int) (*anoncreds.RevocationState, error) {
	return &anoncreds.RevocationState{
		RevRegID:    regDef.ID,
		Index:       index,
		Witness:     digest([]byte("witness"), entry.Accumulator, []byte(strconv.Itoa(index))),
		Accumulator: entry.Accumulator,
		Timestamp:   entry.Timestamp,
	}, nil
}

// UpdateRevocationState replays deltas to refresh a stale witness.
func (s *Prover) UpdateRevocationState(state *anoncreds.RevocationState, regDef *anoncreds.RevocationRegistryDefinition,
	deltas []*anoncreds.RevocationRegistryEntry) (*anoncreds.RevocationState, error) {
	updated := *state

	for _, entry := range deltas {
		if entry.Timestamp < updated.Timestamp {
			continue
		}

		updated.Accumulator = entry.Accumulator
		updated.Timestamp = entry.Timestamp
	}

	updated.Witness = digest([]byte("witness"), updated.Accumulator, []byte(strconv.Itoa(updated.Index)))

	return &updated, nil
}

// CreateProof builds the proof blob for the request out of the matches.
func (s *Prover) CreateProof(req *anoncreds.ProofRequest, matches []*cl.CredentialMatch,
	_ string) (*anoncreds.Proof, error) {
	proof := &anoncreds.Proof{
		Nonce:              req.Nonce,
		RevealedAttributes: make(map[string]anoncreds.CredentialValue),
	}

	payload := proofPayload{}

	for _, match := range matches {
		sub, ident, err := s.buildSubProof(req, match, proof.RevealedAttributes)
		if err != nil {
			return nil, err
		}

		payload.SubProofs = append(payload.SubProofs, *sub)
		proof.Identifiers = append(proof.Identifiers, *ident)
	}

	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal proof payload: %w", err)
	}

	proof.ProofBlob = blob

	return proof, nil
}

func (s *Prover) buildSubProof(req *anoncreds.ProofRequest, match *cl.CredentialMatch,
	revealed map[string]anoncreds.CredentialValue) (*subProof, *anoncreds.SubProofIdentifier, error) {
	cred := match.Credential

	s.mu.Lock()
	blinded, ok := s.blindings[sigKey(cred.Signature)]
	s.mu.Unlock()

	if !ok {
		return nil, nil, fmt.Errorf("credential for definition %q was not processed by this prover", cred.CredDefID)
	}

	sigD := digest(cred.Signature)

	sub := &subProof{
		BlindedMS:          blinded,
		Commitments:        commitments(cred.Values),
		AttributeReferents: make(map[string]string),
		AggregateMAC:       mac(sigD, []byte("agg"), []byte(req.Nonce)),
	}

	for _, referent := range match.AttributeReferents {
		attr, ok := req.Attributes[referent]
		if !ok {
			return nil, nil, fmt.Errorf("unknown attribute referent %q", referent)
		}

		sub.AttributeReferents[referent] = attr.FieldRef.FieldName

		if attr.Revealed {
			value, ok := cred.Values[attr.FieldRef.FieldName]
			if !ok {
				return nil, nil, fmt.Errorf("credential has no attribute %q", attr.FieldRef.FieldName)
			}

			revealed[referent] = value
		}
	}

	for _, referent := range match.PredicateReferents {
		pred, ok := req.Predicates[referent]
		if !ok {
			return nil, nil, fmt.Errorf("unknown predicate referent %q", referent)
		}

		value, ok := cred.Values[pred.FieldRef.FieldName]
		if !ok {
			return nil, nil, fmt.Errorf("credential has no attribute %q", pred.FieldRef.FieldName)
		}

		n, numeric := anoncreds.NumericValue(value)
		if !numeric {
			return nil, nil, fmt.Errorf("attribute %q is not numeric; predicate unsatisfiable", pred.FieldRef.FieldName)
		}

		if n < pred.Value {
			return nil, nil, fmt.Errorf("attribute %q does not satisfy predicate %s %d",
				pred.FieldRef.FieldName, pred.PType, pred.Value)
		}

		if sub.PredicateMACs == nil {
			sub.PredicateMACs = make(map[string][]byte)
		}

		sub.PredicateMACs[referent] = predicateMAC(sigD, pred, req.Nonce)
	}

	ident := &anoncreds.SubProofIdentifier{
		SchemaID:  cred.SchemaID,
		CredDefID: cred.CredDefID,
	}

	if req.NonRevoked != nil && cred.Revocable() {
		if match.RevState == nil {
			return nil, nil, fmt.Errorf("revocation state missing for credential of registry %q", cred.RevRegID)
		}

		sub.Index = cred.RevocationIndex
		sub.NonRevMAC = mac(sigD, []byte("nonrev"), match.RevState.Accumulator)
		ident.RevRegID = cred.RevRegID
		ident.Timestamp = match.RevState.Timestamp
	}

	return sub, ident, nil
}

// Verifier is the in-memory implementation of the CL VerifierService.
type Verifier struct{}

// NewVerifier instantiates the verifier service.
func NewVerifier() *Verifier { return &Verifier{} }

// VerifyProof checks the proof against the request and public data.
func (s *Verifier) VerifyProof(req *anoncreds.ProofRequest, proof *anoncreds.Proof, pub *cl.PublicData) error {
	var payload proofPayload

	if err := json.Unmarshal(proof.ProofBlob, &payload); err != nil {
		return anoncreds.NewValidationError("malformed proof payload: %v", err)
	}

	if len(payload.SubProofs) != len(proof.Identifiers) {
		return anoncreds.NewValidationError("proof has %d sub-proofs but %d identifiers",
			len(payload.SubProofs), len(proof.Identifiers))
	}

	covered := make(map[string]bool)

	for i := range payload.SubProofs {
		if err := s.verifySubProof(req, proof, &payload.SubProofs[i], &proof.Identifiers[i], pub, covered); err != nil {
			return err
		}
	}

	for referent := range req.Attributes {
		if !covered[referent] {
			return &anoncreds.VerificationError{Msg: fmt.Sprintf("attribute referent %q not covered by any sub-proof", referent)}
		}
	}

	for referent := range req.Predicates {
		if !covered[referent] {
			return &anoncreds.VerificationError{Msg: fmt.Sprintf("predicate referent %q not covered by any sub-proof", referent)}
		}
	}

	return nil
}

//nolint:gocyclo
func (s *Verifier) verifySubProof(req *anoncreds.ProofRequest, proof *anoncreds.Proof, sub *subProof,
	ident *anoncreds.SubProofIdentifier, pub *cl.PublicData, covered map[string]bool) error {
	credDef, ok := pub.CredDefs[ident.CredDefID]
	if !ok {
		return &anoncreds.NotFoundError{What: fmt.Sprintf("credential definition %q public key", ident.CredDefID)}
	}

	// Recompute the signature the sub-proof claims to be derived from.
	shadow := &anoncreds.Credential{
		CredDefID:       ident.CredDefID,
		RevRegID:        ident.RevRegID,
		RevocationIndex: sub.Index,
	}
	sigD := digest(signatureFromCommitments(credDef.PublicKey, sub.BlindedMS, shadow, sub.Commitments))

	if !bytes.Equal(sub.AggregateMAC, mac(sigD, []byte("agg"), []byte(req.Nonce))) {
		return &anoncreds.VerificationError{Msg: "sub-proof is not bound to this request's nonce and key material"}
	}

	for referent, attrName := range sub.AttributeReferents {
		attr, ok := req.Attributes[referent]
		if !ok {
			return &anoncreds.VerificationError{Msg: fmt.Sprintf("sub-proof answers unrequested referent %q", referent)}
		}

		if attr.FieldRef.FieldName != attrName ||
			(attr.FieldRef.CredDefID != "" && attr.FieldRef.CredDefID != ident.CredDefID) {
			return &anoncreds.VerificationError{Msg: fmt.Sprintf("referent %q answered by wrong attribute or definition", referent)}
		}

		if attr.Revealed {
			value, ok := proof.RevealedAttributes[referent]
			if !ok {
				return &anoncreds.VerificationError{Msg: fmt.Sprintf("revealed value missing for referent %q", referent)}
			}

			if value.Encoded != anoncreds.EncodeRawValue(value.Raw) {
				return &anoncreds.VerificationError{Msg: fmt.Sprintf("revealed value for %q has inconsistent encoding", referent)}
			}

			if !containsCommitment(sub.Commitments, attrCommitment(attrName, value.Encoded)) {
				return &anoncreds.VerificationError{Msg: fmt.Sprintf("revealed value for %q is not bound by the signature", referent)}
			}
		}

		covered[referent] = true
	}

	for referent, predMAC := range sub.PredicateMACs {
		pred, ok := req.Predicates[referent]
		if !ok {
			return &anoncreds.VerificationError{Msg: fmt.Sprintf("sub-proof answers unrequested predicate %q", referent)}
		}

		if pred.FieldRef.CredDefID != "" && pred.FieldRef.CredDefID != ident.CredDefID {
			return &anoncreds.VerificationError{Msg: fmt.Sprintf("predicate %q answered by wrong definition", referent)}
		}

		if !bytes.Equal(predMAC, predicateMAC(sigD, pred, req.Nonce)) {
			return &anoncreds.VerificationError{Msg: fmt.Sprintf("predicate proof for %q does not verify", referent)}
		}

		covered[referent] = true
	}

	if req.NonRevoked != nil && ident.RevRegID != "" {
		status, ok := pub.RevStatus[ident.RevRegID]
		if !ok {
			return &anoncreds.NotFoundError{What: fmt.Sprintf("revocation status for registry %q", ident.RevRegID)}
		}

		if !req.NonRevoked.Contains(status.Timestamp) {
			return &anoncreds.VerificationError{Msg: "revocation status timestamp outside the requested interval"}
		}

		if slices.Contains(status.Revoked, sub.Index) {
			return &anoncreds.VerificationError{Msg: fmt.Sprintf("credential index %d is revoked in registry %q", sub.Index, ident.RevRegID)}
		}

		if !bytes.Equal(sub.NonRevMAC, mac(sigD, []byte("nonrev"), status.Accumulator)) {
			return &anoncreds.VerificationError{Msg: "non-revocation proof does not match the registry accumulator"}
		}
	}

	return nil
}

// signature computes the credential signature binding the blinded master
// secret, the definition, the revocation index and all attribute values.
func signature(key, blindedMS []byte, cred *anoncreds.Credential) []byte {
	return signatureFromCommitments(key, blindedMS, cred, commitments(cred.Values))
}

func signatureFromCommitments(key, blindedMS []byte, cred *anoncreds.Credential, commits [][]byte) []byte {
	revBinding := ""
	if cred.RevRegID != "" {
		revBinding = string(cred.RevRegID) + "|" + strconv.Itoa(cred.RevocationIndex)
	}

	parts := [][]byte{[]byte("sig"), blindedMS, []byte(cred.CredDefID), []byte(revBinding)}
	parts = append(parts, commits...)

	return mac(key, parts...)
}

// commitments returns the per-attribute commitments in attribute-name order.
func commitments(values map[string]anoncreds.CredentialValue) [][]byte {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}

	slices.Sort(names)

	commits := make([][]byte, 0, len(names))
	for _, name := range names {
		commits = append(commits, attrCommitment(name, values[name].Encoded))
	}

	return commits
}

func attrCommitment(name, encoded string) []byte {
	return digest([]byte("attr"), []byte(name), []byte(encoded))
}

func containsCommitment(commits [][]byte, c []byte) bool {
	for _, candidate := range commits {
		if bytes.Equal(candidate, c) {
			return true
		}
	}

	return false
}

func predicateMAC(sigD []byte, pred anoncreds.CredentialPredicate, nonce string) []byte {
	return mac(sigD, []byte(pred.PType), []byte(pred.FieldRef.FieldName),
		[]byte(strconv.FormatInt(pred.Value, 10)), []byte(nonce))
}

func advanceAccumulator(prev []byte, op string, index int) []byte {
	return digest([]byte("accum"), prev, []byte(op), []byte(strconv.Itoa(index)))
}

func sigKey(sig []byte) string {
	return hex.EncodeToString(digest(sig))
}

// mac computes a keyed blake2b digest over the length-prefixed parts.
func mac(key []byte, parts ...[]byte) []byte {
	h, err := blake2b.New256(key)
	if err != nil {
		// blake2b only rejects keys longer than 64 bytes; ours are fixed size.
		panic(err)
	}

	for _, part := range parts {
		var n [8]byte

		for i := 0; i < 8; i++ {
			n[i] = byte(len(part) >> (8 * i))
		}

		h.Write(n[:])
		h.Write(part)
	}

	return h.Sum(nil)
}

func digest(parts ...[]byte) []byte {
	return mac(nil, parts...)
}
