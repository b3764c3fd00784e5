/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package proof implements the proof protocol engine: proof request assembly,
// proof construction out of the prover's wallet, and verification against
// ledger-resolved public data.
package proof

import (
	"errors"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/cl"
	"github.com/DevAlexey/cordentity-1/pkg/common/log"
	"github.com/DevAlexey/cordentity-1/pkg/ledger"
	"github.com/DevAlexey/cordentity-1/pkg/store/credential"
)

var logger = log.New("cordentity/proof")

// NewNonce produces a fresh proof-request nonce. Every request gets its own;
// reuse opens the exchange to replay.
func NewNonce() (string, error) {
	return cl.NewNonce()
}

// BuildProofRequest assembles a proof request. All field references must
// already carry concrete ledger identifiers or be intentionally abstract
// (empty identifiers match any credential with the attribute).
func BuildProofRequest(version, name string, attributes map[string]anoncreds.RequestedAttribute,
	predicates map[string]anoncreds.CredentialPredicate, nonRevoked *anoncreds.Interval,
	nonce string) (*anoncreds.ProofRequest, error) {
	if nonce == "" {
		return nil, anoncreds.NewValidationError("proof request nonce is empty")
	}

	if len(attributes)+len(predicates) == 0 {
		return nil, anoncreds.NewValidationError("proof request names no attributes and no predicates")
	}

	for referent, attr := range attributes {
		if referent == "" || attr.FieldRef.FieldName == "" {
			return nil, anoncreds.NewValidationError("attribute referent or field name is empty")
		}
	}

	for referent, predicate := range predicates {
		if referent == "" || predicate.FieldRef.FieldName == "" {
			return nil, anoncreds.NewValidationError("predicate referent or field name is empty")
		}

		if predicate.PType != anoncreds.PredicateGE {
			return nil, anoncreds.NewValidationError("unsupported predicate type %q", predicate.PType)
		}
	}

	if nonRevoked != nil && nonRevoked.To != 0 && nonRevoked.From > nonRevoked.To {
		return nil, anoncreds.NewValidationError("non-revocation interval is inverted")
	}

	return &anoncreds.ProofRequest{
		Version:    version,
		Name:       name,
		Nonce:      nonce,
		Attributes: attributes,
		Predicates: predicates,
		NonRevoked: nonRevoked,
	}, nil
}

// Engine builds and verifies proofs.
type Engine struct {
	ledger   ledger.Service
	prover   cl.ProverService
	verifier cl.VerifierService
	wallet   *credential.Store
}

// NewEngine returns a proof engine. The wallet may be nil for a
// verification-only engine.
func NewEngine(l ledger.Service, prover cl.ProverService, verifier cl.VerifierService,
	wallet *credential.Store) *Engine {
	return &Engine{ledger: l, prover: prover, verifier: verifier, wallet: wallet}
}

// CreateProof satisfies the request out of the wallet's credentials bound to
// the master secret. It refreshes stale non-revocation witnesses from the
// ledger before proving; WitnessUnavailableError signals pruned history.
func (e *Engine) CreateProof(req *anoncreds.ProofRequest,
	masterSecretID string) (*anoncreds.Proof, error) {
	matches := map[string]*cl.CredentialMatch{}

	for referent, attr := range req.Attributes {
		match, err := e.matchCredential(matches, attr.FieldRef, masterSecretID)
		if err != nil {
			return nil, err
		}

		match.AttributeReferents = append(match.AttributeReferents, referent)
	}

	for referent, predicate := range req.Predicates {
		match, err := e.matchCredential(matches, predicate.FieldRef, masterSecretID)
		if err != nil {
			return nil, err
		}

		value, ok := anoncreds.NumericValue(match.Credential.Values[predicate.FieldRef.FieldName])
		if !ok || value < predicate.Value {
			return nil, anoncreds.NewValidationError(
				"credential attribute %q cannot satisfy predicate >= %d",
				predicate.FieldRef.FieldName, predicate.Value)
		}

		match.PredicateReferents = append(match.PredicateReferents, referent)
	}

	ordered := make([]*cl.CredentialMatch, 0, len(matches))

	for _, match := range matches {
		if req.NonRevoked != nil && match.Credential.Revocable() {
			state, err := e.freshRevState(match, req.NonRevoked, masterSecretID)
			if err != nil {
				return nil, err
			}

			match.RevState = state
		}

		ordered = append(ordered, match)
	}

	return e.prover.CreateProof(req, ordered, masterSecretID)
}

// matchCredential finds the wallet credential serving the field reference,
// reusing an already-matched credential when several referents point at it.
func (e *Engine) matchCredential(matches map[string]*cl.CredentialMatch,
	fieldRef anoncreds.CredentialFieldReference, masterSecretID string) (*cl.CredentialMatch, error) {
	record, err := e.wallet.FindByFieldRef(fieldRef, masterSecretID)
	if err != nil {
		return nil, err
	}

	cred := record.Credential
	key := string(cred.SchemaID) + "|" + string(cred.CredDefID)

	if match, ok := matches[key]; ok {
		return match, nil
	}

	credDef, err := e.ledger.FetchCredDef(cred.CredDefID)
	if err != nil {
		return nil, err
	}

	match := &cl.CredentialMatch{
		Credential:       cred,
		CredDefPublicKey: credDef.PublicKey,
		RevState:         record.RevState,
	}

	matches[key] = match

	return match, nil
}

// freshRevState brings the credential's witness up to the accumulator entry in
// force at the end of the requested interval.
func (e *Engine) freshRevState(match *cl.CredentialMatch, interval *anoncreds.Interval,
	masterSecretID string) (*anoncreds.RevocationState, error) {
	cred := match.Credential

	state := match.RevState
	if state == nil {
		return nil, &anoncreds.WitnessUnavailableError{
			RevRegID: cred.RevRegID,
			Msg:      "no revocation state held for the credential",
		}
	}

	target, err := e.targetEntry(cred.RevRegID, interval)
	if err != nil {
		return nil, err
	}

	if target.Timestamp <= state.Timestamp {
		return state, nil
	}

	regDef, err := e.ledger.FetchRevRegDef(cred.RevRegID)
	if err != nil {
		return nil, err
	}

	deltas, err := e.ledger.FetchDelta(cred.RevRegID, state.Timestamp, target.Timestamp)
	if err != nil {
		notFound := &anoncreds.NotFoundError{}
		if errors.As(err, &notFound) {
			return nil, &anoncreds.WitnessUnavailableError{
				RevRegID: cred.RevRegID,
				Msg:      "registry history needed for witness refresh is pruned",
			}
		}

		return nil, err
	}

	state, err = e.prover.UpdateRevocationState(state, regDef, deltas)
	if err != nil {
		return nil, err
	}

	logger.Debugf("refreshed witness for registry %s to timestamp %d", cred.RevRegID, state.Timestamp)

	if err := e.wallet.UpdateRevState(cred.SchemaID, cred.CredDefID, masterSecretID, state); err != nil {
		return nil, err
	}

	return state, nil
}

// targetEntry picks the accumulator entry the proof should be anchored to:
// the entry in force at the interval's upper bound, or the latest entry for an
// open-ended interval.
func (e *Engine) targetEntry(revRegID anoncreds.RevRegID,
	interval *anoncreds.Interval) (*anoncreds.RevocationRegistryEntry, error) {
	if interval.To == 0 {
		return e.ledger.FetchLatestEntry(revRegID)
	}

	return e.ledger.FetchEntryAt(revRegID, interval.To)
}

// VerifyProof checks the proof against the request. The verdict is
// conjunctive: the nonce, every revealed value, every predicate and every
// non-revocation claim must hold for true. A non-nil error means the
// comparison could not be performed; the verdict is then meaningless.
// Identical inputs always produce identical verdicts.
func (e *Engine) VerifyProof(req *anoncreds.ProofRequest, proof *anoncreds.Proof) (bool, error) {
	if req == nil || proof == nil {
		return false, anoncreds.NewValidationError("proof request and proof are required")
	}

	if proof.Nonce != req.Nonce {
		return false, nil
	}

	pub, ok, err := e.resolvePublicData(req, proof)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, nil
	}

	if !revealedValuesConsistent(req, proof) {
		return false, nil
	}

	if err := e.verifier.VerifyProof(req, proof, pub); err != nil {
		verification := &anoncreds.VerificationError{}
		if errors.As(err, &verification) {
			logger.Debugf("proof rejected: %s", err)

			return false, nil
		}

		return false, err
	}

	return true, nil
}

// resolvePublicData fetches the public material the proof's identifiers name.
// The boolean verdict is false when an identifier's revocation timestamp falls
// outside the requested interval.
func (e *Engine) resolvePublicData(req *anoncreds.ProofRequest,
	proof *anoncreds.Proof) (*cl.PublicData, bool, error) {
	pub := &cl.PublicData{
		Schemas:   map[anoncreds.SchemaID]*anoncreds.Schema{},
		CredDefs:  map[anoncreds.CredDefID]*anoncreds.CredentialDefinition{},
		RevRegs:   map[anoncreds.RevRegID]*anoncreds.RevocationRegistryDefinition{},
		RevStatus: map[anoncreds.RevRegID]*cl.RevocationStatus{},
	}

	for _, ident := range proof.Identifiers {
		schema, err := e.ledger.FetchSchema(ident.SchemaID)
		if err != nil {
			return nil, false, err
		}

		pub.Schemas[ident.SchemaID] = schema

		credDef, err := e.ledger.FetchCredDef(ident.CredDefID)
		if err != nil {
			return nil, false, err
		}

		pub.CredDefs[ident.CredDefID] = credDef

		if ident.RevRegID == "" {
			continue
		}

		if req.NonRevoked != nil && !req.NonRevoked.Contains(ident.Timestamp) {
			return nil, false, nil
		}

		regDef, err := e.ledger.FetchRevRegDef(ident.RevRegID)
		if err != nil {
			return nil, false, err
		}

		pub.RevRegs[ident.RevRegID] = regDef

		status, err := e.revocationStatusAt(ident.RevRegID, ident.Timestamp)
		if err != nil {
			return nil, false, err
		}

		pub.RevStatus[ident.RevRegID] = status
	}

	return pub, true, nil
}

// revocationStatusAt reconstructs the registry's revoked set as of ts.
func (e *Engine) revocationStatusAt(revRegID anoncreds.RevRegID,
	ts int64) (*cl.RevocationStatus, error) {
	entry, err := e.ledger.FetchEntryAt(revRegID, ts)
	if err != nil {
		return nil, err
	}

	deltas, err := e.ledger.FetchDelta(revRegID, 0, entry.Timestamp)
	if err != nil {
		return nil, err
	}

	status := &cl.RevocationStatus{
		Accumulator: entry.Accumulator,
		Timestamp:   entry.Timestamp,
	}

	for _, delta := range deltas {
		status.Revoked = append(status.Revoked, delta.Revoked...)
	}

	return status, nil
}

// revealedValuesConsistent checks that every attribute the request asked to
// reveal is present in the proof and carries a raw value matching its
// encoding.
func revealedValuesConsistent(req *anoncreds.ProofRequest, proof *anoncreds.Proof) bool {
	for referent, attr := range req.Attributes {
		if !attr.Revealed {
			continue
		}

		value, ok := proof.RevealedAttributes[referent]
		if !ok {
			return false
		}

		if anoncreds.EncodeRawValue(value.Raw) != value.Encoded {
			return false
		}
	}

	return true
}
