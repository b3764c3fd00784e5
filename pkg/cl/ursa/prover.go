//go:build ursa
// +build ursa

/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ursa

import (
	"fmt"
	"sync"

	"github.com/hyperledger/ursa-wrapper-go/pkg/libursa/ursa"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/cl"
)

// Prover is the libursa implementation of the CL ProverService. Master
// secrets and per-credential blinding factors live only inside this instance.
type Prover struct {
	mu        sync.Mutex
	secrets   map[string][]byte // master secret id -> master secret JSON
	blindings map[string][]byte // credential request nonce -> blinding factor JSON
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

// masterSecret returns the secret JSON for the id, creating it on first use.
// Callers must hold s.mu.
func (s *Prover) masterSecret(masterSecretID string) ([]byte, error) {
	if masterSecretID == "" {
		return nil, anoncreds.NewValidationError("master secret id cannot be empty")
	}

	if secret, ok := s.secrets[masterSecretID]; ok {
		return secret, nil
	}

	ms, err := ursa.NewMasterSecret()
	if err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}

	defer ms.Free() // nolint:errcheck

	msJSON, err := ms.ToJSON()
	if err != nil {
		return nil, err
	}

	s.secrets[masterSecretID] = msJSON

	return msJSON, nil
}

// RequestCredential blinds the master secret against the offer.
func (s *Prover) RequestCredential(offer *anoncreds.CredentialOffer, credDefPub []byte,
	proverDID, masterSecretID string) (*anoncreds.CredentialRequest, error) {
	s.mu.Lock()
	msJSON, err := s.masterSecret(masterSecretID)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	pubKey, err := ursa.CredentialPublicKeyFromJSON(credDefPub)
	if err != nil {
		return nil, err
	}

	keyProof, err := ursa.CredentialKeyCorrectnessProofFromJSON(offer.KeyCorrectnessProof)
	if err != nil {
		return nil, err
	}

	offerNonce, err := nonceFromString(offer.Nonce)
	if err != nil {
		return nil, err
	}

	valuesBuilder, err := ursa.NewValueBuilder()
	if err != nil {
		return nil, err
	}

	if err = valuesBuilder.AddDecHiddenFromJSON(masterSecretAttr, msJSON); err != nil {
		return nil, err
	}

	values, err := valuesBuilder.Finalize()
	if err != nil {
		return nil, err
	}

	defer values.Free() // nolint:errcheck

	blinded, err := ursa.BlindCredentialSecrets(pubKey, keyProof, offerNonce, values)
	if err != nil {
		return nil, fmt.Errorf("blind credential secrets: %w", err)
	}

	blindedJSON, err := blinded.Handle.ToJSON()
	if err != nil {
		return nil, err
	}

	blindedProofJSON, err := blinded.CorrectnessProof.ToJSON()
	if err != nil {
		return nil, err
	}

	blindingFactorJSON, err := blinded.BlindingFactor.ToJSON()
	if err != nil {
		return nil, err
	}

	requestNonce, err := ursa.NewNonce()
	if err != nil {
		return nil, err
	}

	defer requestNonce.Free() // nolint:errcheck

	nonceJSON, err := requestNonce.ToJSON()
	if err != nil {
		return nil, err
	}

	nonce := trimJSONString(nonceJSON)

	s.mu.Lock()
	s.blindings[nonce] = blindingFactorJSON
	s.mu.Unlock()

	return &anoncreds.CredentialRequest{
		ProverDID:           proverDID,
		CredDefID:           offer.CredDefID,
		BlindedMasterSecret: blindedJSON,
		BlindedMsProof:      blindedProofJSON,
		MasterSecretID:      masterSecretID,
		Nonce:               nonce,
	}, nil
}

// ProcessCredential unblinds the signature and checks it against the
// credential definition public key.
func (s *Prover) ProcessCredential(cred *anoncreds.Credential, request *anoncreds.CredentialRequest, credDefPub []byte) error {
	s.mu.Lock()
	blindingJSON, ok := s.blindings[request.Nonce]
	msJSON, msErr := s.masterSecret(request.MasterSecretID)
	s.mu.Unlock()

	if msErr != nil {
		return msErr
	}

	if !ok {
		return fmt.Errorf("no blinding factor for credential request %q", request.Nonce)
	}

	sig, err := ursa.CredentialSignatureFromJSON(cred.Signature)
	if err != nil {
		return err
	}

	sigProof, err := ursa.CredentialSignatureCorrectnessProofFromJSON(cred.SignatureProof)
	if err != nil {
		return err
	}

	blindingFactor, err := ursa.CredentialSecretsBlindingFactorsFromJSON(blindingJSON)
	if err != nil {
		return err
	}

	pubKey, err := ursa.CredentialPublicKeyFromJSON(credDefPub)
	if err != nil {
		return err
	}

	requestNonce, err := nonceFromString(request.Nonce)
	if err != nil {
		return err
	}

	proposal := make(anoncreds.CredentialProposal, len(cred.Values))
	for name, value := range cred.Values {
		proposal[name] = value
	}

	ms := trimJSONString(msJSON)

	values, err := buildValues(proposal, &ms)
	if err != nil {
		return err
	}

	defer values.Free() // nolint:errcheck

	if err = sig.ProcessCredentialSignature(values, sigProof, blindingFactor, pubKey, requestNonce); err != nil {
		return &anoncreds.VerificationError{Msg: "credential signature does not verify", Cause: err}
	}

	processed, err := sig.ToJSON()
	if err != nil {
		return err
	}

	cred.Signature = processed

	return nil
}

// CreateRevocationState is not available through the libursa wrapper.
func (s *Prover) CreateRevocationState(*anoncreds.RevocationRegistryDefinition,
	*anoncreds.RevocationRegistryEntry, int) (*anoncreds.RevocationState, error) {
	return nil, errRevocationUnsupported
}

// UpdateRevocationState is not available through the libursa wrapper.
func (s *Prover) UpdateRevocationState(*anoncreds.RevocationState, *anoncreds.RevocationRegistryDefinition,
	[]*anoncreds.RevocationRegistryEntry) (*anoncreds.RevocationState, error) {
	return nil, errRevocationUnsupported
}

func (s *Prover) addSubProof(proofBuilder *ursa.ProofBuilder, req *anoncreds.ProofRequest,
	match *cl.CredentialMatch, msJSON []byte, proof *anoncreds.Proof) error {
	cred := match.Credential

	attrNames := make([]string, 0, len(cred.Values))
	for name := range cred.Values {
		attrNames = append(attrNames, name)
	}

	credSchema, nonSchema, err := buildSchema(attrNames)
	if err != nil {
		return err
	}

	defer credSchema.Free() // nolint:errcheck
	defer nonSchema.Free()  // nolint:errcheck

	subProofBuilder, err := ursa.NewSubProofRequestBuilder()
	if err != nil {
		return err
	}

	for _, referent := range match.AttributeReferents {
		attr, ok := req.Attributes[referent]
		if !ok {
			return fmt.Errorf("unknown attribute referent %q", referent)
		}

		if !attr.Revealed {
			continue
		}

		if err = subProofBuilder.AddRevealedAttr(attr.FieldRef.FieldName); err != nil {
			return err
		}

		value, ok := cred.Values[attr.FieldRef.FieldName]
		if !ok {
			return fmt.Errorf("credential has no attribute %q", attr.FieldRef.FieldName)
		}

		proof.RevealedAttributes[referent] = value
	}

	for _, referent := range match.PredicateReferents {
		pred, ok := req.Predicates[referent]
		if !ok {
			return fmt.Errorf("unknown predicate referent %q", referent)
		}

		if err = subProofBuilder.AddPredicate(pred.FieldRef.FieldName, "GE", pred.Value); err != nil {
			return err
		}
	}

	subProofRequest, err := subProofBuilder.Finalize()
	if err != nil {
		return err
	}

	proposal := make(anoncreds.CredentialProposal, len(cred.Values))
	for name, value := range cred.Values {
		proposal[name] = value
	}

	ms := trimJSONString(msJSON)

	values, err := buildValues(proposal, &ms)
	if err != nil {
		return err
	}

	defer values.Free() // nolint:errcheck

	sig, err := ursa.CredentialSignatureFromJSON(cred.Signature)
	if err != nil {
		return err
	}

	pubKey, err := ursa.CredentialPublicKeyFromJSON(match.CredDefPublicKey)
	if err != nil {
		return err
	}

	return proofBuilder.AddSubProofRequest(subProofRequest, credSchema, nonSchema, sig, values, pubKey)
}

// CreateProof builds the CL proof for the request out of the matches.
func (s *Prover) CreateProof(req *anoncreds.ProofRequest, matches []*cl.CredentialMatch,
	masterSecretID string) (*anoncreds.Proof, error) {
	if req.NonRevoked != nil {
		return nil, errRevocationUnsupported
	}

	s.mu.Lock()
	msJSON, err := s.masterSecret(masterSecretID)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	proofBuilder, err := ursa.NewProofBuilder()
	if err != nil {
		return nil, err
	}

	if err = proofBuilder.AddCommonAttribute(masterSecretAttr); err != nil {
		return nil, err
	}

	proof := &anoncreds.Proof{
		Nonce:              req.Nonce,
		RevealedAttributes: make(map[string]anoncreds.CredentialValue),
	}

	for _, match := range matches {
		if err = s.addSubProof(proofBuilder, req, match, msJSON, proof); err != nil {
			return nil, err
		}

		proof.Identifiers = append(proof.Identifiers, anoncreds.SubProofIdentifier{
			SchemaID:  match.Credential.SchemaID,
			CredDefID: match.Credential.CredDefID,
		})
	}

	requestNonce, err := nonceFromString(req.Nonce)
	if err != nil {
		return nil, err
	}

	ursaProof, err := proofBuilder.Finalize(requestNonce)
	if err != nil {
		return nil, fmt.Errorf("finalize proof: %w", err)
	}

	defer ursaProof.Free() // nolint:errcheck

	blob, err := ursaProof.ToJSON()
	if err != nil {
		return nil, err
	}

	proof.ProofBlob = blob

	return proof, nil
}
