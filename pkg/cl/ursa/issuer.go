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

// Issuer is the libursa implementation of the CL IssuerService. Credential
// definition private keys stay inside this instance, addressed by the
// exported public key bytes.
type Issuer struct {
	mu       sync.Mutex
	privKeys map[string][]byte // credDef public key JSON -> private key JSON
}

// NewIssuer instantiates the issuer service.
func NewIssuer() *Issuer {
	return &Issuer{privKeys: make(map[string][]byte)}
}

// CreateCredentialDefinition generates CL key material for the schema.
func (s *Issuer) CreateCredentialDefinition(schema *anoncreds.Schema, supportsRevocation bool) ([]byte, []byte, error) {
	credSchema, nonSchema, err := buildSchema(schema.AttrNames)
	if err != nil {
		return nil, nil, fmt.Errorf("build ursa schema: %w", err)
	}

	defer credSchema.Free() // nolint:errcheck
	defer nonSchema.Free()  // nolint:errcheck

	credDef, err := ursa.NewCredentialDef(credSchema, nonSchema, supportsRevocation)
	if err != nil {
		return nil, nil, fmt.Errorf("generate credential definition keys: %w", err)
	}

	pubJSON, err := credDef.PubKey.ToJSON()
	if err != nil {
		return nil, nil, err
	}

	privJSON, err := credDef.PrivKey.ToJSON()
	if err != nil {
		return nil, nil, err
	}

	proofJSON, err := credDef.KeyCorrectnessProof.ToJSON()
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.privKeys[string(pubJSON)] = privJSON
	s.mu.Unlock()

	return pubJSON, proofJSON, nil
}

// OfferCredential produces a fresh offer for the definition.
func (s *Issuer) OfferCredential(credDef *anoncreds.CredentialDefinition) (*anoncreds.CredentialOffer, error) {
	nonce, err := ursa.NewNonce()
	if err != nil {
		return nil, err
	}

	defer nonce.Free() // nolint:errcheck

	nonceJSON, err := nonce.ToJSON()
	if err != nil {
		return nil, err
	}

	return &anoncreds.CredentialOffer{
		CredDefID:           credDef.ID,
		KeyCorrectnessProof: credDef.KeyCorrectnessProof,
		Nonce:               trimJSONString(nonceJSON),
	}, nil
}

// CreateRevocationRegistry is not available through the libursa wrapper.
func (s *Issuer) CreateRevocationRegistry(*anoncreds.CredentialDefinition, int) ([]byte, []byte, error) {
	return nil, nil, errRevocationUnsupported
}

// IssueCredential signs the proposal against the blinded secrets in the
// request.
func (s *Issuer) IssueCredential(proposal anoncreds.CredentialProposal, request *anoncreds.CredentialRequest,
	offer *anoncreds.CredentialOffer, credDef *anoncreds.CredentialDefinition,
	rev *cl.RevocationContext) (*anoncreds.Credential, []byte, error) {
	if rev != nil {
		return nil, nil, errRevocationUnsupported
	}

	if request.CredDefID != offer.CredDefID || offer.CredDefID != credDef.ID {
		return nil, nil, fmt.Errorf("credential request, offer and definition reference different definitions")
	}

	s.mu.Lock()
	privJSON, ok := s.privKeys[string(credDef.PublicKey)]
	s.mu.Unlock()

	if !ok {
		return nil, nil, fmt.Errorf("no private key for credential definition %q", credDef.ID)
	}

	values, err := buildValues(proposal, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build credential values: %w", err)
	}

	defer values.Free() // nolint:errcheck

	signParams, err := signatureParams(request, offer, credDef.PublicKey, privJSON, values)
	if err != nil {
		return nil, nil, err
	}

	sig, sigProof, err := signParams.SignCredential()
	if err != nil {
		return nil, nil, fmt.Errorf("sign credential: %w", err)
	}

	defer sig.Free()      // nolint:errcheck
	defer sigProof.Free() // nolint:errcheck

	sigJSON, err := sig.ToJSON()
	if err != nil {
		return nil, nil, err
	}

	sigProofJSON, err := sigProof.ToJSON()
	if err != nil {
		return nil, nil, err
	}

	credValues := make(map[string]anoncreds.CredentialValue, len(proposal))
	for name, value := range proposal {
		credValues[name] = value
	}

	return &anoncreds.Credential{
		SchemaID:       credDef.SchemaID,
		CredDefID:      credDef.ID,
		Values:         credValues,
		Signature:      sigJSON,
		SignatureProof: sigProofJSON,
	}, nil, nil
}

// RevokeCredential is not available through the libursa wrapper.
func (s *Issuer) RevokeCredential(*cl.RevocationContext) ([]byte, error) {
	return nil, errRevocationUnsupported
}

func signatureParams(request *anoncreds.CredentialRequest, offer *anoncreds.CredentialOffer,
	pubJSON, privJSON []byte, values *ursa.CredentialValues) (*ursa.SignatureParams, error) {
	pubKey, err := ursa.CredentialPublicKeyFromJSON(pubJSON)
	if err != nil {
		return nil, err
	}

	privKey, err := ursa.CredentialPrivateKeyFromJSON(privJSON)
	if err != nil {
		return nil, err
	}

	blindedSecrets, err := ursa.BlindedCredentialSecretsFromJSON(request.BlindedMasterSecret)
	if err != nil {
		return nil, err
	}

	blindedProof, err := ursa.BlindedCredentialSecretsCorrectnessProofFromJSON(request.BlindedMsProof)
	if err != nil {
		return nil, err
	}

	offerNonce, err := nonceFromString(offer.Nonce)
	if err != nil {
		return nil, err
	}

	requestNonce, err := nonceFromString(request.Nonce)
	if err != nil {
		return nil, err
	}

	params := ursa.NewSignatureParams()
	params.ProverID = request.ProverDID
	params.CredentialPubKey = pubKey
	params.CredentialPrivKey = privKey
	params.BlindedCredentialSecrets = blindedSecrets
	params.BlindedCredentialSecretsCorrectnessProof = blindedProof
	params.CredentialIssuanceNonce = offerNonce
	params.CredentialNonce = requestNonce
	params.CredentialValues = values

	return params, nil
}

func trimJSONString(b []byte) string {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		return string(b[1 : len(b)-1])
	}

	return string(b)
}
