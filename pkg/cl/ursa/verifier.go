//go:build ursa
// +build ursa

/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ursa

import (
	"fmt"

	"github.com/hyperledger/ursa-wrapper-go/pkg/libursa/ursa"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/cl"
)

// Verifier is the libursa implementation of the CL VerifierService.
type Verifier struct{}

// NewVerifier instantiates the verifier service.
func NewVerifier() *Verifier { return &Verifier{} }

// VerifyProof checks the proof against the request and public data.
func (s *Verifier) VerifyProof(req *anoncreds.ProofRequest, proof *anoncreds.Proof, pub *cl.PublicData) error {
	if req.NonRevoked != nil {
		return errRevocationUnsupported
	}

	verifier, err := ursa.NewProofVerifier()
	if err != nil {
		return err
	}

	for i := range proof.Identifiers {
		if err = s.addSubProofRequest(verifier, req, &proof.Identifiers[i], pub); err != nil {
			return err
		}
	}

	ursaProof, err := ursa.ProofFromJSON(proof.ProofBlob)
	if err != nil {
		return anoncreds.NewValidationError("malformed proof payload: %v", err)
	}

	requestNonce, err := nonceFromString(req.Nonce)
	if err != nil {
		return err
	}

	if err = verifier.Verify(ursaProof, requestNonce); err != nil {
		return &anoncreds.VerificationError{Msg: "proof does not verify", Cause: err}
	}

	return nil
}

func (s *Verifier) addSubProofRequest(verifier *ursa.ProofVerifier, req *anoncreds.ProofRequest,
	ident *anoncreds.SubProofIdentifier, pub *cl.PublicData) error {
	credDef, ok := pub.CredDefs[ident.CredDefID]
	if !ok {
		return &anoncreds.NotFoundError{What: fmt.Sprintf("credential definition %q public key", ident.CredDefID)}
	}

	schema, ok := pub.Schemas[ident.SchemaID]
	if !ok {
		return &anoncreds.NotFoundError{What: fmt.Sprintf("schema %q", ident.SchemaID)}
	}

	credSchema, nonSchema, err := buildSchema(schema.AttrNames)
	if err != nil {
		return err
	}

	defer credSchema.Free() // nolint:errcheck
	defer nonSchema.Free()  // nolint:errcheck

	subProofBuilder, err := ursa.NewSubProofRequestBuilder()
	if err != nil {
		return err
	}

	for _, attr := range req.Attributes {
		if !refersTo(attr.FieldRef, ident.CredDefID, schema) || !attr.Revealed {
			continue
		}

		if err = subProofBuilder.AddRevealedAttr(attr.FieldRef.FieldName); err != nil {
			return err
		}
	}

	for _, pred := range req.Predicates {
		if !refersTo(pred.FieldRef, ident.CredDefID, schema) {
			continue
		}

		if err = subProofBuilder.AddPredicate(pred.FieldRef.FieldName, "GE", pred.Value); err != nil {
			return err
		}
	}

	subProofRequest, err := subProofBuilder.Finalize()
	if err != nil {
		return err
	}

	pubKey, err := ursa.CredentialPublicKeyFromJSON(credDef.PublicKey)
	if err != nil {
		return err
	}

	return verifier.AddSubProofRequest(subProofRequest, credSchema, nonSchema, pubKey)
}

// refersTo reports whether the field reference binds to the identified
// credential definition. References that name no definition bind to any
// sub-proof whose schema carries the field.
func refersTo(ref anoncreds.CredentialFieldReference, credDefID anoncreds.CredDefID, schema *anoncreds.Schema) bool {
	if ref.CredDefID != "" {
		return ref.CredDefID == credDefID
	}

	for _, name := range schema.AttrNames {
		if name == ref.FieldName {
			return true
		}
	}

	return false
}
