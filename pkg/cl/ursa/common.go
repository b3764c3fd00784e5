//go:build ursa
// +build ursa

/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ursa is the libursa-backed implementation of the CL services. It
// covers credential definition keys, blinded secrets, issuance and
// presentation; the wrapper exposes no accumulator API, so revocation
// operations report an unsupported error and deployments needing revocation
// must provide another backend.
package ursa

import (
	"fmt"

	"github.com/hyperledger/ursa-wrapper-go/pkg/libursa/ursa"
	"github.com/pkg/errors"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
)

const masterSecretAttr = "master_secret"

var errRevocationUnsupported = errors.New("libursa wrapper exposes no revocation accumulator API")

// buildSchema assembles the ursa credential schema and non-schema for the
// given attribute names. The master secret is the sole non-schema attribute.
func buildSchema(attrs []string) (*ursa.CredentialSchemaHandle, *ursa.NonCredentialSchemaHandle, error) {
	schemaBuilder, err := ursa.NewCredentialSchemaBuilder()
	if err != nil {
		return nil, nil, err
	}

	for _, attr := range attrs {
		if err = schemaBuilder.AddAttr(attr); err != nil {
			return nil, nil, errors.Wrapf(err, "add schema attribute %q", attr)
		}
	}

	schema, err := schemaBuilder.Finalize()
	if err != nil {
		return nil, nil, err
	}

	nonSchemaBuilder, err := ursa.NewNonCredentialSchemaBuilder()
	if err != nil {
		return nil, nil, err
	}

	if err = nonSchemaBuilder.AddAttr(masterSecretAttr); err != nil {
		return nil, nil, err
	}

	nonSchema, err := nonSchemaBuilder.Finalize()
	if err != nil {
		return nil, nil, err
	}

	return schema, nonSchema, nil
}

// buildValues assembles ursa credential values from a proposal, optionally
// folding in the master secret as a hidden value.
func buildValues(proposal anoncreds.CredentialProposal, masterSecret *string) (*ursa.CredentialValues, error) {
	valuesBuilder, err := ursa.NewValueBuilder()
	if err != nil {
		return nil, err
	}

	if masterSecret != nil {
		if err = valuesBuilder.AddDecHidden(masterSecretAttr, *masterSecret); err != nil {
			return nil, err
		}
	}

	for name, value := range proposal {
		if err = valuesBuilder.AddDecKnown(name, value.Encoded); err != nil {
			return nil, err
		}
	}

	return valuesBuilder.Finalize()
}

func nonceFromString(s string) (*ursa.Nonce, error) {
	return ursa.NonceFromJSON(fmt.Sprintf("%q", s))
}
