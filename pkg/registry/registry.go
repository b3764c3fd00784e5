/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package registry resolves abstract schema and credential definition
// criteria to concrete ledger identifiers, and lists known identities.
package registry

import (
	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/ledger"
)

// Registry is a read-only resolution layer over a ledger.
type Registry struct {
	ledger ledger.Service
}

// New returns a registry backed by the given ledger.
func New(l ledger.Service) *Registry {
	return &Registry{ledger: l}
}

// ResolveSchema finds the single published schema matching the details.
// Owner may be empty, in which case schemas of all issuers are considered.
func (r *Registry) ResolveSchema(details anoncreds.SchemaDetails) (anoncreds.SchemaID, error) {
	schemas, err := r.ledger.ListSchemas()
	if err != nil {
		return "", err
	}

	var matches []string

	for _, schema := range schemas {
		if schema.Name != details.Name || schema.Version != details.Version {
			continue
		}

		if details.Owner != "" && schema.IssuerDID != details.Owner {
			continue
		}

		matches = append(matches, string(schema.ID))
	}

	what := "schema " + details.Name + " " + details.Version

	switch len(matches) {
	case 0:
		return "", &anoncreds.NotFoundError{What: what}
	case 1:
		return anoncreds.SchemaID(matches[0]), nil
	default:
		return "", &anoncreds.AmbiguousError{Criteria: what, Matches: len(matches)}
	}
}

// ResolveCredDef finds the single credential definition published for the
// schema. Owner may be empty when only one issuer defined against the schema.
func (r *Registry) ResolveCredDef(schemaID anoncreds.SchemaID, owner string) (anoncreds.CredDefID, error) {
	credDefs, err := r.ledger.ListCredDefs()
	if err != nil {
		return "", err
	}

	var matches []string

	for _, credDef := range credDefs {
		if credDef.SchemaID != schemaID {
			continue
		}

		if owner != "" && credDef.IssuerDID != owner {
			continue
		}

		matches = append(matches, string(credDef.ID))
	}

	what := "credential definition for schema " + string(schemaID)

	switch len(matches) {
	case 0:
		return "", &anoncreds.NotFoundError{What: what}
	case 1:
		return anoncreds.CredDefID(matches[0]), nil
	default:
		return "", &anoncreds.AmbiguousError{Criteria: what, Matches: len(matches)}
	}
}

// ResolveFieldRef completes a field reference, resolving any identifiers the
// caller left abstract. The schema details are used only when the reference
// has no schema identifier yet.
func (r *Registry) ResolveFieldRef(fieldRef anoncreds.CredentialFieldReference,
	details anoncreds.SchemaDetails) (anoncreds.CredentialFieldReference, error) {
	if fieldRef.SchemaID == "" {
		schemaID, err := r.ResolveSchema(details)
		if err != nil {
			return fieldRef, err
		}

		fieldRef.SchemaID = schemaID
	}

	if fieldRef.CredDefID == "" {
		credDefID, err := r.ResolveCredDef(fieldRef.SchemaID, details.Owner)
		if err != nil {
			return fieldRef, err
		}

		fieldRef.CredDefID = credDefID
	}

	return fieldRef, nil
}

// KnownIdentities returns the identity records published to the ledger.
func (r *Registry) KnownIdentities() ([]*anoncreds.IdentityDetails, error) {
	return r.ledger.ListIdentities()
}

// AddKnownIdentity publishes an identity record.
func (r *Registry) AddKnownIdentity(identity *anoncreds.IdentityDetails) error {
	return r.ledger.PublishIdentity(identity)
}
