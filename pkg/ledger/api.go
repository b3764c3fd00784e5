/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ledger defines the ledger service boundary: an append-only
// key/value store for the public artifacts of the credential exchange.
package ledger

import (
	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
)

// Service is the ledger capability the protocol components are written
// against. Publish operations assign the globally unique identifier and
// return it; fetch operations return a NotFoundError when no artifact exists
// under the identifier. Reads are idempotent.
type Service interface {
	// PublishSchema stores the schema and assigns its identifier.
	PublishSchema(schema *anoncreds.Schema) (anoncreds.SchemaID, error)

	// PublishCredDef stores the credential definition and assigns its identifier.
	PublishCredDef(credDef *anoncreds.CredentialDefinition) (anoncreds.CredDefID, error)

	// PublishRevRegDef stores the revocation registry definition and assigns
	// its identifier.
	PublishRevRegDef(regDef *anoncreds.RevocationRegistryDefinition) (anoncreds.RevRegID, error)

	// PublishRevRegEntry appends an entry to the registry's accumulator
	// sequence. Entries must not move timestamps backwards.
	PublishRevRegEntry(entry *anoncreds.RevocationRegistryEntry) error

	// FetchSchema returns the schema published under the identifier.
	FetchSchema(id anoncreds.SchemaID) (*anoncreds.Schema, error)

	// FetchCredDef returns the credential definition published under the identifier.
	FetchCredDef(id anoncreds.CredDefID) (*anoncreds.CredentialDefinition, error)

	// FetchRevRegDef returns the revocation registry definition published
	// under the identifier.
	FetchRevRegDef(id anoncreds.RevRegID) (*anoncreds.RevocationRegistryDefinition, error)

	// FetchLatestEntry returns the registry's most recent entry.
	FetchLatestEntry(id anoncreds.RevRegID) (*anoncreds.RevocationRegistryEntry, error)

	// FetchEntryAt returns the entry in force at the given timestamp: the
	// latest entry whose timestamp does not exceed ts. Pruned history yields
	// a NotFoundError.
	FetchEntryAt(id anoncreds.RevRegID, ts int64) (*anoncreds.RevocationRegistryEntry, error)

	// FetchDelta returns, in order, the entries with from <= timestamp <= to.
	// A NotFoundError is returned when entries inside the range have been
	// pruned.
	FetchDelta(id anoncreds.RevRegID, from, to int64) ([]*anoncreds.RevocationRegistryEntry, error)

	// ListSchemas returns all published schemas.
	ListSchemas() ([]*anoncreds.Schema, error)

	// ListCredDefs returns all published credential definitions.
	ListCredDefs() ([]*anoncreds.CredentialDefinition, error)

	// PublishIdentity stores a public identity record.
	PublishIdentity(identity *anoncreds.IdentityDetails) error

	// FetchIdentity returns the identity record for the DID.
	FetchIdentity(did string) (*anoncreds.IdentityDetails, error)

	// ListIdentities returns all known identity records.
	ListIdentities() ([]*anoncreds.IdentityDetails, error)

	// Prune discards registry entries with timestamps strictly before the
	// given bound. Interval proofs reaching into the discarded range fail
	// with a NotFoundError afterwards.
	Prune(id anoncreds.RevRegID, before int64) error
}
