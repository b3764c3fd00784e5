/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anoncreds

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// Ledger artifacts are keyed by globally unique identifiers of the form
// <authorityId>:<seqNo>:<marker>:<name>:<version>. The marker tells the
// artifact type apart; numbering follows the indy ledger convention.
const (
	MarkerSchema  = "2"
	MarkerCredDef = "3"
	MarkerRevReg  = "4"

	idPartCount = 5
)

// SchemaID identifies a published schema.
type SchemaID string

// CredDefID identifies a published credential definition.
type CredDefID string

// RevRegID identifies a published revocation registry definition.
type RevRegID string

// IdentifierParts holds the decomposed form of a ledger identifier.
type IdentifierParts struct {
	Authority string
	SeqNo     int64
	Marker    string
	Name      string
	Version   string
}

// String assembles the canonical identifier form.
func (p IdentifierParts) String() string {
	return strings.Join([]string{
		p.Authority, strconv.FormatInt(p.SeqNo, 10), p.Marker, p.Name, p.Version,
	}, ":")
}

// BuildSchemaID assembles a schema identifier.
func BuildSchemaID(authority string, seqNo int64, name, version string) SchemaID {
	return SchemaID(IdentifierParts{
		Authority: authority, SeqNo: seqNo, Marker: MarkerSchema, Name: name, Version: version,
	}.String())
}

// BuildCredDefID assembles a credential definition identifier. Name and
// version are inherited from the paired schema.
func BuildCredDefID(authority string, seqNo int64, schemaName, schemaVersion string) CredDefID {
	return CredDefID(IdentifierParts{
		Authority: authority, SeqNo: seqNo, Marker: MarkerCredDef, Name: schemaName, Version: schemaVersion,
	}.String())
}

// BuildRevRegID assembles a revocation registry identifier.
func BuildRevRegID(authority string, seqNo int64, schemaName, schemaVersion string) RevRegID {
	return RevRegID(IdentifierParts{
		Authority: authority, SeqNo: seqNo, Marker: MarkerRevReg, Name: schemaName, Version: schemaVersion,
	}.String())
}

// ParseIdentifier decomposes a ledger identifier and validates its shape.
func ParseIdentifier(id string) (IdentifierParts, error) {
	split := strings.Split(id, ":")
	if len(split) != idPartCount {
		return IdentifierParts{}, NewValidationError("identifier %q must have %d ':'-separated parts", id, idPartCount)
	}

	if err := ValidateDID(split[0]); err != nil {
		return IdentifierParts{}, err
	}

	seqNo, err := strconv.ParseInt(split[1], 10, 64)
	if err != nil {
		return IdentifierParts{}, NewValidationError("identifier %q has non-numeric seqNo: %v", id, err)
	}

	switch split[2] {
	case MarkerSchema, MarkerCredDef, MarkerRevReg:
	default:
		return IdentifierParts{}, NewValidationError("identifier %q has unknown marker %q", id, split[2])
	}

	return IdentifierParts{
		Authority: split[0],
		SeqNo:     seqNo,
		Marker:    split[2],
		Name:      split[3],
		Version:   split[4],
	}, nil
}

// ValidateDID checks that the given authority identifier is plausible:
// non-empty and base58-decodable, the form indy DIDs take.
func ValidateDID(did string) error {
	if did == "" {
		return NewValidationError("DID cannot be empty")
	}

	if len(base58.Decode(did)) == 0 {
		return NewValidationError("DID %q is not base58", did)
	}

	return nil
}

// ValidateVersion checks that version is a dotted numeric string with two or
// three components, e.g. "1.0" or "1.0.0".
func ValidateVersion(version string) error {
	split := strings.Split(version, ".")
	if len(split) != 2 && len(split) != 3 {
		return NewValidationError("version %q must have two or three numeric components", version)
	}

	for _, component := range split {
		if _, err := strconv.ParseUint(component, 10, 32); err != nil {
			return NewValidationError("version %q must have two or three numeric components", version)
		}
	}

	return nil
}

// mustMarker rejects identifiers that do not carry the wanted marker. Used
// by the typed identifier accessors below.
func mustMarker(parts IdentifierParts, marker string) (IdentifierParts, error) {
	if parts.Marker != marker {
		return IdentifierParts{}, NewValidationError(
			"identifier %s carries marker %q, want %q", parts.String(), parts.Marker, marker)
	}

	return parts, nil
}

// Parse decomposes the schema identifier.
func (id SchemaID) Parse() (IdentifierParts, error) {
	parts, err := ParseIdentifier(string(id))
	if err != nil {
		return IdentifierParts{}, fmt.Errorf("schema id: %w", err)
	}

	return mustMarker(parts, MarkerSchema)
}

// Parse decomposes the credential definition identifier.
func (id CredDefID) Parse() (IdentifierParts, error) {
	parts, err := ParseIdentifier(string(id))
	if err != nil {
		return IdentifierParts{}, fmt.Errorf("credential definition id: %w", err)
	}

	return mustMarker(parts, MarkerCredDef)
}

// Parse decomposes the revocation registry identifier.
func (id RevRegID) Parse() (IdentifierParts, error) {
	parts, err := ParseIdentifier(string(id))
	if err != nil {
		return IdentifierParts{}, fmt.Errorf("revocation registry id: %w", err)
	}

	return mustMarker(parts, MarkerRevReg)
}
