/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anoncreds

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const authority = "V4SGRU86Z58d6TV7PBUe6f"

func TestIdentifierRoundTrip(t *testing.T) {
	schemaID := BuildSchemaID(authority, 7, "passport", "1.0")
	require.Equal(t, SchemaID(authority+":7:2:passport:1.0"), schemaID)

	parts, err := schemaID.Parse()
	require.NoError(t, err)
	require.Equal(t, authority, parts.Authority)
	require.Equal(t, int64(7), parts.SeqNo)
	require.Equal(t, "passport", parts.Name)
	require.Equal(t, "1.0", parts.Version)
	require.Equal(t, string(schemaID), parts.String())

	credDefID := BuildCredDefID(authority, 8, "passport", "1.0")

	parts, err = credDefID.Parse()
	require.NoError(t, err)
	require.Equal(t, MarkerCredDef, parts.Marker)

	revRegID := BuildRevRegID(authority, 9, "passport", "1.0")

	parts, err = revRegID.Parse()
	require.NoError(t, err)
	require.Equal(t, MarkerRevReg, parts.Marker)
}

func TestParseIdentifierRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"too:few:parts",
		authority + ":x:2:passport:1.0", // non-numeric seqNo
		authority + ":7:9:passport:1.0", // unknown marker
		"0O0O0O:7:2:passport:1.0",       // not base58
		":7:2:passport:1.0",             // empty authority
	}

	for _, id := range cases {
		_, err := ParseIdentifier(id)

		validation := &ValidationError{}
		require.ErrorAs(t, err, &validation, "id=%q", id)
	}
}

func TestMarkerMismatch(t *testing.T) {
	// A schema identifier read as a credential definition identifier.
	wrong := CredDefID(BuildSchemaID(authority, 7, "passport", "1.0"))

	_, err := wrong.Parse()

	validation := &ValidationError{}
	require.ErrorAs(t, err, &validation)
}

func TestValidateVersion(t *testing.T) {
	require.NoError(t, ValidateVersion("1.0"))
	require.NoError(t, ValidateVersion("2.10.3"))

	for _, v := range []string{"", "1", "1.0.0.0", "one.zero", "1.", "-1.0"} {
		require.Error(t, ValidateVersion(v), "version=%q", v)
	}
}

func TestEncodeRawValue(t *testing.T) {
	// int32-range values encode as themselves.
	require.Equal(t, "19950101", EncodeRawValue("19950101"))
	require.Equal(t, "-5", EncodeRawValue("-5"))

	// Everything else encodes as a digest-derived integer.
	encoded := EncodeRawValue("Alice")
	require.NotEqual(t, "Alice", encoded)
	require.Equal(t, encoded, EncodeRawValue("Alice"))
	require.NotEqual(t, encoded, EncodeRawValue("alice"))

	// Values beyond int32 take the digest path too.
	require.NotEqual(t, "99999999999", EncodeRawValue("99999999999"))
}

func TestNumericValue(t *testing.T) {
	proposal := EncodeValues(map[string]string{"age": "18", "name": "Alice"})

	n, ok := NumericValue(proposal["age"])
	require.True(t, ok)
	require.Equal(t, int64(18), n)

	_, ok = NumericValue(proposal["name"])
	require.False(t, ok)
}

func TestIntervalContains(t *testing.T) {
	closed := Interval{From: 100, To: 200}
	require.True(t, closed.Contains(100))
	require.True(t, closed.Contains(200))
	require.False(t, closed.Contains(99))
	require.False(t, closed.Contains(201))

	open := Interval{From: 100}
	require.True(t, open.Contains(1_000_000))
	require.False(t, open.Contains(99))
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{NewValidationError("bad"), KindValidation},
		{&NotFoundError{What: "schema"}, KindNotFound},
		{&AmbiguousError{Criteria: "passport", Matches: 2}, KindAmbiguous},
		{&CapacityExceededError{RevRegID: "r", Max: 5}, KindCapacityExceeded},
		{&CredentialNotFoundError{}, KindCredentialNotFound},
		{&WitnessUnavailableError{RevRegID: "r", Msg: "pruned"}, KindWitnessUnavailable},
		{&VerificationError{Msg: "mac mismatch"}, KindVerification},
		{&TimeoutError{Msg: "no response"}, KindTimeout},
		{fmt.Errorf("connection reset"), KindUnknown},
		{fmt.Errorf("wrap: %w", &NotFoundError{What: "entry"}), KindNotFound},
	}

	for _, tc := range cases {
		require.Equal(t, tc.kind, KindOf(tc.err), "err=%v", tc.err)
	}
}
