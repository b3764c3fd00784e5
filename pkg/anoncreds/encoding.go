/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anoncreds

import (
	"crypto/sha256"
	"math/big"
	"strconv"
)

// EncodeRawValue encodes a raw attribute value the way indy encodes
// credential values: 32-bit integers encode as themselves, anything else as
// the big-endian integer form of its SHA-256 digest. Predicates operate on
// the encoded form, so only int-like raw values are usable in predicates.
func EncodeRawValue(raw string) string {
	if n, err := strconv.ParseInt(raw, 10, 32); err == nil {
		return strconv.FormatInt(n, 10)
	}

	digest := sha256.Sum256([]byte(raw))

	return new(big.Int).SetBytes(digest[:]).String()
}

// EncodeValues builds a credential proposal from raw attribute values.
func EncodeValues(raw map[string]string) CredentialProposal {
	proposal := make(CredentialProposal, len(raw))

	for name, value := range raw {
		proposal[name] = CredentialValue{Raw: value, Encoded: EncodeRawValue(value)}
	}

	return proposal
}

// NumericValue parses the encoded form of a credential value for predicate
// comparison. ok is false when the value is not int-like.
func NumericValue(v CredentialValue) (int64, bool) {
	n, err := strconv.ParseInt(v.Encoded, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}
