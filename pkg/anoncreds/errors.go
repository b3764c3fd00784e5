/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anoncreds

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of the credential exchange core. A rejected
// verification session always reports one of these kinds so the hosting layer
// can distinguish structural mismatches from infrastructure failures.
type Kind string

// Failure kinds.
const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not-found"
	KindAmbiguous          Kind = "ambiguous"
	KindCapacityExceeded   Kind = "capacity-exceeded"
	KindCredentialNotFound Kind = "credential-not-found"
	KindWitnessUnavailable Kind = "witness-unavailable"
	KindVerification       Kind = "verification"
	KindTimeout            Kind = "timeout"
	KindUnknown            Kind = "unknown"
)

// ValidationError indicates malformed input. It is always local and never
// retried automatically.
type ValidationError struct {
	Msg string
}

// NewValidationError returns a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// NotFoundError indicates that a referenced artifact does not exist.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found", e.What) }

// AmbiguousError indicates that resolution criteria matched more than one
// published artifact. The caller must supply enough criteria to disambiguate.
type AmbiguousError struct {
	Criteria string
	Matches  int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("criteria %q matched %d artifacts", e.Criteria, e.Matches)
}

// CapacityExceededError indicates that a revocation registry has issued its
// maximum credential count. Fatal for that registry; a new one must be
// provisioned.
type CapacityExceededError struct {
	RevRegID RevRegID
	Max      int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("revocation registry %q is full (max %d credentials)", e.RevRegID, e.Max)
}

// CredentialNotFoundError indicates that the prover holds no credential
// satisfying a requested field reference.
type CredentialNotFoundError struct {
	FieldRef CredentialFieldReference
}

func (e *CredentialNotFoundError) Error() string {
	return fmt.Sprintf("no credential with attribute %q for schema %q and credential definition %q",
		e.FieldRef.FieldName, e.FieldRef.SchemaID, e.FieldRef.CredDefID)
}

// WitnessUnavailableError indicates that a stale non-revocation witness cannot
// be regenerated because registry history prior to the requested interval has
// been pruned.
type WitnessUnavailableError struct {
	RevRegID RevRegID
	Msg      string
}

func (e *WitnessUnavailableError) Error() string {
	return fmt.Sprintf("non-revocation witness for registry %q unavailable: %s", e.RevRegID, e.Msg)
}

// VerificationError indicates that a signature or proof failed a cryptographic
// check. Terminal; retrying with the same inputs cannot change the verdict.
type VerificationError struct {
	Msg   string
	Cause error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("verification: %s: %v", e.Msg, e.Cause)
	}

	return "verification: " + e.Msg
}

func (e *VerificationError) Unwrap() error { return e.Cause }

// TimeoutError indicates an unresponsive counterparty. This is the only kind
// eligible for caller-driven retry, with a new session and a new nonce.
type TimeoutError struct {
	Msg string
}

func (e *TimeoutError) Error() string { return "timeout: " + e.Msg }

// KindOf reports the failure kind of err, or KindUnknown for errors outside
// the taxonomy.
func KindOf(err error) Kind {
	var (
		validation  *ValidationError
		notFound    *NotFoundError
		ambiguous   *AmbiguousError
		capacity    *CapacityExceededError
		noCred      *CredentialNotFoundError
		witness     *WitnessUnavailableError
		verifyErr   *VerificationError
		timeoutsErr *TimeoutError
	)

	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &ambiguous):
		return KindAmbiguous
	case errors.As(err, &capacity):
		return KindCapacityExceeded
	case errors.As(err, &noCred):
		return KindCredentialNotFound
	case errors.As(err, &witness):
		return KindWitnessUnavailable
	case errors.As(err, &verifyErr):
		return KindVerification
	case errors.As(err, &timeoutsErr):
		return KindTimeout
	}

	return KindUnknown
}
