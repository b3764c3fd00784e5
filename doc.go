/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cordentity implements privacy-preserving verifiable credentials of
// the CL-signature family: schema and credential definition publication,
// revocable credential issuance, and selective-disclosure proofs with
// predicate and non-revocation claims.
//
// Packages for end developer usage
//
// pkg/agent: The facade assembling a per-DID agent out of a storage provider,
// a ledger client and a CL crypto backend.
//
// pkg/exchange: The two-party verification exchange, verifier and prover
// roles.
//
// pkg/cl/mem and pkg/cl/ursa: CL crypto backends; the ursa backend builds
// with the `ursa` tag against libursa.
package cordentity
