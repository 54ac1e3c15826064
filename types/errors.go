// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package types

import (
	"fmt"
	"strings"
)

// ErrNotFound is returned when an identity, credential, delegation, or anchor
// record is absent from the store.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ErrAlreadyRevoked is returned when a revocation targets an already-revoked
// record. Revocation is idempotent; callers may treat this as success.
type ErrAlreadyRevoked struct {
	Kind string
	ID   string
}

func (e *ErrAlreadyRevoked) Error() string {
	return fmt.Sprintf("%s already revoked: %s", e.Kind, e.ID)
}

// ErrExpired is returned when an artifact's expiry timestamp is in the past.
type ErrExpired struct {
	Kind string
	ID   string
}

func (e *ErrExpired) Error() string {
	return fmt.Sprintf("%s expired: %s", e.Kind, e.ID)
}

// ErrSignatureInvalid is returned when a detached signature or proof does not
// verify against its payload.
type ErrSignatureInvalid struct {
	Detail string
}

func (e *ErrSignatureInvalid) Error() string {
	return fmt.Sprintf("signature invalid: %s", e.Detail)
}

// ErrCapabilityExceeded is returned when a delegation attempts to grant
// capabilities its issuer does not hold. Capabilities names the offenders.
type ErrCapabilityExceeded struct {
	Capabilities []string
}

func (e *ErrCapabilityExceeded) Error() string {
	return fmt.Sprintf("delegated capabilities exceed issuer's grant: %s",
		strings.Join(e.Capabilities, ", "))
}

// ErrChainBroken is returned when audit chain verification detects tampering.
// Index is the per-agent position of the first entry whose hash no longer
// matches its recomputation.
type ErrChainBroken struct {
	AgentID string
	Index   int
}

func (e *ErrChainBroken) Error() string {
	return fmt.Sprintf("audit chain broken for %s at entry %d", e.AgentID, e.Index)
}

// ErrResolutionFailed is returned when a network-backed DID resolution fails,
// times out, or yields a malformed document.
type ErrResolutionFailed struct {
	DID    string
	Reason string
}

func (e *ErrResolutionFailed) Error() string {
	return fmt.Sprintf("DID resolution failed for %s: %s", e.DID, e.Reason)
}

// ErrKeyUnavailable is returned when the signing key cannot be loaded, for
// example when the stored key is encrypted and no passphrase was supplied.
type ErrKeyUnavailable struct {
	Reason string
}

func (e *ErrKeyUnavailable) Error() string {
	return fmt.Sprintf("signing key unavailable: %s", e.Reason)
}

// ErrDecryptionFailed is returned when the stored key cannot be decrypted
// with the supplied passphrase.
type ErrDecryptionFailed struct {
	Reason string
}

func (e *ErrDecryptionFailed) Error() string {
	return fmt.Sprintf("key decryption failed: %s", e.Reason)
}

// ErrSubjectMismatch is returned when a presentation embeds a credential
// whose subject is not the presentation holder.
type ErrSubjectMismatch struct {
	CredentialID string
	Holder       string
	Subject      string
}

func (e *ErrSubjectMismatch) Error() string {
	return fmt.Sprintf("credential %s has subject %s, not holder %s",
		e.CredentialID, e.Subject, e.Holder)
}

// ErrUnsupportedMethod is returned when a DID uses a method the resolver
// cannot handle and no universal-resolver delegate is configured.
type ErrUnsupportedMethod struct {
	Method string
}

func (e *ErrUnsupportedMethod) Error() string {
	return fmt.Sprintf("unsupported DID method: %s", e.Method)
}

// ErrUnknownFormat is returned when Translate is asked for an unrecognized
// target format.
type ErrUnknownFormat struct {
	Format string
}

func (e *ErrUnknownFormat) Error() string {
	return fmt.Sprintf("unknown translation format: %s", e.Format)
}

// ErrInvalidDID is returned when a DID string is malformed.
type ErrInvalidDID struct {
	DID    string
	Reason string
}

func (e *ErrInvalidDID) Error() string {
	return fmt.Sprintf("invalid DID %q: %s", e.DID, e.Reason)
}
