// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package identity issues, verifies, revokes, and translates agent identity
// tokens. A token is immutable once signed except for its revocation fields,
// which are never part of the signed payload.
package identity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Issuer identifies who signed an identity token.
type Issuer struct {
	Name string `json:"name"`
	DID  string `json:"did"`
}

// Token is an agent identity token. Signature is a detached base64url
// Ed25519 signature over the canonical form of every field except the
// mutable ones (signature, revoked, revocation_reason, revoked_at).
type Token struct {
	Version        string         `json:"version"`
	AgentID        string         `json:"agent_id"`
	DisplayName    string         `json:"display_name"`
	Description    string         `json:"description"`
	SourceProtocol string         `json:"source_protocol"`
	IdentityToken  string         `json:"identity_token,omitempty"`
	TokenInfo      map[string]any `json:"token_info,omitempty"`
	Capabilities   []string       `json:"capabilities"`
	Issuer         Issuer         `json:"issuer"`
	CreatedAt      string         `json:"created_at"`
	ExpiresAt      string         `json:"expires_at"`

	Revoked          bool   `json:"revoked"`
	RevocationReason string `json:"revocation_reason,omitempty"`
	RevokedAt        string `json:"revoked_at,omitempty"`
	Signature        string `json:"signature,omitempty"`
}

// mutableFields can change after signing and are excluded from the signed
// payload. Including any of them would make revocation break the token's
// own signature.
var mutableFields = []string{"signature", "revoked", "revocation_reason", "revoked_at"}

// signablePayload projects a token onto its immutable fields.
func signablePayload(t *Token) (map[string]any, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal token: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("identity: unmarshal token: %w", err)
	}
	for _, field := range mutableFields {
		delete(m, field)
	}
	return m, nil
}

// IsExpired reports whether the token's expiry is in the past. A token with
// no parseable expiry is treated as non-expiring.
func (t *Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt == "" {
		return false
	}
	exp, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil {
		return false
	}
	return !now.Before(exp)
}

// Checks are the four independent verification outcomes for a token.
// Overall validity is their conjunction.
type Checks struct {
	Exists         bool `json:"exists"`
	NotRevoked     bool `json:"not_revoked"`
	NotExpired     bool `json:"not_expired"`
	SignatureValid bool `json:"signature_valid"`
}

// VerifyResult is returned by Registry.Verify.
type VerifyResult struct {
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name,omitempty"`
	Valid       bool   `json:"valid"`
	Checks      Checks `json:"checks"`
}
