// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package credential

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/VibeTensor/attestix/did"
	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/types"
)

// Checks are the independent verification outcomes for a credential.
type Checks struct {
	Exists         bool `json:"exists"`
	StructureValid bool `json:"structure_valid"`
	SignatureValid bool `json:"signature_valid"`
	NotExpired     bool `json:"not_expired"`
	NotRevoked     bool `json:"not_revoked"`
}

// VerifyResult reports a credential's verification outcome. An invalid
// credential is a result, not an error.
type VerifyResult struct {
	CredentialID string `json:"credential_id"`
	Valid        bool   `json:"valid"`
	Checks       Checks `json:"checks"`
}

// Verify runs the independent checks on a stored credential. A missing
// credential short-circuits to an all-false result.
func (e *Engine) Verify(ctx context.Context, credentialID string) (*VerifyResult, error) {
	cred, err := e.Get(ctx, credentialID)
	if err != nil {
		var notFound *types.ErrNotFound
		if errors.As(err, &notFound) {
			return &VerifyResult{CredentialID: credentialID}, nil
		}
		return nil, err
	}
	return e.verifyCredential(ctx, cred)
}

// VerifyExternal verifies a caller-supplied credential with no local record.
// The issuer's public key comes from independently resolving the issuer DID,
// never from local state.
func (e *Engine) VerifyExternal(ctx context.Context, cred *Credential) (*VerifyResult, error) {
	return e.verifyCredential(ctx, cred)
}

func (e *Engine) verifyCredential(ctx context.Context, cred *Credential) (*VerifyResult, error) {
	result := &VerifyResult{CredentialID: cred.ID}
	result.Checks.Exists = true
	result.Checks.StructureValid = structureValid(cred)
	result.Checks.NotExpired = !cred.IsExpired(time.Now().UTC())
	result.Checks.NotRevoked = cred.CredentialStatus == nil || !cred.CredentialStatus.Revoked

	if result.Checks.StructureValid {
		publicKey, err := e.issuerPublicKey(ctx, cred.Issuer.ID)
		if err == nil {
			if payload, err := signablePayload(cred); err == nil {
				result.Checks.SignatureValid = keys.VerifyCanonical(publicKey, payload, cred.Proof.ProofValue)
			}
		}
	}

	result.Valid = result.Checks.StructureValid &&
		result.Checks.SignatureValid &&
		result.Checks.NotExpired &&
		result.Checks.NotRevoked
	return result, nil
}

// structureValid checks the shape a verifier depends on before touching the
// signature.
func structureValid(cred *Credential) bool {
	if cred.ID == "" || len(cred.Type) == 0 || cred.Issuer.ID == "" {
		return false
	}
	if cred.Subject() == "" {
		return false
	}
	return cred.Proof != nil && cred.Proof.ProofValue != ""
}

// issuerPublicKey recovers the issuer's Ed25519 key. did:key issuers decode
// locally; anything else goes through the resolver.
func (e *Engine) issuerPublicKey(ctx context.Context, issuerDID string) (ed25519.PublicKey, error) {
	if key, err := did.ExtractKeyPublicKey(issuerDID); err == nil {
		return key, nil
	}
	if e.resolver == nil {
		return nil, &types.ErrUnsupportedMethod{Method: issuerDID}
	}
	doc, err := e.resolver.Resolve(ctx, issuerDID)
	if err != nil {
		return nil, err
	}
	return did.ExtractPublicKey(doc)
}
