// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/VibeTensor/attestix/did"
	"github.com/VibeTensor/attestix/types"
)

// Translate projects an agent's identity token into a foreign identity
// format. The projection is lossy and read-only: it never re-signs anything
// and never mutates the stored token.
func (r *Registry) Translate(ctx context.Context, agentID string, format types.TranslationFormat) (map[string]any, error) {
	token, err := r.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	switch format {
	case types.FormatAgentCard:
		return toAgentCard(token), nil
	case types.FormatDIDDocument:
		return toDIDDocument(token), nil
	case types.FormatOAuthClaims:
		return toOAuthClaims(token), nil
	case types.FormatSummary:
		return toSummary(token), nil
	default:
		return nil, &types.ErrUnknownFormat{Format: string(format)}
	}
}

// toAgentCard renders an A2A Agent Card. Each capability becomes a skill
// whose ID is the first 8 hex chars of its SHA-256.
func toAgentCard(t *Token) map[string]any {
	skills := make([]map[string]any, 0, len(t.Capabilities))
	for _, cap := range t.Capabilities {
		sum := sha256.Sum256([]byte(cap))
		skills = append(skills, map[string]any{
			"id":          hex.EncodeToString(sum[:])[:8],
			"name":        cap,
			"description": fmt.Sprintf("Capability: %s", cap),
		})
	}

	return map[string]any{
		"name":        t.DisplayName,
		"description": t.Description,
		"url":         "ax://" + t.AgentID,
		"version":     t.Version,
		"capabilities": map[string]any{
			"streaming":         false,
			"pushNotifications": false,
		},
		"skills": skills,
		"provider": map[string]any{
			"organization": t.Issuer.Name,
		},
		"authentication": map[string]any{
			"schemes":     []string{"attestix-token"},
			"credentials": t.AgentID,
		},
		"_attestix_metadata": map[string]any{
			"agent_id":        t.AgentID,
			"source_protocol": t.SourceProtocol,
		},
	}
}

// toDIDDocument renders a DID Document anchored on the issuer's DID, with the
// agent's metadata exposed as a service endpoint.
func toDIDDocument(t *Token) map[string]any {
	issuerDID := t.Issuer.DID
	if issuerDID == "" {
		issuerDID = "did:key:" + t.AgentID
	}

	vm := map[string]any{
		"id":         issuerDID + "#key-1",
		"type":       string(types.VerificationMethodEd25519),
		"controller": issuerDID,
	}
	if doc, err := did.BuildKeyDocument(issuerDID); err == nil && len(doc.VerificationMethod) > 0 {
		vm["publicKeyMultibase"] = doc.VerificationMethod[0].PublicKeyMultibase
	}

	return map[string]any{
		"@context": []string{
			"https://www.w3.org/ns/did/v1",
			"https://w3id.org/security/suites/ed25519-2020/v1",
		},
		"id":                 issuerDID,
		"controller":         issuerDID,
		"verificationMethod": []map[string]any{vm},
		"authentication":     []string{issuerDID + "#key-1"},
		"service": []map[string]any{{
			"id":   issuerDID + "#agent",
			"type": "AttestixIdentity",
			"serviceEndpoint": map[string]any{
				"agent_id":     t.AgentID,
				"display_name": t.DisplayName,
				"capabilities": t.Capabilities,
			},
		}},
	}
}

// toOAuthClaims renders OAuth 2.0 token claims; capabilities join into the
// space-separated scope.
func toOAuthClaims(t *Token) map[string]any {
	return map[string]any{
		"sub":             t.AgentID,
		"iss":             t.Issuer.DID,
		"name":            t.DisplayName,
		"scope":           strings.Join(t.Capabilities, " "),
		"iat":             t.CreatedAt,
		"exp":             t.ExpiresAt,
		"token_version":   t.Version,
		"source_protocol": t.SourceProtocol,
	}
}

// toSummary renders the human-readable digest.
func toSummary(t *Token) map[string]any {
	return map[string]any{
		"agent_id":          t.AgentID,
		"display_name":      t.DisplayName,
		"description":       t.Description,
		"source_protocol":   t.SourceProtocol,
		"capabilities":      t.Capabilities,
		"issuer":            t.Issuer.Name,
		"created_at":        t.CreatedAt,
		"expires_at":        t.ExpiresAt,
		"revoked":           t.Revoked,
		"signature_present": t.Signature != "",
	}
}
