// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/types"
)

func createAgent(t *testing.T, r *Registry) *Token {
	t.Helper()
	token, err := r.Create(context.Background(), CreateOptions{
		DisplayName:    "translator",
		Description:    "test agent",
		SourceProtocol: "manual",
		Capabilities:   []string{"inference", "data_access"},
	})
	require.NoError(t, err)
	return token
}

func TestTranslateAgentCard(t *testing.T) {
	r, _ := newRegistry(t)
	token := createAgent(t, r)

	card, err := r.Translate(context.Background(), token.AgentID, types.FormatAgentCard)
	require.NoError(t, err)

	assert.Equal(t, "translator", card["name"])
	assert.Equal(t, "ax://"+token.AgentID, card["url"])

	skills, ok := card["skills"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, skills, 2)
	assert.Equal(t, "inference", skills[0]["name"])
	assert.Len(t, skills[0]["id"], 8)

	meta, ok := card["_attestix_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, token.AgentID, meta["agent_id"])
}

func TestTranslateDIDDocument(t *testing.T) {
	r, _ := newRegistry(t)
	token := createAgent(t, r)

	doc, err := r.Translate(context.Background(), token.AgentID, types.FormatDIDDocument)
	require.NoError(t, err)
	assert.Equal(t, token.Issuer.DID, doc["id"])

	vms, ok := doc["verificationMethod"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, vms, 1)
	assert.Equal(t, token.Issuer.DID+"#key-1", vms[0]["id"])
	assert.NotEmpty(t, vms[0]["publicKeyMultibase"])

	services, ok := doc["service"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, services, 1)
	endpoint, ok := services[0]["serviceEndpoint"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, token.AgentID, endpoint["agent_id"])
}

func TestTranslateOAuthClaims(t *testing.T) {
	r, _ := newRegistry(t)
	token := createAgent(t, r)

	claims, err := r.Translate(context.Background(), token.AgentID, types.FormatOAuthClaims)
	require.NoError(t, err)
	assert.Equal(t, token.AgentID, claims["sub"])
	assert.Equal(t, token.Issuer.DID, claims["iss"])
	assert.Equal(t, "inference data_access", claims["scope"])
}

func TestTranslateSummary(t *testing.T) {
	r, _ := newRegistry(t)
	token := createAgent(t, r)

	summary, err := r.Translate(context.Background(), token.AgentID, types.FormatSummary)
	require.NoError(t, err)
	assert.Equal(t, token.AgentID, summary["agent_id"])
	assert.Equal(t, false, summary["revoked"])
	assert.Equal(t, true, summary["signature_present"])
}

func TestTranslateUnknownFormat(t *testing.T) {
	r, _ := newRegistry(t)
	token := createAgent(t, r)

	_, err := r.Translate(context.Background(), token.AgentID, "pem")
	var unknown *types.ErrUnknownFormat
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "pem", unknown.Format)
}

func TestTranslateMissingAgent(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Translate(context.Background(), "ax:nonexistent", types.FormatSummary)
	var notFound *types.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}
