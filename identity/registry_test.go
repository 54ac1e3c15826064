// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package identity

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/storage"
	"github.com/VibeTensor/attestix/types"
)

type recordedAudit struct {
	entries []string
}

func (a *recordedAudit) Record(_ context.Context, agentID string, action types.ActionType, input, _, _ string) error {
	a.entries = append(a.entries, fmt.Sprintf("%s %s %s", agentID, action, input))
	return nil
}

func newRegistry(t *testing.T) (*Registry, *recordedAudit) {
	t.Helper()
	repo := storage.NewMemory()
	keyManager, err := keys.NewManager(keys.ManagerOptions{Repository: repo})
	require.NoError(t, err)
	auditLog := &recordedAudit{}
	r, err := NewRegistry(RegistryOptions{
		Repository: repo,
		Keys:       keyManager,
		Audit:      auditLog,
	})
	require.NoError(t, err)
	return r, auditLog
}

func TestCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	r, auditLog := newRegistry(t)

	token, err := r.Create(ctx, CreateOptions{
		DisplayName:    "agent-a",
		Description:    "test agent",
		SourceProtocol: "manual",
		Capabilities:   []string{"x", "y"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token.AgentID, "ax:"))
	assert.Equal(t, types.TokenVersion, token.Version)
	assert.True(t, strings.HasPrefix(token.Issuer.DID, "did:key:z"))
	assert.NotEmpty(t, token.Signature)

	result, err := r.Verify(ctx, token.AgentID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, Checks{Exists: true, NotRevoked: true, NotExpired: true, SignatureValid: true}, result.Checks)

	require.Len(t, auditLog.entries, 1)
	assert.Contains(t, auditLog.entries[0], string(types.ActionIdentityLifecycle))
}

func TestCreateRequiresDisplayName(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Create(context.Background(), CreateOptions{})
	require.Error(t, err)
}

func TestVerifyMissingAgent(t *testing.T) {
	r, _ := newRegistry(t)
	result, err := r.Verify(context.Background(), "ax:nonexistent")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.Checks.Exists)
	assert.False(t, result.Checks.SignatureValid)
}

func TestVerifyDetectsTamperedToken(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	token, err := r.Create(ctx, CreateOptions{DisplayName: "agent-a"})
	require.NoError(t, err)

	// Rewrite a signed field in storage; the signature must stop verifying.
	token.DisplayName = "impostor"
	require.NoError(t, storage.PutJSON(ctx, r.repo, tokenKey(token.AgentID), token))

	result, err := r.Verify(ctx, token.AgentID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.Checks.SignatureValid)
	assert.True(t, result.Checks.NotRevoked)
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	token, err := r.Create(ctx, CreateOptions{DisplayName: "agent-a"})
	require.NoError(t, err)

	revoked, err := r.Revoke(ctx, token.AgentID, "compromised")
	require.NoError(t, err)
	assert.True(t, revoked.Revoked)
	assert.Equal(t, "compromised", revoked.RevocationReason)

	// Revocation flips the flag but never breaks the signature.
	result, err := r.Verify(ctx, token.AgentID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.Checks.NotRevoked)
	assert.True(t, result.Checks.SignatureValid)

	_, err = r.Revoke(ctx, token.AgentID, "again")
	var already *types.ErrAlreadyRevoked
	require.ErrorAs(t, err, &already)
}

func TestRevokeMissingAgent(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Revoke(context.Background(), "ax:nonexistent", "x")
	var notFound *types.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	a, err := r.Create(ctx, CreateOptions{DisplayName: "a", SourceProtocol: "manual"})
	require.NoError(t, err)
	_, err = r.Create(ctx, CreateOptions{DisplayName: "b", SourceProtocol: "a2a"})
	require.NoError(t, err)
	_, err = r.Revoke(ctx, a.AgentID, "done")
	require.NoError(t, err)

	active, err := r.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := r.List(ctx, ListOptions{IncludeRevoked: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	manual, err := r.List(ctx, ListOptions{SourceProtocol: "manual", IncludeRevoked: true})
	require.NoError(t, err)
	require.Len(t, manual, 1)
	assert.Equal(t, a.AgentID, manual[0].AgentID)
}

func TestCapabilities(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	token, err := r.Create(ctx, CreateOptions{DisplayName: "a", Capabilities: []string{"x"}})
	require.NoError(t, err)

	caps, ok, err := r.Capabilities(ctx, token.AgentID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, caps)

	_, ok, err = r.Capabilities(ctx, "ax:nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenIsExpired(t *testing.T) {
	now := time.Now().UTC()
	assert.False(t, (&Token{}).IsExpired(now))
	assert.False(t, (&Token{ExpiresAt: now.Add(time.Hour).Format(time.RFC3339)}).IsExpired(now))
	assert.True(t, (&Token{ExpiresAt: now.Add(-time.Hour).Format(time.RFC3339)}).IsExpired(now))
	assert.False(t, (&Token{ExpiresAt: "garbage"}).IsExpired(now))
}

type failingPurger struct{}

func (failingPurger) PurgeAgent(context.Context, string) (int, error) {
	return 0, fmt.Errorf("store offline")
}

type countingPurger struct{ n int }

func (p *countingPurger) PurgeAgent(context.Context, string) (int, error) {
	return p.n, nil
}

func TestPurgeReportsPartialFailure(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	token, err := r.Create(ctx, CreateOptions{DisplayName: "a"})
	require.NoError(t, err)

	r.RegisterPurger("credentials", &countingPurger{n: 3})
	r.RegisterPurger("delegations", failingPurger{})

	result, err := r.Purge(ctx, token.AgentID)
	require.NoError(t, err)
	require.Len(t, result.Stores, 3)

	assert.Equal(t, 1, result.Stores["identity"].Deleted)
	assert.Equal(t, 3, result.Stores["credentials"].Deleted)
	assert.Equal(t, "store offline", result.Stores["delegations"].Error)

	// The failing store does not abort the rest: the token is gone.
	ok, err := r.Exists(ctx, token.AgentID)
	require.NoError(t, err)
	assert.False(t, ok)
}
