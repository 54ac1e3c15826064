// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package anchor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/audit"
	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/storage"
	"github.com/VibeTensor/attestix/types"
)

func newService(t *testing.T) (*Service, *audit.Chain) {
	t.Helper()
	repo := storage.NewMemory()
	keyManager, err := keys.NewManager(keys.ManagerOptions{Repository: repo})
	require.NoError(t, err)
	chain, err := audit.NewChain(audit.ChainOptions{Repository: repo})
	require.NoError(t, err)
	s, err := NewService(ServiceOptions{
		Gateway:    NewLocalGateway(),
		Repository: repo,
		Chain:      chain,
		Keys:       keyManager,
	})
	require.NoError(t, err)
	return s, chain
}

func appendEntries(t *testing.T, chain *audit.Chain, agentID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := chain.Append(context.Background(), audit.AppendOptions{
			AgentID:       agentID,
			ActionType:    types.ActionInference,
			InputSummary:  fmt.Sprintf("input %d", i),
			OutputSummary: fmt.Sprintf("output %d", i),
		})
		require.NoError(t, err)
	}
}

func TestHashArtifactIsCanonical(t *testing.T) {
	first, err := HashArtifact(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	second, err := HashArtifact(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	third, err := HashArtifact(map[string]any{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestAnchorArtifact(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	hash, err := HashArtifact(map[string]any{"agent_id": "ax:a"})
	require.NoError(t, err)

	rec, err := s.AnchorArtifact(ctx, types.ArtifactIdentity, "ax:a", hash)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.AnchorID, "anchor:"))
	assert.Equal(t, hash, rec.ArtifactHash)
	assert.True(t, strings.HasPrefix(rec.TxRef, "local:"))
	assert.True(t, strings.HasPrefix(rec.IssuerDID, "did:key:z"))
}

func TestAnchorArtifactRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	_, err := s.AnchorArtifact(ctx, "made_up", "ax:a", strings.Repeat("ab", 32))
	require.Error(t, err)

	_, err = s.AnchorArtifact(ctx, types.ArtifactIdentity, "ax:a", "")
	require.Error(t, err)
}

func TestAnchorAuditBatch(t *testing.T) {
	ctx := context.Background()
	s, chain := newService(t)
	appendEntries(t, chain, "ax:a", 5)

	rec, batch, err := s.AnchorAuditBatch(ctx, BatchOptions{AgentID: "ax:a"})
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactAuditBatch, rec.ArtifactType)
	assert.Equal(t, batch.Root, rec.ArtifactHash)
	require.NotNil(t, rec.BatchMetadata)
	assert.Equal(t, "ax:a", rec.BatchMetadata.AgentID)
	assert.Equal(t, 5, rec.BatchMetadata.EntryCount)
	assert.Equal(t, batch.Root, rec.BatchMetadata.MerkleRoot)

	// The batch's proofs verify against the anchored root.
	for i := range batch.LeafHashes {
		proof, err := batch.ProveInclusion(i)
		require.NoError(t, err)
		assert.True(t, audit.VerifyInclusion(rec.ArtifactHash, proof.LeafHash, proof.Path))
	}
}

func TestAnchorAuditBatchEmptyWindow(t *testing.T) {
	s, _ := newService(t)
	_, _, err := s.AnchorAuditBatch(context.Background(), BatchOptions{AgentID: "ax:quiet"})
	require.Error(t, err)
}

func TestVerifyAnchor(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	hash, err := HashArtifact(map[string]any{"n": 1})
	require.NoError(t, err)
	_, err = s.AnchorArtifact(ctx, types.ArtifactCredential, "urn:uuid:c1", hash)
	require.NoError(t, err)

	found, err := s.VerifyAnchor(ctx, hash)
	require.NoError(t, err)
	assert.True(t, found.Verified)
	assert.Len(t, found.Anchors, 1)

	missing, err := s.VerifyAnchor(ctx, strings.Repeat("00", 32))
	require.NoError(t, err)
	assert.False(t, missing.Verified)
	assert.Empty(t, missing.Anchors)
}

func TestStatusGroupsByType(t *testing.T) {
	ctx := context.Background()
	s, chain := newService(t)
	appendEntries(t, chain, "ax:a", 2)

	identityHash, err := HashArtifact(map[string]any{"agent_id": "ax:a"})
	require.NoError(t, err)
	_, err = s.AnchorArtifact(ctx, types.ArtifactIdentity, "ax:a", identityHash)
	require.NoError(t, err)
	_, _, err = s.AnchorAuditBatch(ctx, BatchOptions{AgentID: "ax:a"})
	require.NoError(t, err)

	otherHash, err := HashArtifact(map[string]any{"agent_id": "ax:b"})
	require.NoError(t, err)
	_, err = s.AnchorArtifact(ctx, types.ArtifactIdentity, "ax:b", otherHash)
	require.NoError(t, err)

	report, err := s.Status(ctx, "ax:a")
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalAnchors)
	assert.Equal(t, 1, report.ByType[string(types.ArtifactIdentity)])
	assert.Equal(t, 1, report.ByType[string(types.ArtifactAuditBatch)])
}

func TestLocalGatewayIsDeterministicPerHash(t *testing.T) {
	ctx := context.Background()
	g := NewLocalGateway()

	hash := strings.Repeat("ab", 32)
	first, err := g.Submit(ctx, hash)
	require.NoError(t, err)
	second, err := g.Submit(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, first.TxRef, second.TxRef)
	assert.NotEqual(t, first.BlockRef, second.BlockRef)

	_, err = g.Submit(ctx, "not-hex")
	require.Error(t, err)
}
