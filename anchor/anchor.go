// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package anchor commits artifact hashes and audit Merkle roots to an
// external chain through the Gateway boundary. The engine never constructs
// or signs chain transactions itself; it hands a hash across the boundary
// and stores the opaque receipt it gets back.
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/audit"
	"github.com/VibeTensor/attestix/canonical"
	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/storage"
	"github.com/VibeTensor/attestix/types"
)

// Receipt is what the chain collaborator returns for a submitted hash. Both
// references are opaque to the engine.
type Receipt struct {
	TxRef    string `json:"tx_ref"`
	BlockRef string `json:"block_ref,omitempty"`
}

// Gateway is the chain-submission boundary.
type Gateway interface {
	Submit(ctx context.Context, hashHex string) (*Receipt, error)
}

// BatchMetadata describes the audit window behind an audit_batch anchor.
type BatchMetadata struct {
	AgentID    string `json:"agent_id"`
	EntryCount int    `json:"entry_count"`
	MerkleRoot string `json:"merkle_root"`
	Start      string `json:"start_date,omitempty"`
	End        string `json:"end_date,omitempty"`
}

// Record is a stored anchor: the link between a local artifact hash and its
// on-chain receipt.
type Record struct {
	AnchorID      string             `json:"anchor_id"`
	ArtifactType  types.ArtifactType `json:"artifact_type"`
	ArtifactID    string             `json:"artifact_id"`
	ArtifactHash  string             `json:"artifact_hash"`
	TxRef         string             `json:"tx_ref"`
	BlockRef      string             `json:"block_ref,omitempty"`
	AnchoredAt    string             `json:"anchored_at"`
	IssuerDID     string             `json:"issuer_did,omitempty"`
	BatchMetadata *BatchMetadata     `json:"batch_metadata,omitempty"`
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Gateway submits hashes to the chain. Required.
	Gateway Gateway
	// Repository persists anchor records. Required.
	Repository storage.Repository
	// Chain supplies audit entries for batch anchoring. Required for
	// AnchorAuditBatch; other operations work without it.
	Chain *audit.Chain
	// Keys stamps the issuer DID into anchor records. Optional.
	Keys *keys.Manager
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Service anchors artifacts and audit batches.
type Service struct {
	gateway Gateway
	repo    storage.Repository
	chain   *audit.Chain
	keys    *keys.Manager
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("anchor: ServiceOptions.Gateway must not be nil")
	}
	if opts.Repository == nil {
		return nil, fmt.Errorf("anchor: ServiceOptions.Repository must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway: opts.Gateway,
		repo:    opts.Repository,
		chain:   opts.Chain,
		keys:    opts.Keys,
		logger:  logger,
	}, nil
}

func anchorKey(anchorID string) string {
	return "anchor/" + anchorID
}

// HashArtifact computes the SHA-256 hex hash of an artifact's canonical
// form, the same canonicalization every signature in the engine uses.
func HashArtifact(artifact any) (string, error) {
	return canonical.Hash(artifact)
}

// AnchorArtifact submits an artifact hash through the gateway and stores the
// resulting record.
func (s *Service) AnchorArtifact(ctx context.Context, artifactType types.ArtifactType, artifactID, artifactHash string) (*Record, error) {
	if !types.ValidArtifactTypes[artifactType] {
		return nil, fmt.Errorf("anchor: invalid artifact type %q", artifactType)
	}
	if artifactHash == "" {
		return nil, fmt.Errorf("anchor: artifact hash must not be empty")
	}

	receipt, err := s.gateway.Submit(ctx, artifactHash)
	if err != nil {
		return nil, fmt.Errorf("anchor: submit %s: %w", artifactID, err)
	}

	rec := &Record{
		AnchorID:     "anchor:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		ArtifactType: artifactType,
		ArtifactID:   artifactID,
		ArtifactHash: artifactHash,
		TxRef:        receipt.TxRef,
		BlockRef:     receipt.BlockRef,
		AnchoredAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if s.keys != nil {
		if did, err := s.keys.DID(ctx); err == nil {
			rec.IssuerDID = did
		}
	}

	if err := storage.PutJSON(ctx, s.repo, anchorKey(rec.AnchorID), rec); err != nil {
		return nil, fmt.Errorf("anchor: persist record: %w", err)
	}

	s.logger.Info("artifact anchored",
		"anchor_id", rec.AnchorID, "artifact_type", string(artifactType),
		"artifact_id", artifactID, "tx_ref", rec.TxRef)
	return rec, nil
}

// BatchOptions selects the audit window for AnchorAuditBatch. Zero times
// mean unbounded.
type BatchOptions struct {
	AgentID string
	Start   time.Time
	End     time.Time
}

// AnchorAuditBatch builds a Merkle batch over an agent's audit entries in
// the window and anchors the root. The per-leaf proofs stay local; only the
// root crosses the gateway.
func (s *Service) AnchorAuditBatch(ctx context.Context, opts BatchOptions) (*Record, *audit.Batch, error) {
	if s.chain == nil {
		return nil, nil, fmt.Errorf("anchor: no audit chain configured")
	}
	if opts.AgentID == "" {
		return nil, nil, fmt.Errorf("anchor: AgentID must not be empty")
	}

	entries, err := s.windowEntries(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("anchor: no audit entries for %s in the given range", opts.AgentID)
	}

	batch, err := audit.BuildBatch(entries)
	if err != nil {
		return nil, nil, err
	}

	rec, err := s.AnchorArtifact(ctx, types.ArtifactAuditBatch, batch.BatchID, batch.Root)
	if err != nil {
		return nil, nil, err
	}

	rec.BatchMetadata = &BatchMetadata{
		AgentID:    opts.AgentID,
		EntryCount: len(entries),
		MerkleRoot: batch.Root,
		Start:      entries[0].Timestamp,
		End:        entries[len(entries)-1].Timestamp,
	}
	if err := storage.PutJSON(ctx, s.repo, anchorKey(rec.AnchorID), rec); err != nil {
		return nil, nil, fmt.Errorf("anchor: persist batch metadata: %w", err)
	}
	return rec, batch, nil
}

func (s *Service) windowEntries(ctx context.Context, opts BatchOptions) ([]*audit.Entry, error) {
	all, err := s.chain.Entries(ctx, opts.AgentID)
	if err != nil {
		return nil, err
	}
	out := make([]*audit.Entry, 0, len(all))
	for _, entry := range all {
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("anchor: parse timestamp of %s: %w", entry.LogID, err)
		}
		if !opts.Start.IsZero() && ts.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && ts.After(opts.End) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// VerifyResult reports which local anchor records match an artifact hash.
type VerifyResult struct {
	ArtifactHash string    `json:"artifact_hash"`
	Verified     bool      `json:"verified"`
	Anchors      []*Record `json:"anchors,omitempty"`
}

// VerifyAnchor looks up local anchor records for a hash. On-chain
// confirmation is the gateway operator's concern; the engine attests only to
// what it recorded.
func (s *Service) VerifyAnchor(ctx context.Context, artifactHash string) (*VerifyResult, error) {
	records, err := s.repo.List(ctx, "anchor/")
	if err != nil {
		return nil, fmt.Errorf("anchor: list records: %w", err)
	}

	result := &VerifyResult{ArtifactHash: artifactHash}
	for _, key := range storage.SortedKeys(records) {
		var rec Record
		if err := json.Unmarshal(records[key], &rec); err != nil {
			continue
		}
		if rec.ArtifactHash == artifactHash {
			result.Anchors = append(result.Anchors, &rec)
		}
	}
	result.Verified = len(result.Anchors) > 0
	return result, nil
}

// StatusReport summarizes an agent's anchors grouped by artifact type.
type StatusReport struct {
	AgentID      string         `json:"agent_id"`
	TotalAnchors int            `json:"total_anchors"`
	ByType       map[string]int `json:"by_type"`
	Anchors      []*Record      `json:"anchors"`
}

// Status returns every anchor tied to an agent, either through its artifact
// ID or through batch metadata.
func (s *Service) Status(ctx context.Context, agentID string) (*StatusReport, error) {
	records, err := s.repo.List(ctx, "anchor/")
	if err != nil {
		return nil, fmt.Errorf("anchor: list records: %w", err)
	}

	report := &StatusReport{
		AgentID: agentID,
		ByType:  make(map[string]int),
		Anchors: []*Record{},
	}
	for _, key := range storage.SortedKeys(records) {
		var rec Record
		if err := json.Unmarshal(records[key], &rec); err != nil {
			continue
		}
		matches := strings.Contains(rec.ArtifactID, agentID) ||
			(rec.BatchMetadata != nil && rec.BatchMetadata.AgentID == agentID)
		if !matches {
			continue
		}
		report.Anchors = append(report.Anchors, &rec)
		report.ByType[string(rec.ArtifactType)]++
	}
	report.TotalAnchors = len(report.Anchors)
	return report, nil
}

// LocalGateway is a development Gateway producing deterministic references
// from the submitted hash and a per-process sequence. No network.
type LocalGateway struct {
	seq atomic.Int64
}

// NewLocalGateway returns a LocalGateway.
func NewLocalGateway() *LocalGateway {
	return &LocalGateway{}
}

func (g *LocalGateway) Submit(_ context.Context, hashHex string) (*Receipt, error) {
	if _, err := hex.DecodeString(hashHex); err != nil {
		return nil, fmt.Errorf("anchor: hash is not hex: %w", err)
	}
	sum := sha256.Sum256([]byte(hashHex))
	return &Receipt{
		TxRef:    "local:" + hex.EncodeToString(sum[:])[:16],
		BlockRef: fmt.Sprintf("block:%d", g.seq.Add(1)),
	}, nil
}
