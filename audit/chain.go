// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package audit maintains tamper-evident, hash-linked logs of agent actions.
// Chains are per-agent: each entry's chain_hash commits to the immediately
// preceding entry for the same agent, so recomputing any historical hash and
// finding a mismatch means tampering. Entries are append-only.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/canonical"
	"github.com/VibeTensor/attestix/storage"
	"github.com/VibeTensor/attestix/types"
)

// GenesisHash is the fixed "previous" value for the first entry of any
// agent's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one audited agent action. ChainHash is
// SHA-256(prev_chain_hash ‖ canonical(entry without chain_hash)).
type Entry struct {
	LogID         string           `json:"log_id"`
	AgentID       string           `json:"agent_id"`
	ActionType    types.ActionType `json:"action_type"`
	InputSummary  string           `json:"input_summary"`
	OutputSummary string           `json:"output_summary"`
	Rationale     string           `json:"decision_rationale"`
	HumanOverride bool             `json:"human_override"`
	Timestamp     string           `json:"timestamp"`
	LoggedBy      string           `json:"logged_by,omitempty"`
	Sequence      int              `json:"sequence"`
	PrevHash      string           `json:"prev_hash"`
	ChainHash     string           `json:"chain_hash"`
}

// AppendOptions carries parameters for Chain.Append.
type AppendOptions struct {
	AgentID       string
	ActionType    types.ActionType
	InputSummary  string
	OutputSummary string
	Rationale     string
	HumanOverride bool
}

// ChainOptions configures a Chain.
type ChainOptions struct {
	// Repository persists entries. Required.
	Repository storage.Repository
	// LoggedBy is stamped into every entry, typically the engine's DID.
	LoggedBy string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Chain is the audit log service. Appends to one agent's chain are strictly
// serialized; appends to different agents' chains proceed in parallel.
type Chain struct {
	repo     storage.Repository
	loggedBy string
	logger   *slog.Logger

	mu    sync.Mutex
	tails map[string]*tail
}

// tail tracks the end of one agent's chain. Its lock orders appends for that
// agent so two concurrent appends never hash against the same predecessor.
type tail struct {
	mu     sync.Mutex
	loaded bool
	seq    int // next sequence number
	hash   string
}

// NewChain constructs a Chain.
func NewChain(opts ChainOptions) (*Chain, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("audit: ChainOptions.Repository must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		repo:     opts.Repository,
		loggedBy: opts.LoggedBy,
		logger:   logger,
		tails:    make(map[string]*tail),
	}, nil
}

func entryKey(agentID string, seq int) string {
	return fmt.Sprintf("audit/%s/%08d", agentID, seq)
}

// Append records a new action for an agent and returns the stored entry,
// chain hash included.
func (c *Chain) Append(ctx context.Context, opts AppendOptions) (*Entry, error) {
	if opts.AgentID == "" {
		return nil, fmt.Errorf("audit: AgentID must not be empty")
	}
	if !types.ValidActionTypes[opts.ActionType] {
		return nil, fmt.Errorf("audit: invalid action type %q", opts.ActionType)
	}

	t := c.tailFor(opts.AgentID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded {
		if err := c.loadTail(ctx, opts.AgentID, t); err != nil {
			return nil, err
		}
	}

	entry := &Entry{
		LogID:         "audit:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		AgentID:       opts.AgentID,
		ActionType:    opts.ActionType,
		InputSummary:  opts.InputSummary,
		OutputSummary: opts.OutputSummary,
		Rationale:     opts.Rationale,
		HumanOverride: opts.HumanOverride,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		LoggedBy:      c.loggedBy,
		Sequence:      t.seq,
		PrevHash:      t.hash,
	}

	hash, err := computeChainHash(entry)
	if err != nil {
		return nil, err
	}
	entry.ChainHash = hash

	if err := storage.PutJSON(ctx, c.repo, entryKey(entry.AgentID, entry.Sequence), entry); err != nil {
		return nil, fmt.Errorf("audit: persist entry: %w", err)
	}

	t.seq++
	t.hash = entry.ChainHash
	return entry, nil
}

// Record is the single-call adapter the other engine components log through.
func (c *Chain) Record(ctx context.Context, agentID string, action types.ActionType, input, output, rationale string) error {
	_, err := c.Append(ctx, AppendOptions{
		AgentID:       agentID,
		ActionType:    action,
		InputSummary:  input,
		OutputSummary: output,
		Rationale:     rationale,
	})
	return err
}

// ChainResult is returned by VerifyChain. BrokenAt is the per-agent index of
// the first entry whose recomputed hash or predecessor link does not match.
type ChainResult struct {
	AgentID  string `json:"agent_id"`
	Valid    bool   `json:"valid"`
	Length   int    `json:"length"`
	BrokenAt *int   `json:"broken_at,omitempty"`
}

// VerifyChain recomputes every hash in an agent's chain. Tampering is
// reported, never repaired.
func (c *Chain) VerifyChain(ctx context.Context, agentID string) (*ChainResult, error) {
	entries, err := c.Entries(ctx, agentID)
	if err != nil {
		return nil, err
	}

	result := &ChainResult{AgentID: agentID, Valid: true, Length: len(entries)}
	prev := GenesisHash
	for i, entry := range entries {
		recomputed, err := computeChainHash(entry)
		if err != nil {
			return nil, err
		}
		if entry.PrevHash != prev || entry.ChainHash != recomputed {
			idx := i
			result.Valid = false
			result.BrokenAt = &idx
			c.logger.Warn("audit chain broken",
				"agent_id", agentID, "broken_at", idx,
				"err", (&types.ErrChainBroken{AgentID: agentID, Index: idx}).Error())
			break
		}
		prev = entry.ChainHash
	}
	return result, nil
}

// QueryOptions filters Query. Zero times mean unbounded; Limit <= 0 means 50.
type QueryOptions struct {
	AgentID    string
	ActionType types.ActionType
	Start      time.Time
	End        time.Time
	Limit      int
}

// Query returns filtered entries in chain order. Reading does not affect the
// chain.
func (c *Chain) Query(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	if opts.AgentID == "" {
		return nil, fmt.Errorf("audit: AgentID must not be empty")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	entries, err := c.Entries(ctx, opts.AgentID)
	if err != nil {
		return nil, err
	}

	out := make([]*Entry, 0, limit)
	for _, entry := range entries {
		if opts.ActionType != "" && entry.ActionType != opts.ActionType {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("audit: parse timestamp of %s: %w", entry.LogID, err)
		}
		if !opts.Start.IsZero() && ts.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && ts.After(opts.End) {
			continue
		}
		out = append(out, entry)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Entries returns an agent's full chain in sequence order.
func (c *Chain) Entries(ctx context.Context, agentID string) ([]*Entry, error) {
	records, err := c.repo.List(ctx, "audit/"+agentID+"/")
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}

	out := make([]*Entry, 0, len(records))
	for _, key := range storage.SortedKeys(records) {
		var entry Entry
		if _, err := storage.GetJSON(ctx, c.repo, key, &entry); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	return out, nil
}

// PurgeAgent deletes every entry of an agent's chain and returns the count.
func (c *Chain) PurgeAgent(ctx context.Context, agentID string) (int, error) {
	records, err := c.repo.List(ctx, "audit/"+agentID+"/")
	if err != nil {
		return 0, fmt.Errorf("audit: list entries for purge: %w", err)
	}
	deleted := 0
	for key := range records {
		ok, err := c.repo.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("audit: delete %s: %w", key, err)
		}
		if ok {
			deleted++
		}
	}

	c.mu.Lock()
	delete(c.tails, agentID)
	c.mu.Unlock()
	return deleted, nil
}

func (c *Chain) tailFor(agentID string) *tail {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tails[agentID]
	if !ok {
		t = &tail{hash: GenesisHash}
		c.tails[agentID] = t
	}
	return t
}

// loadTail recovers an agent's chain tail from storage, so appends continue
// an existing chain across process restarts. Caller holds t.mu.
func (c *Chain) loadTail(ctx context.Context, agentID string, t *tail) error {
	entries, err := c.Entries(ctx, agentID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		t.seq = last.Sequence + 1
		t.hash = last.ChainHash
	}
	t.loaded = true
	return nil
}

// computeChainHash hashes the entry's previous chain hash concatenated with
// the canonical bytes of the entry without its chain_hash field.
func computeChainHash(entry *Entry) (string, error) {
	hashable := *entry
	hashable.ChainHash = ""

	payload, err := canonical.Marshal(map[string]any{
		"log_id":             hashable.LogID,
		"agent_id":           hashable.AgentID,
		"action_type":        hashable.ActionType,
		"input_summary":      hashable.InputSummary,
		"output_summary":     hashable.OutputSummary,
		"decision_rationale": hashable.Rationale,
		"human_override":     hashable.HumanOverride,
		"timestamp":          hashable.Timestamp,
		"logged_by":          hashable.LoggedBy,
		"sequence":           hashable.Sequence,
		"prev_hash":          hashable.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize entry: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(entry.PrevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
