// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/did"
	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/storage"
	"github.com/VibeTensor/attestix/types"
)

// issuerName is stamped into the issuer block of every token.
const issuerName = "attestix"

// AuditRecorder is the audit collaborator. Satisfied by audit.Chain.
type AuditRecorder interface {
	Record(ctx context.Context, agentID string, action types.ActionType, input, output, rationale string) error
}

// Purger removes every record a store holds for one agent, returning the
// count deleted.
type Purger interface {
	PurgeAgent(ctx context.Context, agentID string) (int, error)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Repository persists identity tokens. Required.
	Repository storage.Repository
	// Keys signs and verifies tokens. Required.
	Keys *keys.Manager
	// Audit receives lifecycle entries. Optional; nil disables audit logging.
	Audit AuditRecorder
	// DefaultExpiryDays applies when Create is not given an expiry (default 365).
	DefaultExpiryDays int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Registry issues, stores, verifies, revokes, translates, and purges agent
// identity tokens. All methods are safe for concurrent use; storage is the
// serialization point.
type Registry struct {
	repo       storage.Repository
	keys       *keys.Manager
	audit      AuditRecorder
	expiryDays int
	logger     *slog.Logger

	purgers map[string]Purger
}

// NewRegistry constructs a Registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("identity: RegistryOptions.Repository must not be nil")
	}
	if opts.Keys == nil {
		return nil, fmt.Errorf("identity: RegistryOptions.Keys must not be nil")
	}
	expiryDays := opts.DefaultExpiryDays
	if expiryDays <= 0 {
		expiryDays = 365
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:       opts.Repository,
		keys:       opts.Keys,
		audit:      opts.Audit,
		expiryDays: expiryDays,
		logger:     logger,
		purgers:    make(map[string]Purger),
	}, nil
}

func tokenKey(agentID string) string {
	return "identity/" + agentID
}

// CreateOptions carries parameters for Registry.Create.
type CreateOptions struct {
	DisplayName    string
	Description    string
	SourceProtocol string
	// IdentityToken is an existing credential from the source protocol
	// (a JWT, API key, or DID) wrapped into the new token. Optional.
	IdentityToken string
	Capabilities  []string
	// ExpiresInDays overrides the registry default when positive.
	ExpiresInDays int
}

// Create issues a new signed identity token. The agent ID is generated here
// and is the token's storage key.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Token, error) {
	if opts.DisplayName == "" {
		return nil, fmt.Errorf("identity: DisplayName must not be empty")
	}

	issuerDID, err := r.keys.DID(ctx)
	if err != nil {
		return nil, err
	}

	expiryDays := opts.ExpiresInDays
	if expiryDays <= 0 {
		expiryDays = r.expiryDays
	}

	capabilities := opts.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}

	now := time.Now().UTC()
	token := &Token{
		Version:        types.TokenVersion,
		AgentID:        "ax:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		DisplayName:    opts.DisplayName,
		Description:    opts.Description,
		SourceProtocol: opts.SourceProtocol,
		IdentityToken:  opts.IdentityToken,
		Capabilities:   capabilities,
		Issuer:         Issuer{Name: issuerName, DID: issuerDID},
		CreatedAt:      now.Format(time.RFC3339),
		ExpiresAt:      now.AddDate(0, 0, expiryDays).Format(time.RFC3339),
	}
	if opts.IdentityToken != "" {
		token.TokenInfo = ExtractTokenInfo(opts.IdentityToken)
	}

	signable, err := signablePayload(token)
	if err != nil {
		return nil, err
	}
	token.Signature, err = r.keys.SignCanonical(ctx, signable)
	if err != nil {
		return nil, fmt.Errorf("identity: sign token: %w", err)
	}

	if err := storage.PutJSON(ctx, r.repo, tokenKey(token.AgentID), token); err != nil {
		return nil, fmt.Errorf("identity: persist token: %w", err)
	}

	r.recordAudit(ctx, token.AgentID,
		fmt.Sprintf("create identity %q", opts.DisplayName),
		"identity token issued",
		"agent registration")
	r.logger.Info("identity created", "agent_id", token.AgentID, "display_name", token.DisplayName)
	return token, nil
}

// Get returns the stored token for an agent.
func (r *Registry) Get(ctx context.Context, agentID string) (*Token, error) {
	var token Token
	ok, err := storage.GetJSON(ctx, r.repo, tokenKey(agentID), &token)
	if err != nil {
		return nil, fmt.Errorf("identity: load token: %w", err)
	}
	if !ok {
		return nil, &types.ErrNotFound{Kind: "identity", ID: agentID}
	}
	return &token, nil
}

// Exists reports whether an identity token is stored for the agent.
func (r *Registry) Exists(ctx context.Context, agentID string) (bool, error) {
	_, ok, err := r.repo.Get(ctx, tokenKey(agentID))
	if err != nil {
		return false, fmt.Errorf("identity: check token: %w", err)
	}
	return ok, nil
}

// Capabilities returns the capability set of an agent's token. The boolean
// reports whether the agent exists.
func (r *Registry) Capabilities(ctx context.Context, agentID string) ([]string, bool, error) {
	var token Token
	ok, err := storage.GetJSON(ctx, r.repo, tokenKey(agentID), &token)
	if err != nil {
		return nil, false, fmt.Errorf("identity: load token: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return token.Capabilities, true, nil
}

// ListOptions filters List. Limit <= 0 means 50.
type ListOptions struct {
	SourceProtocol string
	IncludeRevoked bool
	Limit          int
}

// List returns stored tokens matching the filter, ordered by agent ID.
func (r *Registry) List(ctx context.Context, opts ListOptions) ([]*Token, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	records, err := r.repo.List(ctx, "identity/")
	if err != nil {
		return nil, fmt.Errorf("identity: list tokens: %w", err)
	}

	out := make([]*Token, 0, limit)
	for _, key := range storage.SortedKeys(records) {
		var token Token
		if _, err := storage.GetJSON(ctx, r.repo, key, &token); err != nil {
			return nil, err
		}
		if !opts.IncludeRevoked && token.Revoked {
			continue
		}
		if opts.SourceProtocol != "" && token.SourceProtocol != opts.SourceProtocol {
			continue
		}
		out = append(out, &token)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Verify runs the four independent checks on an agent's token. A missing
// token short-circuits to an all-false result; an invalid token is a valid
// verification outcome, never an error.
func (r *Registry) Verify(ctx context.Context, agentID string) (*VerifyResult, error) {
	token, err := r.Get(ctx, agentID)
	if err != nil {
		var notFound *types.ErrNotFound
		if errors.As(err, &notFound) {
			return &VerifyResult{AgentID: agentID, Valid: false}, nil
		}
		return nil, err
	}
	return r.verifyToken(token), nil
}

// verifyToken evaluates a loaded token. The signature check uses the public
// key embedded in the issuer's did:key, so a token signed by a different key
// fails closed.
func (r *Registry) verifyToken(token *Token) *VerifyResult {
	result := &VerifyResult{
		AgentID:     token.AgentID,
		DisplayName: token.DisplayName,
		Checks: Checks{
			Exists:     true,
			NotRevoked: !token.Revoked,
			NotExpired: !token.IsExpired(time.Now().UTC()),
		},
	}

	publicKey, err := did.ExtractKeyPublicKey(token.Issuer.DID)
	if err == nil {
		if signable, err := signablePayload(token); err == nil {
			result.Checks.SignatureValid = keys.VerifyCanonical(publicKey, signable, token.Signature)
		}
	}

	result.Valid = result.Checks.NotRevoked && result.Checks.NotExpired && result.Checks.SignatureValid
	return result
}

// Revoke marks an agent's token revoked. The signed payload is untouched, so
// the token's signature still verifies after revocation. Revoking an
// already-revoked token is a no-op reported via ErrAlreadyRevoked.
func (r *Registry) Revoke(ctx context.Context, agentID, reason string) (*Token, error) {
	token, err := r.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return token, &types.ErrAlreadyRevoked{Kind: "identity", ID: agentID}
	}

	token.Revoked = true
	token.RevocationReason = reason
	token.RevokedAt = time.Now().UTC().Format(time.RFC3339)

	if err := storage.PutJSON(ctx, r.repo, tokenKey(agentID), token); err != nil {
		return nil, fmt.Errorf("identity: persist revocation: %w", err)
	}

	r.recordAudit(ctx, agentID,
		fmt.Sprintf("revoke identity: %s", reason),
		"identity token revoked", reason)
	r.logger.Info("identity revoked", "agent_id", agentID, "reason", reason)
	return token, nil
}

// RegisterPurger adds a named store to the set Purge sweeps. The registry's
// own token store is always swept.
func (r *Registry) RegisterPurger(name string, p Purger) {
	r.purgers[name] = p
}

// PurgeResult reports, per store, how the sweep went. A failing store does
// not stop the sweep of the others.
type PurgeResult struct {
	AgentID string                  `json:"agent_id"`
	Stores  map[string]*StoreResult `json:"stores"`
}

// StoreResult is one store's outcome within a purge.
type StoreResult struct {
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// Purge removes every record held for an agent across the registry and all
// registered stores. Partial failure is reported, not rolled back.
func (r *Registry) Purge(ctx context.Context, agentID string) (*PurgeResult, error) {
	result := &PurgeResult{
		AgentID: agentID,
		Stores:  make(map[string]*StoreResult),
	}

	deleted, err := r.repo.Delete(ctx, tokenKey(agentID))
	store := &StoreResult{}
	if err != nil {
		store.Error = err.Error()
	} else if deleted {
		store.Deleted = 1
	}
	result.Stores["identity"] = store

	for name, purger := range r.purgers {
		count, err := purger.PurgeAgent(ctx, agentID)
		entry := &StoreResult{Deleted: count}
		if err != nil {
			entry.Error = err.Error()
			r.logger.Warn("purge store failed", "agent_id", agentID, "store", name, "err", err)
		}
		result.Stores[name] = entry
	}

	r.logger.Info("identity purged", "agent_id", agentID, "stores", len(result.Stores))
	return result, nil
}

// recordAudit best-effort logs a lifecycle entry. Audit failures are logged,
// not propagated, so identity operations stay available.
func (r *Registry) recordAudit(ctx context.Context, agentID, input, output, rationale string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(ctx, agentID, types.ActionIdentityLifecycle, input, output, rationale); err != nil {
		r.logger.Warn("audit record failed", "agent_id", agentID, "err", err)
	}
}
