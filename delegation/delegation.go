// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package delegation issues and verifies capability-delegation tokens in the
// UCAN style: EdDSA-signed JWTs chained through parent references, where each
// link may only narrow the capability set it received. Attenuation violations
// fail at creation time; verification walks the full ancestor chain.
package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/storage"
	"github.com/VibeTensor/attestix/types"
)

// Claims is the JWT payload of a delegation token. The audience agent is both
// aud and sub; prf references the parent delegation for chained grants.
type Claims struct {
	jwt.RegisteredClaims
	Capabilities []string `json:"att"`
	ParentID     string   `json:"prf,omitempty"`
}

// Record is the stored shape of a delegation. Token is the signed JWT;
// everything else is denormalized for listing and revocation without
// re-parsing.
type Record struct {
	DelegationID     string   `json:"delegation_id"`
	Token            string   `json:"token"`
	Issuer           string   `json:"issuer"`
	Audience         string   `json:"audience"`
	Capabilities     []string `json:"capabilities"`
	ParentID         string   `json:"parent_id,omitempty"`
	CreatedAt        string   `json:"created_at"`
	ExpiresAt        string   `json:"expires_at"`
	Revoked          bool     `json:"revoked"`
	RevocationReason string   `json:"revocation_reason,omitempty"`
	RevokedAt        string   `json:"revoked_at,omitempty"`
}

// IdentityDirectory is the identity collaborator. Satisfied by
// identity.Registry.
type IdentityDirectory interface {
	Capabilities(ctx context.Context, agentID string) ([]string, bool, error)
}

// AuditRecorder is the audit collaborator. Satisfied by audit.Chain.
type AuditRecorder interface {
	Record(ctx context.Context, agentID string, action types.ActionType, input, output, rationale string) error
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Repository persists delegation records. Required.
	Repository storage.Repository
	// Keys signs and verifies tokens. Required.
	Keys *keys.Manager
	// Identities resolves an issuer's own capability set for root
	// delegations. Optional; nil skips the root attenuation check.
	Identities IdentityDirectory
	// Audit receives delegation entries. Optional.
	Audit AuditRecorder
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine is the delegation service.
type Engine struct {
	repo       storage.Repository
	keys       *keys.Manager
	identities IdentityDirectory
	audit      AuditRecorder
	logger     *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("delegation: EngineOptions.Repository must not be nil")
	}
	if opts.Keys == nil {
		return nil, fmt.Errorf("delegation: EngineOptions.Keys must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:       opts.Repository,
		keys:       opts.Keys,
		identities: opts.Identities,
		audit:      opts.Audit,
		logger:     logger,
	}, nil
}

func recordKey(delegationID string) string {
	return "delegation/" + delegationID
}

// CreateOptions carries parameters for Engine.Create.
type CreateOptions struct {
	IssuerID   string
	AudienceID string
	// Capabilities must be a subset of the parent's delegated set, or of the
	// issuer's own set for a root delegation.
	Capabilities []string
	// ExpiryHours defaults to 24 when not positive.
	ExpiryHours int
	// ParentID chains this delegation under an existing one.
	ParentID string
}

// Create issues a new delegation token. Attenuation is enforced here, never
// deferred to verification: a grant wider than its parent fails with
// CapabilityExceeded naming the offending capabilities.
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (*Record, error) {
	if opts.IssuerID == "" || opts.AudienceID == "" {
		return nil, fmt.Errorf("delegation: IssuerID and AudienceID must not be empty")
	}

	available, err := e.availableCapabilities(ctx, opts)
	if err != nil {
		return nil, err
	}
	if available != nil {
		if exceeded := exceeding(opts.Capabilities, available); len(exceeded) > 0 {
			return nil, &types.ErrCapabilityExceeded{Capabilities: exceeded}
		}
	}

	expiryHours := opts.ExpiryHours
	if expiryHours <= 0 {
		expiryHours = 24
	}

	capabilities := opts.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}

	now := time.Now().UTC()
	exp := now.Add(time.Duration(expiryHours) * time.Hour)
	delegationID := "dlg:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        delegationID,
			Issuer:    opts.IssuerID,
			Audience:  jwt.ClaimStrings{opts.AudienceID},
			Subject:   opts.AudienceID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Capabilities: capabilities,
		ParentID:     opts.ParentID,
	}

	kp, err := e.keys.LoadOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("delegation: sign token: %w", err)
	}

	rec := &Record{
		DelegationID: delegationID,
		Token:        token,
		Issuer:       opts.IssuerID,
		Audience:     opts.AudienceID,
		Capabilities: capabilities,
		ParentID:     opts.ParentID,
		CreatedAt:    now.Format(time.RFC3339),
		ExpiresAt:    exp.Format(time.RFC3339),
	}
	if err := storage.PutJSON(ctx, e.repo, recordKey(delegationID), rec); err != nil {
		return nil, fmt.Errorf("delegation: persist record: %w", err)
	}

	e.recordAudit(ctx, opts.IssuerID,
		fmt.Sprintf("delegate [%s] to %s", strings.Join(capabilities, ", "), opts.AudienceID),
		fmt.Sprintf("delegation %s issued", delegationID),
		"capability delegation")
	e.logger.Info("delegation created",
		"delegation_id", delegationID, "issuer", opts.IssuerID,
		"audience", opts.AudienceID, "parent_id", opts.ParentID)
	return rec, nil
}

// availableCapabilities returns the set the new grant must attenuate from:
// the parent's delegated set for chained grants, the issuer's own token
// capabilities for root grants. Nil means no check applies.
func (e *Engine) availableCapabilities(ctx context.Context, opts CreateOptions) ([]string, error) {
	if opts.ParentID != "" {
		parent, err := e.Get(ctx, opts.ParentID)
		if err != nil {
			return nil, err
		}
		result, err := e.Verify(ctx, parent.Token)
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, fmt.Errorf("delegation: parent %s is not valid: %s", opts.ParentID, result.Reason)
		}
		if parent.Audience != opts.IssuerID {
			return nil, fmt.Errorf("delegation: issuer %s is not the audience of parent %s", opts.IssuerID, opts.ParentID)
		}
		return parent.Capabilities, nil
	}

	if e.identities == nil {
		return nil, nil
	}
	capabilities, ok, err := e.identities.Capabilities(ctx, opts.IssuerID)
	if err != nil {
		return nil, fmt.Errorf("delegation: resolve issuer capabilities: %w", err)
	}
	if !ok {
		return nil, &types.ErrNotFound{Kind: "identity", ID: opts.IssuerID}
	}
	return capabilities, nil
}

// Get returns a stored delegation record.
func (e *Engine) Get(ctx context.Context, delegationID string) (*Record, error) {
	var rec Record
	ok, err := storage.GetJSON(ctx, e.repo, recordKey(delegationID), &rec)
	if err != nil {
		return nil, fmt.Errorf("delegation: load record: %w", err)
	}
	if !ok {
		return nil, &types.ErrNotFound{Kind: "delegation", ID: delegationID}
	}
	return &rec, nil
}

// VerifyResult reports a token's verification outcome. An invalid token is a
// result, not an error; Reason says which contract broke.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	DelegationID string   `json:"delegation_id,omitempty"`
	Issuer       string   `json:"issuer,omitempty"`
	Audience     string   `json:"audience,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// Verify checks a delegation token's signature, time bounds, revocation
// status, and every ancestor in its parent chain. Revoking any ancestor
// invalidates all descendants; each link's capability set must be a subset
// of its parent's.
func (e *Engine) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	kp, err := e.keys.LoadOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return kp.PublicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return &VerifyResult{Valid: false, Reason: err.Error()}, nil
	}
	if !parsed.Valid {
		return &VerifyResult{Valid: false, Reason: "invalid token"}, nil
	}

	result := &VerifyResult{
		DelegationID: claims.ID,
		Issuer:       claims.Issuer,
		Capabilities: claims.Capabilities,
	}
	if len(claims.Audience) > 0 {
		result.Audience = claims.Audience[0]
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}

	rec, err := e.Get(ctx, claims.ID)
	if err != nil {
		var notFound *types.ErrNotFound
		if errors.As(err, &notFound) {
			result.Reason = fmt.Sprintf("delegation %s has no record", claims.ID)
			return result, nil
		}
		return nil, err
	}
	if rec.Revoked {
		result.Reason = fmt.Sprintf("delegation %s is revoked", rec.DelegationID)
		return result, nil
	}

	if reason, err := e.verifyAncestors(ctx, rec); err != nil {
		return nil, err
	} else if reason != "" {
		result.Reason = reason
		return result, nil
	}

	result.Valid = true
	return result, nil
}

// verifyAncestors walks the parent chain, checking revocation, expiry, and
// attenuation at every link. Returns a non-empty reason on the first broken
// link.
func (e *Engine) verifyAncestors(ctx context.Context, rec *Record) (string, error) {
	now := time.Now().UTC()
	child := rec
	seen := map[string]bool{rec.DelegationID: true}

	for child.ParentID != "" {
		if seen[child.ParentID] {
			return fmt.Sprintf("delegation chain contains a cycle at %s", child.ParentID), nil
		}
		seen[child.ParentID] = true

		parent, err := e.Get(ctx, child.ParentID)
		if err != nil {
			var notFound *types.ErrNotFound
			if errors.As(err, &notFound) {
				return fmt.Sprintf("ancestor delegation %s not found", child.ParentID), nil
			}
			return "", err
		}
		if parent.Revoked {
			return fmt.Sprintf("ancestor delegation %s is revoked", parent.DelegationID), nil
		}
		if exp, err := time.Parse(time.RFC3339, parent.ExpiresAt); err == nil && !now.Before(exp) {
			return fmt.Sprintf("ancestor delegation %s is expired", parent.DelegationID), nil
		}
		if exceeded := exceeding(child.Capabilities, parent.Capabilities); len(exceeded) > 0 {
			return fmt.Sprintf("delegation %s exceeds ancestor %s: %s",
				child.DelegationID, parent.DelegationID, strings.Join(exceeded, ", ")), nil
		}
		child = parent
	}
	return "", nil
}

// Revoke marks a delegation revoked. Future Verify calls on it and its
// descendants fail; decisions already made against it are not retracted.
// Revoking twice is a no-op reported via ErrAlreadyRevoked.
func (e *Engine) Revoke(ctx context.Context, delegationID, reason string) (*Record, error) {
	rec, err := e.Get(ctx, delegationID)
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		return rec, &types.ErrAlreadyRevoked{Kind: "delegation", ID: delegationID}
	}

	rec.Revoked = true
	rec.RevocationReason = reason
	rec.RevokedAt = time.Now().UTC().Format(time.RFC3339)
	if err := storage.PutJSON(ctx, e.repo, recordKey(delegationID), rec); err != nil {
		return nil, fmt.Errorf("delegation: persist revocation: %w", err)
	}

	e.recordAudit(ctx, rec.Issuer,
		fmt.Sprintf("revoke delegation %s: %s", delegationID, reason),
		"delegation revoked", reason)
	e.logger.Info("delegation revoked", "delegation_id", delegationID, "reason", reason)
	return rec, nil
}

// ListOptions filters List. Role defaults to RoleAny; Limit <= 0 means 50.
type ListOptions struct {
	AgentID        string
	Role           types.DelegationRole
	IncludeExpired bool
	IncludeRevoked bool
	Limit          int
}

// List returns delegation records matching the filter, ordered by ID.
func (e *Engine) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	role := opts.Role
	if role == "" {
		role = types.RoleAny
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	records, err := e.repo.List(ctx, "delegation/")
	if err != nil {
		return nil, fmt.Errorf("delegation: list records: %w", err)
	}

	now := time.Now().UTC()
	out := make([]*Record, 0, limit)
	for _, key := range storage.SortedKeys(records) {
		var rec Record
		if _, err := storage.GetJSON(ctx, e.repo, key, &rec); err != nil {
			return nil, err
		}
		if opts.AgentID != "" {
			switch role {
			case types.RoleIssuer:
				if rec.Issuer != opts.AgentID {
					continue
				}
			case types.RoleAudience:
				if rec.Audience != opts.AgentID {
					continue
				}
			default:
				if rec.Issuer != opts.AgentID && rec.Audience != opts.AgentID {
					continue
				}
			}
		}
		if !opts.IncludeRevoked && rec.Revoked {
			continue
		}
		if !opts.IncludeExpired {
			if exp, err := time.Parse(time.RFC3339, rec.ExpiresAt); err == nil && !now.Before(exp) {
				continue
			}
		}
		out = append(out, &rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PurgeAgent deletes every delegation the agent issued or received.
func (e *Engine) PurgeAgent(ctx context.Context, agentID string) (int, error) {
	records, err := e.repo.List(ctx, "delegation/")
	if err != nil {
		return 0, fmt.Errorf("delegation: list records for purge: %w", err)
	}

	deleted := 0
	for key, raw := range records {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.Issuer != agentID && rec.Audience != agentID {
			continue
		}
		ok, err := e.repo.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("delegation: delete %s: %w", key, err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// exceeding returns the capabilities in granted that are absent from
// available, sorted for stable error messages.
func exceeding(granted, available []string) []string {
	allowed := make(map[string]bool, len(available))
	for _, cap := range available {
		allowed[cap] = true
	}
	var out []string
	for _, cap := range granted {
		if !allowed[cap] {
			out = append(out, cap)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) recordAudit(ctx context.Context, agentID, input, output, rationale string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, agentID, types.ActionDelegation, input, output, rationale); err != nil {
		e.logger.Warn("audit record failed", "agent_id", agentID, "err", err)
	}
}
