// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package credential issues, verifies, and revokes W3C Verifiable
// Credentials with Ed25519Signature2020 proofs, and bundles them into
// Verifiable Presentations with challenge/domain replay protection.
//
// The signing payload excludes both proof and credentialStatus. Status is
// mutable after issuance; including it would make revoking a credential
// break its own signature.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/did"
	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/storage"
	"github.com/VibeTensor/attestix/types"
)

// vcContext is the @context every issued credential and presentation carries.
var vcContext = []string{
	"https://www.w3.org/2018/credentials/v1",
	"https://w3id.org/security/suites/ed25519-2020/v1",
}

// statusType tags the revocation status object on issued credentials.
const statusType = "AttestixRevocationStatus"

// Status is a credential's mutable revocation state. Never part of the
// signed payload.
type Status struct {
	Type             string `json:"type"`
	Revoked          bool   `json:"revoked"`
	RevocationReason string `json:"revocation_reason,omitempty"`
	RevokedAt        string `json:"revoked_at,omitempty"`
}

// Proof is a Linked Data Proof. Challenge and Domain are set on presentation
// proofs only.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
	Challenge          string `json:"challenge,omitempty"`
	Domain             string `json:"domain,omitempty"`
}

// IssuerRef names the credential issuer.
type IssuerRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Credential is a W3C Verifiable Credential. CredentialSubject always
// carries an "id" key naming the subject agent.
type Credential struct {
	Context           []string       `json:"@context"`
	ID                string         `json:"id"`
	Type              []string       `json:"type"`
	Issuer            IssuerRef      `json:"issuer"`
	IssuanceDate      string         `json:"issuanceDate"`
	ExpirationDate    string         `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	CredentialStatus  *Status        `json:"credentialStatus,omitempty"`
	Proof             *Proof         `json:"proof,omitempty"`
}

// Subject returns the credentialSubject id, or "".
func (c *Credential) Subject() string {
	s, _ := c.CredentialSubject["id"].(string)
	return s
}

// IsExpired reports whether the credential's expiry is in the past. No
// parseable expiry means non-expiring.
func (c *Credential) IsExpired(now time.Time) bool {
	if c.ExpirationDate == "" {
		return false
	}
	exp, err := time.Parse(time.RFC3339, c.ExpirationDate)
	if err != nil {
		return false
	}
	return !now.Before(exp)
}

// signablePayload projects a credential onto the fields covered by its
// proof: everything except proof and credentialStatus.
func signablePayload(c *Credential) (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("credential: marshal credential: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("credential: unmarshal credential: %w", err)
	}
	delete(m, "proof")
	delete(m, "credentialStatus")
	return m, nil
}

// Resolver resolves issuer DIDs for externally supplied credentials.
// Satisfied by did.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, didStr string) (*did.Document, error)
}

// AuditRecorder is the audit collaborator. Satisfied by audit.Chain.
type AuditRecorder interface {
	Record(ctx context.Context, agentID string, action types.ActionType, input, output, rationale string) error
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Repository persists credentials. Required.
	Repository storage.Repository
	// Keys signs credentials and presentations. Required.
	Keys *keys.Manager
	// Resolver resolves issuer DIDs in VerifyExternal. Optional; nil limits
	// external verification to did:key issuers.
	Resolver Resolver
	// Audit receives lifecycle entries. Optional.
	Audit AuditRecorder
	// DefaultExpiryDays applies when Issue is not given an expiry (default 365).
	DefaultExpiryDays int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine is the credential service.
type Engine struct {
	repo       storage.Repository
	keys       *keys.Manager
	resolver   Resolver
	audit      AuditRecorder
	expiryDays int
	logger     *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("credential: EngineOptions.Repository must not be nil")
	}
	if opts.Keys == nil {
		return nil, fmt.Errorf("credential: EngineOptions.Keys must not be nil")
	}
	expiryDays := opts.DefaultExpiryDays
	if expiryDays <= 0 {
		expiryDays = 365
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:       opts.Repository,
		keys:       opts.Keys,
		resolver:   opts.Resolver,
		audit:      opts.Audit,
		expiryDays: expiryDays,
		logger:     logger,
	}, nil
}

func credentialKey(credentialID string) string {
	return "credential/" + credentialID
}

// IssueOptions carries parameters for Engine.Issue.
type IssueOptions struct {
	SubjectID      string
	CredentialType string
	IssuerName     string
	Claims         map[string]any
	// ExpiryDays overrides the engine default when positive.
	ExpiryDays int
}

// Issue creates, signs, and stores a new credential.
func (e *Engine) Issue(ctx context.Context, opts IssueOptions) (*Credential, error) {
	if opts.SubjectID == "" {
		return nil, fmt.Errorf("credential: SubjectID must not be empty")
	}
	if opts.CredentialType == "" {
		return nil, fmt.Errorf("credential: CredentialType must not be empty")
	}

	issuerDID, err := e.keys.DID(ctx)
	if err != nil {
		return nil, err
	}

	expiryDays := opts.ExpiryDays
	if expiryDays <= 0 {
		expiryDays = e.expiryDays
	}

	subject := map[string]any{"id": opts.SubjectID}
	for k, v := range opts.Claims {
		if k != "id" {
			subject[k] = v
		}
	}

	now := time.Now().UTC()
	cred := &Credential{
		Context:           vcContext,
		ID:                "urn:uuid:" + uuid.NewString(),
		Type:              []string{"VerifiableCredential", opts.CredentialType},
		Issuer:            IssuerRef{ID: issuerDID, Name: opts.IssuerName},
		IssuanceDate:      now.Format(time.RFC3339),
		ExpirationDate:    now.AddDate(0, 0, expiryDays).Format(time.RFC3339),
		CredentialSubject: subject,
		CredentialStatus:  &Status{Type: statusType},
	}

	payload, err := signablePayload(cred)
	if err != nil {
		return nil, err
	}
	signature, err := e.keys.SignCanonical(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("credential: sign credential: %w", err)
	}
	cred.Proof = &Proof{
		Type:               string(types.ProofTypeEd25519Signature),
		Created:            now.Format(time.RFC3339),
		VerificationMethod: issuerDID + "#key-1",
		ProofPurpose:       "assertionMethod",
		ProofValue:         signature,
	}

	if err := storage.PutJSON(ctx, e.repo, credentialKey(cred.ID), cred); err != nil {
		return nil, fmt.Errorf("credential: persist credential: %w", err)
	}

	e.recordAudit(ctx, opts.SubjectID,
		fmt.Sprintf("issue %s credential", opts.CredentialType),
		fmt.Sprintf("credential %s issued", cred.ID),
		"credential issuance")
	e.logger.Info("credential issued",
		"credential_id", cred.ID, "subject", opts.SubjectID, "type", opts.CredentialType)
	return cred, nil
}

// Get returns a stored credential.
func (e *Engine) Get(ctx context.Context, credentialID string) (*Credential, error) {
	var cred Credential
	ok, err := storage.GetJSON(ctx, e.repo, credentialKey(credentialID), &cred)
	if err != nil {
		return nil, fmt.Errorf("credential: load credential: %w", err)
	}
	if !ok {
		return nil, &types.ErrNotFound{Kind: "credential", ID: credentialID}
	}
	return &cred, nil
}

// ListOptions filters List. Limit <= 0 means 50. ValidOnly drops revoked and
// expired credentials.
type ListOptions struct {
	SubjectID      string
	CredentialType string
	ValidOnly      bool
	Limit          int
}

// List returns stored credentials matching the filter, ordered by ID.
func (e *Engine) List(ctx context.Context, opts ListOptions) ([]*Credential, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	records, err := e.repo.List(ctx, "credential/")
	if err != nil {
		return nil, fmt.Errorf("credential: list credentials: %w", err)
	}

	now := time.Now().UTC()
	out := make([]*Credential, 0, limit)
	for _, key := range storage.SortedKeys(records) {
		var cred Credential
		if _, err := storage.GetJSON(ctx, e.repo, key, &cred); err != nil {
			return nil, err
		}
		if opts.SubjectID != "" && cred.Subject() != opts.SubjectID {
			continue
		}
		if opts.CredentialType != "" && !hasType(&cred, opts.CredentialType) {
			continue
		}
		if opts.ValidOnly {
			if cred.CredentialStatus != nil && cred.CredentialStatus.Revoked {
				continue
			}
			if cred.IsExpired(now) {
				continue
			}
		}
		out = append(out, &cred)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func hasType(c *Credential, credentialType string) bool {
	for _, t := range c.Type {
		if t == credentialType {
			return true
		}
	}
	return false
}

// Revoke flips the credential's status. The proof stays untouched, so the
// signature still verifies afterward; only the not_revoked check fails.
// Revoking twice is a no-op reported via ErrAlreadyRevoked.
func (e *Engine) Revoke(ctx context.Context, credentialID, reason string) (*Credential, error) {
	cred, err := e.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if cred.CredentialStatus == nil {
		cred.CredentialStatus = &Status{Type: statusType}
	}
	if cred.CredentialStatus.Revoked {
		return cred, &types.ErrAlreadyRevoked{Kind: "credential", ID: credentialID}
	}

	cred.CredentialStatus.Revoked = true
	cred.CredentialStatus.RevocationReason = reason
	cred.CredentialStatus.RevokedAt = time.Now().UTC().Format(time.RFC3339)
	if err := storage.PutJSON(ctx, e.repo, credentialKey(credentialID), cred); err != nil {
		return nil, fmt.Errorf("credential: persist revocation: %w", err)
	}

	e.recordAudit(ctx, cred.Subject(),
		fmt.Sprintf("revoke credential %s: %s", credentialID, reason),
		"credential revoked", reason)
	e.logger.Info("credential revoked", "credential_id", credentialID, "reason", reason)
	return cred, nil
}

// PurgeAgent deletes every credential whose subject is the agent.
func (e *Engine) PurgeAgent(ctx context.Context, agentID string) (int, error) {
	records, err := e.repo.List(ctx, "credential/")
	if err != nil {
		return 0, fmt.Errorf("credential: list credentials for purge: %w", err)
	}

	deleted := 0
	for key, raw := range records {
		var cred Credential
		if err := json.Unmarshal(raw, &cred); err != nil {
			continue
		}
		if cred.Subject() != agentID {
			continue
		}
		ok, err := e.repo.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("credential: delete %s: %w", key, err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (e *Engine) recordAudit(ctx context.Context, agentID, input, output, rationale string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, agentID, types.ActionCredentialLifecycle, input, output, rationale); err != nil {
		e.logger.Warn("audit record failed", "agent_id", agentID, "err", err)
	}
}
