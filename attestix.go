// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package attestix wires the identity, delegation, credential, audit, and
// anchoring services into one system behind a single composition root. Each
// service is usable on its own; this package exists so callers get a
// consistently wired engine: one signing key, one repository, one audit
// chain that every lifecycle operation writes through.
package attestix

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VibeTensor/attestix/anchor"
	"github.com/VibeTensor/attestix/audit"
	"github.com/VibeTensor/attestix/credential"
	"github.com/VibeTensor/attestix/delegation"
	"github.com/VibeTensor/attestix/did"
	"github.com/VibeTensor/attestix/identity"
	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/storage"
)

// Config configures a System. The zero value plus a Repository is a working
// in-process engine with a local anchor gateway.
type Config struct {
	// Repository persists every record. Defaults to an in-memory store.
	Repository storage.Repository
	// Passphrase encrypts the signing key at rest when non-empty.
	Passphrase string
	// UniversalResolverURL enables resolution of DID methods beyond key and
	// web. Empty leaves them unsupported.
	UniversalResolverURL string
	// HTTPTimeout bounds did:web and universal-resolver fetches (default 10s).
	HTTPTimeout time.Duration
	// Gateway submits anchor hashes. Defaults to a LocalGateway.
	Gateway anchor.Gateway
	// DefaultIdentityExpiryDays defaults to 365.
	DefaultIdentityExpiryDays int
	// DefaultCredentialExpiryDays defaults to 365.
	DefaultCredentialExpiryDays int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// System is the assembled engine.
type System struct {
	Keys        *keys.Manager
	Resolver    *did.Resolver
	Identities  *identity.Registry
	Delegations *delegation.Engine
	Credentials *credential.Engine
	Audit       *audit.Chain
	Anchors     *anchor.Service
}

// New assembles a System. The signing key is loaded (or created) eagerly so
// key problems surface at startup, not on the first signing call, and so the
// audit chain can stamp the engine DID into every entry.
func New(ctx context.Context, cfg Config) (*System, error) {
	repo := cfg.Repository
	if repo == nil {
		repo = storage.NewMemory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	keyManager, err := keys.NewManager(keys.ManagerOptions{
		Repository: repo,
		Passphrase: cfg.Passphrase,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	kp, err := keyManager.LoadOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("attestix: initialize signing key: %w", err)
	}

	chain, err := audit.NewChain(audit.ChainOptions{
		Repository: repo,
		LoggedBy:   kp.DID,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	resolver := did.NewResolver(did.ResolverOptions{
		Fetcher:              did.NewHTTPFetcher(cfg.HTTPTimeout),
		UniversalResolverURL: cfg.UniversalResolverURL,
		Logger:               logger,
	})

	registry, err := identity.NewRegistry(identity.RegistryOptions{
		Repository:        repo,
		Keys:              keyManager,
		Audit:             chain,
		DefaultExpiryDays: cfg.DefaultIdentityExpiryDays,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	delegations, err := delegation.NewEngine(delegation.EngineOptions{
		Repository: repo,
		Keys:       keyManager,
		Identities: registry,
		Audit:      chain,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	credentials, err := credential.NewEngine(credential.EngineOptions{
		Repository:        repo,
		Keys:              keyManager,
		Resolver:          resolver,
		Audit:             chain,
		DefaultExpiryDays: cfg.DefaultCredentialExpiryDays,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	gateway := cfg.Gateway
	if gateway == nil {
		gateway = anchor.NewLocalGateway()
	}
	anchors, err := anchor.NewService(anchor.ServiceOptions{
		Gateway:    gateway,
		Repository: repo,
		Chain:      chain,
		Keys:       keyManager,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	// Purge cascades across every agent-linked store.
	registry.RegisterPurger("delegation", delegations)
	registry.RegisterPurger("credential", credentials)
	registry.RegisterPurger("audit", chain)

	return &System{
		Keys:        keyManager,
		Resolver:    resolver,
		Identities:  registry,
		Delegations: delegations,
		Credentials: credentials,
		Audit:       chain,
		Anchors:     anchors,
	}, nil
}

// DID returns the engine's signing DID.
func (s *System) DID(ctx context.Context) (string, error) {
	return s.Keys.DID(ctx)
}
