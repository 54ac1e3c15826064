// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package did

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/VibeTensor/attestix/types"
)

// Fetcher is the outbound HTTP collaborator. SSRF filtering happens on the
// implementing side, before this boundary.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is the default Fetcher over net/http.
type HTTPFetcher struct {
	Client *http.Client
	// MaxResponseBytes caps a fetched document (default 1 MiB).
	MaxResponseBytes int64
}

// NewHTTPFetcher returns a Fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	maxBytes := f.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Fetcher handles did:web and universal-resolver HTTP calls. Defaults to
	// an HTTPFetcher with a 10s timeout.
	Fetcher Fetcher
	// UniversalResolverURL is the endpoint DIDs of unknown methods are
	// delegated to (the DID is appended). Empty means unknown methods fail
	// with ErrUnsupportedMethod.
	UniversalResolverURL string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Resolver resolves DID Documents. did:key resolution is pure computation
// and safe to run unrestricted in parallel; did:web and delegated methods
// block on I/O bounded by the caller's context.
type Resolver struct {
	fetcher      Fetcher
	universalURL string
	logger       *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(10 * time.Second)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		fetcher:      fetcher,
		universalURL: opts.UniversalResolverURL,
		logger:       logger,
	}
}

// Resolve returns the DID Document for the given DID.
func (r *Resolver) Resolve(ctx context.Context, did string) (*Document, error) {
	method, err := ParseMethod(did)
	if err != nil {
		return nil, err
	}

	switch method {
	case types.DIDMethodKey:
		return BuildKeyDocument(did)
	case types.DIDMethodWeb:
		return r.resolveWeb(ctx, did)
	default:
		return r.resolveUniversal(ctx, did, method)
	}
}

// resolveWeb fetches the document from the did:web hosting URL. Network
// failures and timeouts surface as ErrResolutionFailed, never as a false
// negative on any signature check downstream.
func (r *Resolver) resolveWeb(ctx context.Context, did string) (*Document, error) {
	url, err := WebURL(did)
	if err != nil {
		return nil, err
	}

	body, err := r.fetcher.Get(ctx, url)
	if err != nil {
		return nil, &types.ErrResolutionFailed{DID: did, Reason: err.Error()}
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &types.ErrResolutionFailed{DID: did, Reason: fmt.Sprintf("parse JSON: %v", err)}
	}
	if doc.ID != did {
		return nil, &types.ErrResolutionFailed{DID: did, Reason: fmt.Sprintf("document ID %q does not match requested DID", doc.ID)}
	}
	return &doc, nil
}

// resolveUniversal delegates an unknown method to the configured universal
// resolver, which wraps the document in a {"didDocument": ...} envelope.
func (r *Resolver) resolveUniversal(ctx context.Context, did string, method types.DIDMethod) (*Document, error) {
	if r.universalURL == "" {
		return nil, &types.ErrUnsupportedMethod{Method: string(method)}
	}

	url := strings.TrimSuffix(r.universalURL, "/") + "/" + did
	body, err := r.fetcher.Get(ctx, url)
	if err != nil {
		return nil, &types.ErrResolutionFailed{DID: did, Reason: err.Error()}
	}

	var envelope struct {
		DIDDocument *Document `json:"didDocument"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.DIDDocument != nil && envelope.DIDDocument.ID != "" {
		return envelope.DIDDocument, nil
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &types.ErrResolutionFailed{DID: did, Reason: fmt.Sprintf("parse JSON: %v", err)}
	}
	if doc.ID == "" {
		return nil, &types.ErrResolutionFailed{DID: did, Reason: "resolver returned no document"}
	}
	r.logger.Debug("resolved DID via universal resolver", "did", did, "method", string(method))
	return &doc, nil
}
