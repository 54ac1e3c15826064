// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package did

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/types"
)

// stubFetcher rewrites https URLs onto a test server.
type stubFetcher struct {
	server *httptest.Server
}

func (f *stubFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	rewritten := strings.Replace(url, "https://", f.server.URL+"/", 1)
	return NewHTTPFetcher(0).Get(ctx, rewritten)
}

func TestResolveDIDKeyLocally(t *testing.T) {
	gen, err := CreateDIDKey()
	require.NoError(t, err)

	r := NewResolver(ResolverOptions{})
	doc, err := r.Resolve(context.Background(), gen.DID)
	require.NoError(t, err)
	assert.Equal(t, gen.Document, doc)
}

func TestResolveDIDWeb(t *testing.T) {
	gen, err := CreateWebDID("example.com", "agents/a1")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/example.com/agents/a1/did.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(gen.Document)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	r := NewResolver(ResolverOptions{Fetcher: &stubFetcher{server: server}})
	doc, err := r.Resolve(context.Background(), gen.DID)
	require.NoError(t, err)
	assert.Equal(t, gen.DID, doc.ID)
}

func TestResolveDIDWebIDMismatch(t *testing.T) {
	gen, err := CreateWebDID("example.com", "")
	require.NoError(t, err)
	gen.Document.ID = "did:web:evil.example"

	mux := http.NewServeMux()
	mux.HandleFunc("/example.com/.well-known/did.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(gen.Document)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	r := NewResolver(ResolverOptions{Fetcher: &stubFetcher{server: server}})
	_, err = r.Resolve(context.Background(), "did:web:example.com")
	var failed *types.ErrResolutionFailed
	require.ErrorAs(t, err, &failed)
}

func TestResolveDIDWebFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	r := NewResolver(ResolverOptions{Fetcher: &stubFetcher{server: server}})
	_, err := r.Resolve(context.Background(), "did:web:example.com")
	var failed *types.ErrResolutionFailed
	require.ErrorAs(t, err, &failed)
}

func TestResolveUnknownMethodWithoutDelegate(t *testing.T) {
	r := NewResolver(ResolverOptions{})
	_, err := r.Resolve(context.Background(), "did:ion:EiD...")
	var unsupported *types.ErrUnsupportedMethod
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "ion", unsupported.Method)
}

func TestResolveViaUniversalResolver(t *testing.T) {
	gen, err := CreateDIDKey()
	require.NoError(t, err)
	target := "did:example:123"
	gen.Document.ID = target

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.True(t, strings.HasSuffix(req.URL.Path, target))
		_ = json.NewEncoder(w).Encode(map[string]any{"didDocument": gen.Document})
	}))
	defer server.Close()

	r := NewResolver(ResolverOptions{
		Fetcher:              NewHTTPFetcher(0),
		UniversalResolverURL: server.URL + "/1.0/identifiers",
	})
	doc, err := r.Resolve(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, target, doc.ID)
}
