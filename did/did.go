// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package did derives and resolves Decentralized Identifiers. did:key and
// did:web are handled entirely by this package; every other method is
// delegated to an external universal-resolver collaborator.
package did

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"

	"github.com/VibeTensor/attestix/types"
)

// ed25519MulticodecPrefix is the multicodec varint prefix for Ed25519 public
// keys (0xed01).
var ed25519MulticodecPrefix = []byte{0xed, 0x01}

// Document is a W3C DID Document.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	Controller         string               `json:"controller,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication,omitempty"`
	AssertionMethod    []string             `json:"assertionMethod,omitempty"`
	Service            []Service            `json:"service,omitempty"`
}

// VerificationMethod is an entry in a DID Document's verificationMethod array.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
}

// Service is an entry in a DID Document's service array.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint any    `json:"serviceEndpoint"`
}

// documentContext is the @context every locally built document carries.
var documentContext = []string{
	"https://www.w3.org/ns/did/v1",
	"https://w3id.org/security/suites/ed25519-2020/v1",
}

// ParseMethod extracts the method tag from a DID string.
func ParseMethod(did string) (types.DIDMethod, error) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", &types.ErrInvalidDID{DID: did, Reason: "expected did:<method>:<identifier>"}
	}
	return types.DIDMethod(parts[1]), nil
}

// DeriveKey creates a did:key DID from an Ed25519 public key. The key is
// multicodec-prefixed with 0xed01 and multibase-encoded as base58btc, so the
// identifier always starts with "did:key:z".
func DeriveKey(publicKey ed25519.PublicKey) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("did: invalid Ed25519 public key length %d", len(publicKey))
	}

	prefixed := append(append([]byte{}, ed25519MulticodecPrefix...), publicKey...)
	encoded, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return "", fmt.Errorf("did: multibase encode: %w", err)
	}
	return "did:key:" + encoded, nil
}

// ExtractKeyPublicKey recovers the Ed25519 public key embedded in a did:key
// identifier.
func ExtractKeyPublicKey(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, "did:key:") {
		return nil, &types.ErrInvalidDID{DID: did, Reason: "not a did:key"}
	}

	_, decoded, err := multibase.Decode(strings.TrimPrefix(did, "did:key:"))
	if err != nil {
		return nil, &types.ErrInvalidDID{DID: did, Reason: fmt.Sprintf("multibase decode: %v", err)}
	}
	if len(decoded) != len(ed25519MulticodecPrefix)+ed25519.PublicKeySize ||
		decoded[0] != ed25519MulticodecPrefix[0] || decoded[1] != ed25519MulticodecPrefix[1] {
		return nil, &types.ErrInvalidDID{DID: did, Reason: "not an Ed25519 did:key (wrong multicodec prefix)"}
	}
	return ed25519.PublicKey(decoded[len(ed25519MulticodecPrefix):]), nil
}

// DeriveWeb constructs a did:web identifier for a domain and optional path.
// Slashes in the path become colons per the did:web method specification.
func DeriveWeb(domain, path string) (string, error) {
	if domain == "" {
		return "", &types.ErrInvalidDID{DID: "did:web:", Reason: "empty domain"}
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return "did:web:" + domain, nil
	}
	return "did:web:" + domain + ":" + strings.ReplaceAll(path, "/", ":"), nil
}

// WebURL maps a did:web identifier to the HTTPS URL where its document must
// be hosted:
//
//	did:web:example.com            => https://example.com/.well-known/did.json
//	did:web:example.com:agents:a1  => https://example.com/agents/a1/did.json
func WebURL(did string) (string, error) {
	withoutScheme := strings.TrimPrefix(did, "did:web:")
	if withoutScheme == "" || withoutScheme == did {
		return "", &types.ErrInvalidDID{DID: did, Reason: "not a did:web"}
	}

	parts := strings.SplitN(withoutScheme, ":", 2)
	host := strings.ReplaceAll(parts[0], "%3A", ":")
	if len(parts) == 1 {
		return fmt.Sprintf("https://%s/.well-known/did.json", host), nil
	}
	return fmt.Sprintf("https://%s/%s/did.json", host, strings.ReplaceAll(parts[1], ":", "/")), nil
}

// BuildDocument constructs a DID Document binding did to publicKey with a
// single verification method referenced from both authentication and
// assertionMethod.
func BuildDocument(did string, publicKey ed25519.PublicKey) (*Document, error) {
	encoded, err := multibase.Encode(multibase.Base58BTC, publicKey)
	if err != nil {
		return nil, fmt.Errorf("did: encode public key: %w", err)
	}

	vmID := did + "#key-1"
	return &Document{
		Context:    documentContext,
		ID:         did,
		Controller: did,
		VerificationMethod: []VerificationMethod{{
			ID:                 vmID,
			Type:               string(types.VerificationMethodEd25519),
			Controller:         did,
			PublicKeyMultibase: encoded,
		}},
		Authentication:  []string{vmID},
		AssertionMethod: []string{vmID},
	}, nil
}

// BuildKeyDocument reconstructs the DID Document for a did:key purely from
// the identifier. No I/O.
func BuildKeyDocument(did string) (*Document, error) {
	publicKey, err := ExtractKeyPublicKey(did)
	if err != nil {
		return nil, err
	}
	return BuildDocument(did, publicKey)
}

// Generated is the result of creating a fresh DID with its own key pair.
// The key material is returned once and not retained by this package.
type Generated struct {
	DID      string    `json:"did"`
	Document *Document `json:"did_document"`
	// HostingURL is where a did:web document must be published to resolve.
	// Empty for did:key.
	HostingURL    string `json:"hosting_url,omitempty"`
	Algorithm     string `json:"algorithm"`
	PublicKeyB64  string `json:"public_key_b64"`
	PrivateKeyB64 string `json:"private_key_b64"`
}

// CreateDIDKey generates an ephemeral Ed25519 key pair and its did:key.
func CreateDIDKey() (*Generated, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("did: generate key pair: %w", err)
	}

	did, err := DeriveKey(pub)
	if err != nil {
		return nil, err
	}
	doc, err := BuildDocument(did, pub)
	if err != nil {
		return nil, err
	}

	return &Generated{
		DID:           did,
		Document:      doc,
		Algorithm:     string(types.KeyAlgorithmEd25519),
		PublicKeyB64:  base64.URLEncoding.EncodeToString(pub),
		PrivateKeyB64: base64.URLEncoding.EncodeToString(priv.Seed()),
	}, nil
}

// CreateWebDID generates a did:web identifier, a fresh key pair, and the
// document the caller must host. Pure construction, no network.
func CreateWebDID(domain, path string) (*Generated, error) {
	did, err := DeriveWeb(domain, path)
	if err != nil {
		return nil, err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("did: generate key pair: %w", err)
	}
	doc, err := BuildDocument(did, pub)
	if err != nil {
		return nil, err
	}
	hostingURL, err := WebURL(did)
	if err != nil {
		return nil, err
	}

	return &Generated{
		DID:           did,
		Document:      doc,
		HostingURL:    hostingURL,
		Algorithm:     string(types.KeyAlgorithmEd25519),
		PublicKeyB64:  base64.URLEncoding.EncodeToString(pub),
		PrivateKeyB64: base64.URLEncoding.EncodeToString(priv.Seed()),
	}, nil
}

// ExtractPublicKey returns the first Ed25519 verification key from a document.
func ExtractPublicKey(doc *Document) (ed25519.PublicKey, error) {
	for _, vm := range doc.VerificationMethod {
		if vm.Type != string(types.VerificationMethodEd25519) || vm.PublicKeyMultibase == "" {
			continue
		}
		_, decoded, err := multibase.Decode(vm.PublicKeyMultibase)
		if err != nil {
			return nil, fmt.Errorf("did: decode publicKeyMultibase: %w", err)
		}
		if len(decoded) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("did: unexpected key length %d", len(decoded))
		}
		return ed25519.PublicKey(decoded), nil
	}
	return nil, fmt.Errorf("did: no Ed25519 verification method in document for %s", doc.ID)
}
