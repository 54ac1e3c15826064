// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package canonical produces the deterministic byte representation of JSON
// artifacts for signing and hashing. Two independent implementations of this
// package must emit byte-identical output for the same artifact, so the rules
// are fixed once: RFC 8785 (JSON Canonicalization Scheme) serialization with
// every string NFC-normalized first.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Marshal returns the canonical bytes of v: JSON-encoded, all strings (keys
// and values) normalized to Unicode NFC, keys sorted and numbers formatted
// per RFC 8785.
func Marshal(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	// Decode to a generic tree so strings can be normalized regardless of
	// how deeply the caller's type nests them. UseNumber keeps numeric
	// literals exact instead of round-tripping through float64.
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode intermediate: %w", err)
	}

	normalized := normalizeStrings(generic)

	renc, err := marshalNoEscape(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical: re-marshal: %w", err)
	}

	out, err := jcs.Transform(renc)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalizeStrings walks a decoded JSON tree and NFC-normalizes every string,
// including object keys.
func normalizeStrings(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalizeStrings(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = normalizeStrings(elem)
		}
		return out
	default:
		return v
	}
}

// marshalNoEscape encodes v without HTML escaping, which RFC 8785 forbids.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
