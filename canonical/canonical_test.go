// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 2, "a": 1, "c": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":"x"}`, string(out))
}

func TestMarshalDeterministicAcrossEquivalentInputs(t *testing.T) {
	type artifact struct {
		Name  string   `json:"name"`
		Count int      `json:"count"`
		Tags  []string `json:"tags"`
	}
	a := artifact{Name: "agent", Count: 3, Tags: []string{"x", "y"}}
	m := map[string]any{"tags": []string{"x", "y"}, "count": 3, "name": "agent"}

	fromStruct, err := Marshal(a)
	require.NoError(t, err)
	fromMap, err := Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, fromStruct, fromMap)
}

func TestMarshalNFCNormalizesStrings(t *testing.T) {
	// "é" as a precomposed code point vs. "e" + combining acute accent.
	precomposed := "caf\u00e9"
	decomposed := "cafe\u0301"

	a, err := Marshal(map[string]any{precomposed: decomposed})
	require.NoError(t, err)
	b, err := Marshal(map[string]any{decomposed: precomposed})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]any{"url": "https://example.com/a?b=1&c=<2>"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "&c=<2>")
}

func TestHashStableForNestedStructures(t *testing.T) {
	v := map[string]any{
		"outer": map[string]any{"z": []any{1, 2, 3}, "a": "s"},
		"n":     42,
	}
	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashChangesOnMutation(t *testing.T) {
	h1, err := Hash(map[string]any{"k": "v1"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"k": "v2"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
