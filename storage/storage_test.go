// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "identity/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "identity/a1", []byte(`{"x":1}`)))
	raw, ok, err := m.Get(ctx, "identity/a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"x":1}`, string(raw))
}

func TestMemoryDefensiveCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	record := []byte("original")
	require.NoError(t, m.Put(ctx, "k", record))
	record[0] = 'X'

	raw, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(raw))

	raw[0] = 'Y'
	again, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "k", []byte("v")))
	ok, err := m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryListPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "audit/a/00000000", []byte("0")))
	require.NoError(t, m.Put(ctx, "audit/a/00000001", []byte("1")))
	require.NoError(t, m.Put(ctx, "audit/b/00000000", []byte("2")))

	records, err := m.List(ctx, "audit/a/")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, []string{"audit/a/00000000", "audit/a/00000001"}, SortedKeys(records))
}

func TestPutGetJSON(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type rec struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	require.NoError(t, PutJSON(ctx, m, "r", rec{Name: "a", N: 7}))

	var out rec
	ok, err := GetJSON(ctx, m, "r", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec{Name: "a", N: 7}, out)

	ok, err = GetJSON(ctx, m, "missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}
