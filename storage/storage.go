// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package storage defines the keyed-record repository abstraction the engine
// persists through. Locking, atomic writes, and durability are the
// implementing collaborator's responsibility; the contract the engine relies
// on is read-your-writes within a process. Records are opaque JSON bytes.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Repository is an abstract keyed store. Keys are slash-separated paths
// ("identity/ax:1234"); List returns every record whose key starts with the
// given prefix.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, record []byte) error
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}

// GetJSON loads the record at key and unmarshals it into v. The boolean
// reports whether the record existed.
func GetJSON(ctx context.Context, r Repository, key string, v any) (bool, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("storage: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// PutJSON marshals v and stores it at key.
func PutJSON(ctx context.Context, r Repository, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", key, err)
	}
	return r.Put(ctx, key, raw)
}

// SortedKeys returns the keys of a List result in lexicographic order, which
// for zero-padded sequence suffixes is also insertion order.
func SortedKeys(records map[string][]byte) []string {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Memory is a thread-safe, in-process Repository. Suitable for tests and
// short-lived deployments; durable implementations live outside the engine.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	raw, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true, nil
}

func (m *Memory) Put(_ context.Context, key string, record []byte) error {
	if key == "" {
		return fmt.Errorf("storage: key must not be empty")
	}
	stored := make([]byte, len(record))
	copy(stored, record)
	m.mu.Lock()
	m.records[key] = stored
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	_, ok := m.records[key]
	delete(m.records, key)
	m.mu.Unlock()
	return ok, nil
}

func (m *Memory) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.records {
		if strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}
