// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/canonical"
)

// Domain separation prefixes per RFC 6962 §2.1, preventing second-preimage
// attacks between leaves and internal nodes.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Batch commits an ordered sequence of audit entries to a single Merkle root.
// The root can be anchored externally; inclusion proofs establish membership
// without revealing the full batch.
type Batch struct {
	BatchID    string   `json:"batch_id"`
	AgentID    string   `json:"agent_id,omitempty"`
	LeafHashes []string `json:"leaf_hashes"`
	Root       string   `json:"merkle_root"`

	// levels[0] are the leaves, levels[len-1] is [root].
	levels [][][]byte
}

// ProofStep is one sibling on an inclusion path. Left reports whether the
// sibling sits to the left of the running hash.
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// InclusionProof proves one leaf's membership in a batch.
type InclusionProof struct {
	LeafHash  string      `json:"leaf_hash"`
	LeafIndex int         `json:"leaf_index"`
	Path      []ProofStep `json:"path"`
}

// LeafHash hashes a stored entry for use as a Merkle leaf:
// SHA-256(0x00 ‖ canonical(entry)).
func LeafHash(entry *Entry) (string, error) {
	payload, err := canonical.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize leaf: %w", err)
	}
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// BuildBatch builds the Merkle tree over the given entries in order. Levels
// with an odd node count duplicate their last node.
func BuildBatch(entries []*Entry) (*Batch, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("audit: cannot build Merkle batch from zero entries")
	}

	leaves := make([][]byte, len(entries))
	leafHex := make([]string, len(entries))
	agentID := entries[0].AgentID
	for i, entry := range entries {
		hexHash, err := LeafHash(entry)
		if err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(hexHash)
		if err != nil {
			return nil, fmt.Errorf("audit: decode leaf hash: %w", err)
		}
		leaves[i] = raw
		leafHex[i] = hexHash
		if entry.AgentID != agentID {
			agentID = ""
		}
	}

	levels := [][][]byte{leaves}
	current := leaves
	for len(current) > 1 {
		next := make([][]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, nodeHash(left, right))
		}
		levels = append(levels, next)
		current = next
	}

	return &Batch{
		BatchID:    "batch:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		AgentID:    agentID,
		LeafHashes: leafHex,
		Root:       hex.EncodeToString(current[0]),
		levels:     levels,
	}, nil
}

// ProveInclusion returns the sibling path for the leaf at index.
func (b *Batch) ProveInclusion(index int) (*InclusionProof, error) {
	if index < 0 || index >= len(b.LeafHashes) {
		return nil, fmt.Errorf("audit: leaf index %d out of range [0,%d)", index, len(b.LeafHashes))
	}

	proof := &InclusionProof{
		LeafHash:  b.LeafHashes[index],
		LeafIndex: index,
	}

	pos := index
	for _, level := range b.levels[:len(b.levels)-1] {
		sibling := pos ^ 1
		var siblingHash []byte
		if sibling < len(level) {
			siblingHash = level[sibling]
		} else {
			// Odd level: the last node was paired with itself.
			siblingHash = level[pos]
		}
		proof.Path = append(proof.Path, ProofStep{
			Hash: hex.EncodeToString(siblingHash),
			Left: sibling < pos,
		})
		pos /= 2
	}
	return proof, nil
}

// VerifyInclusion recomputes the root from a leaf hash and sibling path and
// compares it to the expected root. Any malformed input yields false.
func VerifyInclusion(root, leafHash string, path []ProofStep) bool {
	current, err := hex.DecodeString(leafHash)
	if err != nil {
		return false
	}
	for _, step := range path {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false
		}
		if step.Left {
			current = nodeHash(sibling, current)
		} else {
			current = nodeHash(current, sibling)
		}
	}
	return hex.EncodeToString(current) == root
}
