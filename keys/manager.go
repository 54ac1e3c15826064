// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package keys owns the process-wide Ed25519 signing key. The key is created
// on first use, persisted through the storage collaborator, and optionally
// wrapped at rest with AES-256-GCM under an Argon2id-derived key.
package keys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/VibeTensor/attestix/canonical"
	"github.com/VibeTensor/attestix/did"
	"github.com/VibeTensor/attestix/storage"
	"github.com/VibeTensor/attestix/types"
)

// recordKey is where the signing key record lives in the repository.
const recordKey = "keys/signing-key"

// Argon2id parameters for the passphrase-derived wrapping key.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// KeyPair is the process signing key. PrivateKey is never serialized into
// any output artifact.
type KeyPair struct {
	// DID is the did:key identifier derived from PublicKey.
	DID        string
	Algorithm  types.KeyAlgorithm
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	CreatedAt  time.Time
}

// keyRecord is the persisted shape of the signing key. When a passphrase is
// configured the seed is stored as AES-256-GCM ciphertext; otherwise as
// base64 plaintext, matching artifacts written by earlier deployments.
type keyRecord struct {
	DID           string `json:"did_key"`
	Algorithm     string `json:"algorithm"`
	CreatedAt     string `json:"created_at"`
	PrivateKeyB64 string `json:"private_key_b64,omitempty"`
	Encrypted     bool   `json:"encrypted,omitempty"`
	KDF           string `json:"kdf,omitempty"`
	SaltB64       string `json:"salt_b64,omitempty"`
	NonceB64      string `json:"nonce_b64,omitempty"`
	CiphertextB64 string `json:"ciphertext_b64,omitempty"`
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Repository persists the key record. Required.
	Repository storage.Repository
	// Passphrase, when non-empty, encrypts the key at rest and is required
	// to load a key that was stored encrypted.
	Passphrase string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns the singleton signing key. Loading is lazy and memoized:
// concurrent first callers block until one load or generation completes.
// All methods are safe for concurrent use.
type Manager struct {
	repo       storage.Repository
	passphrase string
	logger     *slog.Logger

	mu sync.Mutex
	kp *KeyPair
}

// NewManager constructs a Manager. The key is not touched until the first
// LoadOrCreate, Sign, or DID call.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("keys: ManagerOptions.Repository must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:       opts.Repository,
		passphrase: opts.Passphrase,
		logger:     logger,
	}, nil
}

// LoadOrCreate returns the process key pair, generating and persisting one
// if absent. At most one generation or decryption happens per process.
func (m *Manager) LoadOrCreate(ctx context.Context) (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.kp != nil {
		return m.kp, nil
	}

	var rec keyRecord
	ok, err := storage.GetJSON(ctx, m.repo, recordKey, &rec)
	if err != nil {
		return nil, fmt.Errorf("keys: load key record: %w", err)
	}
	if ok {
		kp, err := m.unseal(&rec)
		if err != nil {
			return nil, err
		}
		m.kp = kp
		return kp, nil
	}

	kp, err := m.generate(ctx)
	if err != nil {
		return nil, err
	}
	m.kp = kp
	m.logger.Info("generated new signing key", "did", kp.DID, "encrypted", m.passphrase != "")
	return kp, nil
}

// DID returns the did:key identifier of the process signing key.
func (m *Manager) DID(ctx context.Context) (string, error) {
	kp, err := m.LoadOrCreate(ctx)
	if err != nil {
		return "", err
	}
	return kp.DID, nil
}

// Sign produces a deterministic Ed25519 signature over message.
func (m *Manager) Sign(ctx context.Context, message []byte) ([]byte, error) {
	kp, err := m.LoadOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(kp.PrivateKey, message), nil
}

// SignCanonical signs the canonical form of v and returns the signature as
// base64url. This is the detached-signature format every engine artifact uses.
func (m *Manager) SignCanonical(ctx context.Context, v any) (string, error) {
	payload, err := canonical.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("keys: canonicalize payload: %w", err)
	}
	sig, err := m.Sign(ctx, payload)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(sig), nil
}

// Verify reports whether signature is a valid Ed25519 signature over message.
// It never returns an error; any mismatch or malformed input yields false.
func Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// VerifyCanonical verifies a base64url detached signature over the canonical
// form of v.
func VerifyCanonical(publicKey ed25519.PublicKey, v any, signatureB64 string) bool {
	payload, err := canonical.Marshal(v)
	if err != nil {
		return false
	}
	sig, err := base64.URLEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return Verify(publicKey, payload, sig)
}

// generate creates a fresh key pair and persists its record.
func (m *Manager) generate(ctx context.Context) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate Ed25519 key: %w", err)
	}

	didKey, err := did.DeriveKey(pub)
	if err != nil {
		return nil, fmt.Errorf("keys: derive did:key: %w", err)
	}

	now := time.Now().UTC()
	kp := &KeyPair{
		DID:        didKey,
		Algorithm:  types.KeyAlgorithmEd25519,
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  now,
	}

	rec := keyRecord{
		DID:       didKey,
		Algorithm: string(types.KeyAlgorithmEd25519),
		CreatedAt: now.Format(time.RFC3339),
	}

	seed := priv.Seed()
	if m.passphrase == "" {
		rec.PrivateKeyB64 = base64.StdEncoding.EncodeToString(seed)
	} else {
		if err := sealSeed(&rec, seed, m.passphrase); err != nil {
			return nil, err
		}
	}

	if err := storage.PutJSON(ctx, m.repo, recordKey, &rec); err != nil {
		return nil, fmt.Errorf("keys: persist key record: %w", err)
	}
	return kp, nil
}

// unseal reconstructs the key pair from a stored record, decrypting if the
// record is passphrase-wrapped.
func (m *Manager) unseal(rec *keyRecord) (*KeyPair, error) {
	var seed []byte
	switch {
	case rec.Encrypted:
		if m.passphrase == "" {
			return nil, &types.ErrKeyUnavailable{Reason: "stored key is encrypted and no passphrase was supplied"}
		}
		var err error
		seed, err = openSeed(rec, m.passphrase)
		if err != nil {
			return nil, err
		}
	case rec.PrivateKeyB64 != "":
		var err error
		seed, err = base64.StdEncoding.DecodeString(rec.PrivateKeyB64)
		if err != nil {
			return nil, &types.ErrKeyUnavailable{Reason: fmt.Sprintf("corrupt key record: %v", err)}
		}
	default:
		return nil, &types.ErrKeyUnavailable{Reason: "key record has no private key material"}
	}

	if len(seed) != ed25519.SeedSize {
		return nil, &types.ErrKeyUnavailable{Reason: fmt.Sprintf("unexpected seed length %d", len(seed))}
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	createdAt, _ := time.Parse(time.RFC3339, rec.CreatedAt)
	return &KeyPair{
		DID:        rec.DID,
		Algorithm:  types.KeyAlgorithm(rec.Algorithm),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  createdAt,
	}, nil
}

// sealSeed encrypts the seed into rec with AES-256-GCM under an Argon2id key.
func sealSeed(rec *keyRecord, seed []byte, passphrase string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keys: generate salt: %w", err)
	}

	gcm, err := wrappingCipher(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("keys: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, seed, nil)
	rec.Encrypted = true
	rec.KDF = "argon2id"
	rec.SaltB64 = base64.StdEncoding.EncodeToString(salt)
	rec.NonceB64 = base64.StdEncoding.EncodeToString(nonce)
	rec.CiphertextB64 = base64.StdEncoding.EncodeToString(ciphertext)
	return nil
}

// openSeed decrypts a passphrase-wrapped record. A wrong passphrase surfaces
// as ErrDecryptionFailed, not as a generic error.
func openSeed(rec *keyRecord, passphrase string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(rec.SaltB64)
	if err != nil {
		return nil, &types.ErrDecryptionFailed{Reason: fmt.Sprintf("corrupt salt: %v", err)}
	}
	nonce, err := base64.StdEncoding.DecodeString(rec.NonceB64)
	if err != nil {
		return nil, &types.ErrDecryptionFailed{Reason: fmt.Sprintf("corrupt nonce: %v", err)}
	}
	ciphertext, err := base64.StdEncoding.DecodeString(rec.CiphertextB64)
	if err != nil {
		return nil, &types.ErrDecryptionFailed{Reason: fmt.Sprintf("corrupt ciphertext: %v", err)}
	}

	gcm, err := wrappingCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	seed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &types.ErrDecryptionFailed{Reason: "wrong passphrase or corrupt ciphertext"}
	}
	return seed, nil
}

func wrappingCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keys: init AES: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keys: init GCM: %w", err)
	}
	return gcm, nil
}
