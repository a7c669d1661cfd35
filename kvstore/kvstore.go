// Package kvstore provides the persisted key/value surface for session
// state, with an at-rest obfuscation transform applied on write and read.
//
// The transform is a deterministic ChaCha20 keystream XOR keyed by a fixed
// application secret, followed by base64url encoding. It hides tokens from
// casual inspection of the state file; it is NOT a cryptographic boundary
// and does not resist an attacker with local code execution, who can read
// the secret out of the binary. Callers must independently validate
// decoded content before trusting it.
package kvstore

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20"
)

// valuePrefix marks values written through the transform. A stored value
// without the prefix (corrupt, or written by an incompatible version) is
// returned to the caller unchanged rather than rejected.
const valuePrefix = "obf1."

// Backend is the underlying persistent key/value surface.
type Backend interface {
	// Put stores value under key, overwriting any previous value.
	Put(key string, value []byte) error

	// Get retrieves the value for key. The second return is false when
	// the key is absent.
	Get(key string) ([]byte, bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// Store wraps a Backend with the obfuscation transform.
type Store struct {
	backend Backend
	key     [chacha20.KeySize]byte
	nonce   [chacha20.NonceSize]byte
}

// New creates a Store over backend, deriving the transform key from the
// application secret.
func New(backend Backend, secret string) *Store {
	s := &Store{backend: backend}
	s.key = sha256.Sum256([]byte(secret))
	// The nonce is fixed per secret so the transform stays deterministic
	// and reversible without storing per-value state.
	nonceHash := sha256.Sum256([]byte("nonce:" + secret))
	copy(s.nonce[:], nonceHash[:chacha20.NonceSize])
	return s
}

// Put obfuscates plaintext and stores it under key.
func (s *Store) Put(key, plaintext string) error {
	transformed, err := s.transform([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("transforming value for %q: %w", key, err)
	}
	encoded := valuePrefix + base64.RawURLEncoding.EncodeToString(transformed)
	if err := s.backend.Put(key, []byte(encoded)); err != nil {
		return fmt.Errorf("storing %q: %w", key, err)
	}
	return nil
}

// Get retrieves and de-obfuscates the value for key. A value that does
// not carry the transform marker, or whose encoding cannot be reversed,
// is returned exactly as stored; the caller is responsible for deciding
// whether the raw value is usable.
func (s *Store) Get(key string) (string, bool, error) {
	raw, ok, err := s.backend.Get(key)
	if err != nil {
		return "", false, fmt.Errorf("reading %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}

	stored := string(raw)
	encoded, found := strings.CutPrefix(stored, valuePrefix)
	if !found {
		return stored, true, nil
	}

	transformed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return stored, true, nil
	}

	plaintext, err := s.transform(transformed)
	if err != nil {
		return stored, true, nil
	}
	return string(plaintext), true, nil
}

// Remove deletes the value for key.
func (s *Store) Remove(key string) error {
	if err := s.backend.Delete(key); err != nil {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	return nil
}

// transform applies the keystream XOR. It is its own inverse.
func (s *Store) transform(data []byte) ([]byte, error) {
	cipher, err := chacha20.NewUnauthenticatedCipher(s.key[:], s.nonce[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out, nil
}
