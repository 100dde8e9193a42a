// Package encrypted wraps a store.Store so every value is sealed with
// AES-256-GCM before it reaches the backend.
//
// Each key gets its own subkey derived from the master key with HKDF-SHA256,
// and the store key is bound as additional data so a sealed value cannot be
// replayed under another key.
package encrypted

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/prn-tf/userdir/internal/store"
)

const (
	// KeySize is the size of the AES-256 master key in bytes.
	KeySize = 32

	// NonceSize is the size of the GCM nonce in bytes.
	NonceSize = 12

	// version prefixes every sealed value.
	version byte = 1

	hkdfInfo = "userdir/store/v1"
)

var (
	// ErrInvalidKeySize indicates the master key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes (256 bits)")

	// ErrInvalidCiphertext indicates the stored value is malformed or too short.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")

	// ErrDecryptionFailed indicates authentication failed (wrong key or tampered data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")
)

// Store seals values before delegating to the wrapped store.
type Store struct {
	inner     store.Store
	masterKey []byte
}

// Wrap returns a Store that encrypts values with masterKey.
func Wrap(inner store.Store, masterKey []byte) (*Store, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKeySize
	}
	key := make([]byte, KeySize)
	copy(key, masterKey)
	return &Store{inner: inner, masterKey: key}, nil
}

// ParseHexKey decodes a 64-character hex master key.
func ParseHexKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}

// GenerateKey returns a random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

func (s *Store) aead(key string) (cipher.AEAD, error) {
	subkey := make([]byte, KeySize)
	r := hkdf.New(sha256.New, s.masterKey, []byte(key), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext for key. Format: version || nonce || ciphertext || tag.
func (s *Store) Seal(key string, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+NonceSize, 1+NonceSize+len(plaintext)+gcm.Overhead())
	out[0] = version
	nonce := out[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(out, nonce, plaintext, []byte(key)), nil
}

// Open decrypts a value produced by Seal for the same key.
func (s *Store) Open(key string, sealed []byte) ([]byte, error) {
	gcm, err := s.aead(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < 1+NonceSize+gcm.Overhead() || sealed[0] != version {
		return nil, ErrInvalidCiphertext
	}

	nonce := sealed[1 : 1+NonceSize]
	plaintext, err := gcm.Open(nil, nonce, sealed[1+NonceSize:], []byte(key))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Get reads and decrypts the value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.Open(key, sealed)
}

// Put encrypts value and writes it under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	sealed, err := s.Seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, key, sealed)
}

// Delete removes key from the wrapped store.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Ping pings the wrapped store.
func (s *Store) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

// Close closes the wrapped store.
func (s *Store) Close() error {
	return s.inner.Close()
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
