// Package store defines the key-value blob store the user directory persists
// its snapshot into. Implementations live in sub-packages (memory, file,
// sqlite, postgres, redis, s3) and can be wrapped for encryption and metrics.
package store

import (
	"context"
	"errors"
)

// Store defines the interface for blob persistence backends.
// A value is an opaque byte slice stored under a string key; writes replace
// the whole value.
type Store interface {
	// Get retrieves the value stored under key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the value stored under key.
	// Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the resources held by the backend.
	Close() error
}

var (
	// ErrNotFound indicates the key does not exist in the store.
	ErrNotFound = errors.New("key not found")

	// ErrEmptyKey indicates an operation was attempted with an empty key.
	ErrEmptyKey = errors.New("key must not be empty")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// Backend names accepted by configuration.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendS3       = "s3"
)

// Backends lists every supported backend name.
var Backends = []string{
	BackendMemory,
	BackendFile,
	BackendSQLite,
	BackendPostgres,
	BackendRedis,
	BackendS3,
}

// ValidateKey returns ErrEmptyKey for an empty key.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
