// Package memory provides an in-memory blob store.
// This is suitable for tests and single-process demos; nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/prn-tf/userdir/internal/store"
)

// Store implements store.Store using a map.
type Store struct {
	mu     sync.RWMutex
	items  map[string][]byte
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		items: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	value, exists := s.items[key]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Return a copy to prevent mutation.
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	s.items[key] = valueCopy
	return nil
}

// Delete removes a value by key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	delete(s.items, key)
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.ErrClosed
	}
	return ctx.Err()
}

// Close marks the store closed and drops its contents.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.items = nil
	return nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
