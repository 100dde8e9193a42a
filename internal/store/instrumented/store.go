// Package instrumented wraps a store.Store with Prometheus latency metrics.
package instrumented

import (
	"context"
	"errors"
	"time"

	"github.com/prn-tf/userdir/internal/metrics"
	"github.com/prn-tf/userdir/internal/store"
)

// Store records the latency of every call on the wrapped store.
type Store struct {
	inner   store.Store
	backend string
	metrics *metrics.Metrics
}

// Wrap returns inner instrumented under the given backend label.
func Wrap(inner store.Store, backend string, m *metrics.Metrics) *Store {
	return &Store{inner: inner, backend: backend, metrics: m}
}

func (s *Store) observe(op string, start time.Time, err error) {
	// A missing key is a normal outcome, not a backend failure.
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	s.metrics.ObserveStore(s.backend, op, start, err)
}

// Get delegates to the wrapped store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.inner.Get(ctx, key)
	s.observe("get", start, err)
	return value, err
}

// Put delegates to the wrapped store.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.inner.Put(ctx, key, value)
	s.observe("put", start, err)
	return err
}

// Delete delegates to the wrapped store.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

// Ping delegates to the wrapped store.
func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.observe("ping", start, err)
	return err
}

// Close closes the wrapped store.
func (s *Store) Close() error {
	return s.inner.Close()
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
