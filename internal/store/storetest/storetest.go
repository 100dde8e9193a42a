// Package storetest provides a conformance suite every store.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/userdir/internal/store"
)

// Factory returns a fresh, empty store for one sub-test.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against the stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "usuariosDAO", []byte(`[{"dni":"1"}]`)))

		got, err := s.Get(ctx, "usuariosDAO")
		require.NoError(t, err)
		require.Equal(t, `[{"dni":"1"}]`, string(got))
	})

	t.Run("PutReplaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte("first value")))
		require.NoError(t, s.Put(ctx, "k", []byte("2nd")))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "2nd", string(got))
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a", []byte("A")))
		require.NoError(t, s.Put(ctx, "b", []byte("B")))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, "A", string(got))
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte("v")))
		require.NoError(t, s.Delete(ctx, "k"))

		_, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.Delete(ctx, "k"), "deleting a missing key is not an error")
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte{}))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		s := newStore(t)
		require.ErrorIs(t, s.Put(ctx, "", []byte("v")), store.ErrEmptyKey)
		_, err := s.Get(ctx, "")
		require.ErrorIs(t, err, store.ErrEmptyKey)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(ctx))
	})
}
