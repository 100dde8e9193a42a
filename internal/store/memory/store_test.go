package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/userdir/internal/store"
	"github.com/prn-tf/userdir/internal/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	value := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", value))
	value[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))

	got[1] = 'z'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(again))
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Put(ctx, "k", []byte("v")), store.ErrClosed)
	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrClosed)
	require.ErrorIs(t, s.Ping(ctx), store.ErrClosed)
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	require.ErrorIs(t, s.Put(ctx, "k", []byte("v")), context.Canceled)
}
