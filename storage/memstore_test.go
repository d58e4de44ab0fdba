package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.Put(ctx, "signal_relays/1", []byte("hello")))

	got, err := s.Get(ctx, "signal_relays/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestMemStoreGetMissingKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Get(ctx, "nope")
	assert.Error(t, err)
}

func TestMemStorePutEmptyKeyRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	err := s.Put(ctx, "", []byte("x"))
	assert.Error(t, err)
}

func TestMemStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.Put(ctx, "signal_relays/1", []byte("a")))
	require.NoError(t, s.Put(ctx, "signal_relays/2", []byte("b")))
	require.NoError(t, s.Put(ctx, "relay_rules/1", []byte("c")))

	keys, err := s.List(ctx, "signal_relays/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"signal_relays/1", "signal_relays/2"}, keys)
}

func TestMemStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.Error(t, err)
}

func TestMemStorePutCopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	data := []byte("original")
	require.NoError(t, s.Put(ctx, "k", data))
	data[0] = 'X'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}
