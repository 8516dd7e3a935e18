package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "exec:journal", "[]"))
	val, ok, err := store.Get(ctx, "exec:journal")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "[]", val)

	require.NoError(t, store.Delete(ctx, "exec:journal"))
	_, ok, err = store.Get(ctx, "exec:journal")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreInMemory(t *testing.T) {
	store, err := New("")
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
