package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	return store
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Get(ctx, "missing", "AI_AGENT")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, store.Set(ctx, "agent_memory:s1", []byte(`{"a":1}`), time.Hour, "AI_AGENT"))
	require.NoError(t, store.Set(ctx, "agent_memory:s1", []byte(`{"a":2}`), time.Hour, "AI_AGENT"))

	value, err := store.Get(ctx, "agent_memory:s1", "AI_AGENT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(value))

	require.NoError(t, store.Delete(ctx, "agent_memory:s1", "AI_AGENT"))

	_, err = store.Get(ctx, "agent_memory:s1", "AI_AGENT")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStore_ExpiryAndItems(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "b", []byte("2"), 0, "R"))
	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute, "R"))
	require.NoError(t, store.Set(ctx, "c", []byte("3"), time.Minute, "OTHER"))

	items, err := store.Items(ctx, "R")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key)
	assert.Equal(t, now.Add(time.Minute).UnixMilli(), items[0].ExpiresAt.UnixMilli())
	assert.Equal(t, "b", items[1].Key)
	assert.True(t, items[1].ExpiresAt.IsZero())

	now = now.Add(time.Hour)

	_, err = store.Get(ctx, "a", "R")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	items, err = store.Items(ctx, "R")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].Key)
}
