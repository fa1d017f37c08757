package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Hour, "AI_AGENT"))

	value, err := store.Get(ctx, "k", "AI_AGENT")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	_, err = store.Get(ctx, "k", "OTHER")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "k", "AI_AGENT"))

	_, err = store.Get(ctx, "k", "AI_AGENT")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewWithClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "short", []byte("1"), time.Minute, ""))
	require.NoError(t, store.Set(ctx, "forever", []byte("2"), 0, ""))

	now = now.Add(2 * time.Minute)

	_, err := store.Get(ctx, "short", "")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	items, err := store.Items(ctx, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "forever", items[0].Key)
	assert.True(t, items[0].ExpiresAt.IsZero())
}

func TestStore_ItemsSortedAndIsolated(t *testing.T) {
	ctx := context.Background()
	store := New()

	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, store.Set(ctx, key, []byte(key), time.Hour, "R"))
	}
	require.NoError(t, store.Set(ctx, "z", []byte("z"), time.Hour, "OTHER"))

	items, err := store.Items(ctx, "R")
	require.NoError(t, err)

	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	// returned values are copies
	items[0].Value[0] = 'x'
	value, err := store.Get(ctx, "a", "R")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), value)
}
