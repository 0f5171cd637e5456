package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryIdempotencyStore(func() time.Time { return now })

	bound, created, err := store.Reserve(ctx, "a@example.com:k1", "t1", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "t1", bound)

	bound, created, err = store.Reserve(ctx, "a@example.com:k1", "t2", time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "t1", bound)

	bound, created, err = store.Reserve(ctx, "b@example.com:k1", "t3", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "t3", bound)
}

func TestMemoryIdempotencyStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryIdempotencyStore(func() time.Time { return now })

	_, _, err := store.Reserve(ctx, "k", "t1", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	bound, created, err := store.Reserve(ctx, "k", "t2", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "t2", bound)
}

func TestMemoryIdempotencyStoreSweepsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryIdempotencyStore(func() time.Time { return now })

	for i := 0; i < 50; i++ {
		_, _, err := store.Reserve(ctx, fmt.Sprintf("a@example.com:k%d", i), fmt.Sprintf("t%d", i), time.Minute)
		require.NoError(t, err)
	}
	_, _, err := store.Reserve(ctx, "a@example.com:forever", "tf", 0)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, created, err := store.Reserve(ctx, "a@example.com:fresh", "tx", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	entries := store.(*memoryIdempotencyStore).entries
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "a@example.com:forever")
	assert.Contains(t, entries, "a@example.com:fresh")
}

func TestMemoryIdempotencyStoreRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(nil)

	_, _, err := store.Reserve(ctx, "k", "t1", 0)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "k"))

	bound, created, err := store.Reserve(ctx, "k", "t2", 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "t2", bound)
}
