//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-test/emulators"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chatpush-service/internal/directory"
	"github.com/tinywideclouds/go-chatpush-service/internal/storage/cache"
)

func TestRedisClient_SharedTier(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	conn := emulators.SetupRedisContainer(t, context.Background(), emulators.GetDefaultRedisImageContainer())
	client, err := cache.NewRedisClient(conn.EmulatorAddress, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	t.Run("Missing key returns redis.Nil", func(t *testing.T) {
		var snap directory.Snapshot
		err := client.Get(ctx, "chatpush:absent", &snap)
		assert.ErrorIs(t, err, redis.Nil)
	})

	t.Run("Second replica reuses the first replica's snapshot", func(t *testing.T) {
		storeA := &countingStore{records: baseRecords()}
		storeB := &countingStore{records: baseRecords()}
		replicaA := cache.NewDirectoryCache(storeA, time.Minute, newTestLogger(), cache.WithSharedCache(client))
		replicaB := cache.NewDirectoryCache(storeB, time.Minute, newTestLogger(), cache.WithSharedCache(client))

		_, err := replicaA.Resolve(ctx)
		require.NoError(t, err)

		snap, err := replicaB.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, snap.Len())
		assert.Equal(t, int32(0), storeB.reads.Load())

		require.NoError(t, replicaA.Evict(ctx, []string{"t2"}))
		var cached directory.Snapshot
		assert.ErrorIs(t, client.Get(ctx, cache.SharedKey, &cached), redis.Nil)
	})
}
