package cache_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chatpush-service/internal/directory"
	"github.com/tinywideclouds/go-chatpush-service/internal/storage/cache"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type MockSharedCache struct {
	mock.Mock
}

func (m *MockSharedCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockSharedCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockSharedCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// countingStore is a RecordStore that counts reads.
type countingStore struct {
	mu      sync.Mutex
	records []dispatch.UserRecord
	err     error
	reads   atomic.Int32
}

func (s *countingStore) ListTokenRecords(context.Context) ([]dispatch.UserRecord, error) {
	s.reads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]dispatch.UserRecord(nil), s.records...), nil
}

func (s *countingStore) RemoveTokens(context.Context, map[string][]string) error { return nil }

func (s *countingStore) setRecords(records []dispatch.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

func baseRecords() []dispatch.UserRecord {
	return []dispatch.UserRecord{
		{UID: "U1", Tokens: []string{"t1"}},
		{UID: "U2", Tokens: []string{"t2"}},
		{UID: "U3", Tokens: []string{"t3"}},
	}
}

// --- Tests ---

func TestDirectoryCache_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Fresh snapshot is served unchanged", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger())

		first, err := c.Resolve(ctx)
		require.NoError(t, err)
		store.setRecords(nil)
		second, err := c.Resolve(ctx)
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, int32(1), store.reads.Load())
		assert.Equal(t, 3, second.Len())
	})

	t.Run("Expired snapshot is rebuilt from the store", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		c := cache.NewDirectoryCache(store, 50*time.Millisecond, newTestLogger())

		_, err := c.Resolve(ctx)
		require.NoError(t, err)

		store.setRecords([]dispatch.UserRecord{{UID: "U1", Tokens: []string{"t1"}}})
		time.Sleep(80 * time.Millisecond)

		snap, err := c.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(2), store.reads.Load())
		assert.Equal(t, 1, snap.Len())
	})

	t.Run("Store failure propagates", func(t *testing.T) {
		store := &countingStore{err: fmt.Errorf("%w: boom", dispatch.ErrRecordStore)}
		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger())

		_, err := c.Resolve(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, dispatch.ErrRecordStore)
	})

	t.Run("Concurrent resolves are safe", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger())

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				snap, err := c.Resolve(ctx)
				assert.NoError(t, err)
				assert.Equal(t, 3, snap.Len())
			}()
		}
		wg.Wait()
		assert.GreaterOrEqual(t, store.reads.Load(), int32(1))
	})
}

func TestDirectoryCache_Evict(t *testing.T) {
	ctx := context.Background()

	t.Run("Evicted tokens disappear before the next refresh", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger())

		_, err := c.Resolve(ctx)
		require.NoError(t, err)

		require.NoError(t, c.Evict(ctx, []string{"t2"}))

		snap, err := c.Resolve(ctx)
		require.NoError(t, err)
		_, ok := snap.Owner("t2")
		assert.False(t, ok)
		assert.Equal(t, 2, snap.Len())
		assert.Equal(t, int32(1), store.reads.Load(), "eviction must not trigger a rebuild")
	})

	t.Run("Evict on empty cache is harmless", func(t *testing.T) {
		c := cache.NewDirectoryCache(&countingStore{}, time.Minute, newTestLogger())
		assert.NoError(t, c.Evict(ctx, []string{"t1"}))
		assert.NoError(t, c.Evict(ctx, nil))
	})
}

func TestDirectoryCache_SharedTier(t *testing.T) {
	ctx := context.Background()

	t.Run("Fresh shared snapshot avoids a store read", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		shared := new(MockSharedCache)
		shared.On("Get", ctx, cache.SharedKey, mock.Anything).
			Run(func(args mock.Arguments) {
				dest := args.Get(2).(*directory.Snapshot)
				*dest = *directory.Build([]dispatch.UserRecord{{UID: "U7", Tokens: []string{"t7"}}}, time.Now())
			}).
			Return(nil).Once()

		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger(), cache.WithSharedCache(shared))

		snap, err := c.Resolve(ctx)
		require.NoError(t, err)
		owner, ok := snap.Owner("t7")
		require.True(t, ok)
		assert.Equal(t, "U7", owner)
		assert.Equal(t, int32(0), store.reads.Load())
		shared.AssertExpectations(t)
	})

	t.Run("Stale shared snapshot is ignored and republished", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		shared := new(MockSharedCache)
		shared.On("Get", ctx, cache.SharedKey, mock.Anything).
			Run(func(args mock.Arguments) {
				dest := args.Get(2).(*directory.Snapshot)
				*dest = *directory.Build(nil, time.Now().Add(-2*time.Minute))
			}).
			Return(nil).Once()
		shared.On("Set", ctx, cache.SharedKey, mock.AnythingOfType("*directory.Snapshot"), time.Minute).Return(nil).Once()

		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger(), cache.WithSharedCache(shared))

		snap, err := c.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, snap.Len())
		assert.Equal(t, int32(1), store.reads.Load())
		shared.AssertExpectations(t)
	})

	t.Run("Redis outage falls back to the store", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		shared := new(MockSharedCache)
		shared.On("Get", ctx, cache.SharedKey, mock.Anything).Return(assert.AnError)
		shared.On("Set", ctx, cache.SharedKey, mock.Anything, mock.Anything).Return(assert.AnError)

		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger(), cache.WithSharedCache(shared))

		snap, err := c.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, snap.Len())
	})

	t.Run("Cache miss sentinel is not an error", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		shared := new(MockSharedCache)
		shared.On("Get", ctx, cache.SharedKey, mock.Anything).Return(redis.Nil)
		shared.On("Set", ctx, cache.SharedKey, mock.Anything, time.Minute).Return(nil)

		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger(), cache.WithSharedCache(shared))

		_, err := c.Resolve(ctx)
		require.NoError(t, err)
		shared.AssertCalled(t, "Set", ctx, cache.SharedKey, mock.Anything, time.Minute)
	})

	t.Run("Evict invalidates the shared copy", func(t *testing.T) {
		store := &countingStore{records: baseRecords()}
		shared := new(MockSharedCache)
		shared.On("Del", ctx, cache.SharedKey).Return(nil).Once()

		c := cache.NewDirectoryCache(store, time.Minute, newTestLogger(), cache.WithSharedCache(shared))

		require.NoError(t, c.Evict(ctx, []string{"t1"}))
		shared.AssertExpectations(t)
	})
}
