// Package cache holds the time-bounded token directory cache that sits in
// front of the user-record store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-chatpush-service/internal/directory"
	"github.com/tinywideclouds/go-chatpush-service/internal/metrics"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

// DefaultTTL bounds how stale a served directory may be.
const DefaultTTL = 60 * time.Second

const (
	localKey  = "directory"
	SharedKey = "chatpush:directory"
)

// SharedCache defines the subset of Redis commands we need.
type SharedCache interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// DirectoryCache serves token directory snapshots, rebuilding from the
// record store once the cached one is older than the TTL.
//
// Snapshots are immutable and swapped whole, so concurrent requests may
// rebuild redundantly; the last writer wins.
type DirectoryCache struct {
	store   dispatch.RecordStore
	local   *gocache.Cache
	shared  SharedCache
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*DirectoryCache)

// WithSharedCache adds a cross-instance snapshot tier (Redis).
func WithSharedCache(shared SharedCache) Option {
	return func(c *DirectoryCache) { c.shared = shared }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *DirectoryCache) { c.metrics = m }
}

func NewDirectoryCache(store dispatch.RecordStore, ttl time.Duration, logger *slog.Logger, opts ...Option) *DirectoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &DirectoryCache{
		store:  store,
		local:  gocache.New(ttl, 2*ttl),
		ttl:    ttl,
		logger: logger.With("component", "DirectoryCache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the current snapshot, rebuilding it when stale.
func (c *DirectoryCache) Resolve(ctx context.Context) (*directory.Snapshot, error) {
	if v, found := c.local.Get(localKey); found {
		return v.(*directory.Snapshot), nil
	}

	if c.shared != nil {
		if snap, ok := c.loadShared(ctx); ok {
			return snap, nil
		}
	}

	return c.rebuild(ctx)
}

// Evict drops tokens from the cached snapshot without extending its
// lifetime, and invalidates the shared copy.
func (c *DirectoryCache) Evict(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	if v, exp, found := c.local.GetWithExpiration(localKey); found {
		snap := v.(*directory.Snapshot)
		if remaining := time.Until(exp); remaining > 0 {
			c.local.Set(localKey, snap.Without(tokens), remaining)
		} else {
			c.local.Delete(localKey)
		}
	}

	if c.shared == nil {
		return nil
	}
	if err := c.shared.Del(ctx, SharedKey); err != nil {
		return fmt.Errorf("invalidate shared directory: %w", err)
	}
	return nil
}

func (c *DirectoryCache) loadShared(ctx context.Context) (*directory.Snapshot, bool) {
	var snap directory.Snapshot
	if err := c.shared.Get(ctx, SharedKey, &snap); err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Shared directory read failed, falling back to store", "err", err)
		}
		return nil, false
	}

	remaining := c.ttl - time.Since(snap.BuiltAt)
	if remaining <= 0 {
		return nil, false
	}
	if snap.Owners == nil {
		snap.Owners = map[string][]string{}
	}

	c.local.Set(localKey, &snap, remaining)
	c.metrics.ObserveDirectoryLoad("shared")
	c.logger.Debug("Directory loaded from shared cache", "tokens", snap.Len(), "age", time.Since(snap.BuiltAt))
	return &snap, true
}

func (c *DirectoryCache) rebuild(ctx context.Context) (*directory.Snapshot, error) {
	records, err := c.store.ListTokenRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve token directory: %w", err)
	}

	snap := directory.Build(records, time.Now())
	c.local.Set(localKey, snap, gocache.DefaultExpiration)
	c.metrics.ObserveDirectoryLoad("store")
	c.logger.Debug("Directory rebuilt from store", "users", len(records), "tokens", snap.Len())

	// Caching is an optimization; a Redis failure still serves the fresh snapshot.
	if c.shared != nil {
		if err := c.shared.Set(ctx, SharedKey, snap, c.ttl); err != nil {
			c.logger.Warn("Shared directory write failed", "err", err)
		}
	}
	return snap, nil
}
