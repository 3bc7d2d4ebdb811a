package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
)

type catalogueCacheStore interface {
	Load(ctx context.Context, key string, dest interface{}) error
	Store(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Evict(ctx context.Context, keys ...string) error
	EvictMatching(ctx context.Context, pattern string) (int, error)
}

// CatalogueCache fronts version listings with a namespaced key space. Lookups never fail a
// request: store errors count as misses and undecodable entries are evicted.
type CatalogueCache struct {
	store     catalogueCacheStore
	namespace string
	ttl       time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewCatalogueCache builds the cache. A nil store disables it.
func NewCatalogueCache(store catalogueCacheStore, namespace string, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *CatalogueCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CatalogueCache{store: store, namespace: namespace, ttl: ttl, metrics: metrics, logger: logger}
}

func (c *CatalogueCache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Get decodes the cached entry into dest and reports whether it was present.
func (c *CatalogueCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c == nil || c.store == nil {
		return false, nil
	}
	start := time.Now()
	err := c.store.Load(ctx, c.key(key), dest)
	c.metrics.RecordCacheOperation(err == nil, time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	}
	c.logger.Warn("catalogue cache read failed", zap.String("key", key), zap.Error(err))
	if evictErr := c.store.Evict(ctx, c.key(key)); evictErr != nil {
		c.logger.Warn("catalogue cache evict failed", zap.String("key", key), zap.Error(evictErr))
	}
	return false, nil
}

// Set stores value under key. A non-positive ttl uses the cache default.
func (c *CatalogueCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.store == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	start := time.Now()
	err := c.store.Store(ctx, c.key(key), value, ttl)
	c.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		c.logger.Warn("catalogue cache write failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate drops every entry matching pattern.
func (c *CatalogueCache) Invalidate(ctx context.Context, pattern string) error {
	if c == nil || c.store == nil {
		return nil
	}
	removed, err := c.store.EvictMatching(ctx, c.key(pattern))
	if err != nil {
		c.logger.Warn("catalogue cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	c.logger.Debug("catalogue cache invalidated", zap.String("pattern", pattern), zap.Int("removed", removed))
	return nil
}
