package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
)

const scanBatch = 200

// CatalogueCacheRepository keeps JSON encoded catalogue listings in Redis. A nil client behaves as an
// always-empty cache.
type CatalogueCacheRepository struct {
	client redis.UniversalClient
}

// NewCatalogueCacheRepository constructs the repository.
func NewCatalogueCacheRepository(client redis.UniversalClient) *CatalogueCacheRepository {
	return &CatalogueCacheRepository{client: client}
}

// Load decodes the entry at key into dest. Missing entries return ErrCacheMiss.
func (r *CatalogueCacheRepository) Load(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return appErrors.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Store encodes value at key for ttl.
func (r *CatalogueCacheRepository) Store(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.client.Set(ctx, key, payload, ttl).Err()
}

// Evict removes keys outright.
func (r *CatalogueCacheRepository) Evict(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}
	return r.client.Unlink(ctx, keys...).Err()
}

// EvictMatching removes every key matching pattern, unlinking one scan page at a time.
func (r *CatalogueCacheRepository) EvictMatching(ctx context.Context, pattern string) (int, error) {
	if r.client == nil {
		return 0, nil
	}
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				return removed, fmt.Errorf("redis unlink %s: %w", pattern, err)
			}
			removed += len(keys)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
