package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cardshield/rulegov/pkg/domain"
)

const catalogCacheKey = "rulegov:catalog:active"

// RedisCache shares the active catalog across service replicas. A publish
// on one replica invalidates the key for all of them.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. ttl bounds staleness if an
// invalidation is ever lost.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) (map[string]domain.FieldMeta, bool, error) {
	raw, err := c.client.Get(ctx, catalogCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog cache get: %w", err)
	}
	var catalog map[string]domain.FieldMeta
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, false, fmt.Errorf("catalog cache decode: %w", err)
	}
	return catalog, true, nil
}

func (c *RedisCache) Set(ctx context.Context, catalog map[string]domain.FieldMeta) error {
	raw, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("catalog cache encode: %w", err)
	}
	if err := c.client.Set(ctx, catalogCacheKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("catalog cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context) error {
	if err := c.client.Del(ctx, catalogCacheKey).Err(); err != nil {
		return fmt.Errorf("catalog cache del: %w", err)
	}
	return nil
}
