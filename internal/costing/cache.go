// internal/costing/cache.go
package costing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores finished breakdowns. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*CostBreakdown, bool, error)
	Set(ctx context.Context, key string, b *CostBreakdown, ttl time.Duration) error
}

// RedisCache keeps breakdowns as JSON strings in Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CostBreakdown, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var b CostBreakdown
	if err := json.Unmarshal(val, &b); err != nil {
		return nil, false, fmt.Errorf("decode cached breakdown %s: %w", key, err)
	}
	return &b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, b *CostBreakdown, ttl time.Duration) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode breakdown %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
