// Package cache keeps replies for requests that carry an Idempotency-Key.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Minute

// IdempotencyCache stores serialized responses keyed by caller and
// Idempotency-Key. A nil cache stores nothing.
type IdempotencyCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewIdempotencyCache(client *redis.Client, prefix string, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &IdempotencyCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *IdempotencyCache) Get(ctx context.Context, scope, key string) ([]byte, bool) {
	if c == nil || c.client == nil || key == "" {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.redisKey(scope, key)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *IdempotencyCache) Set(ctx context.Context, scope, key string, value []byte) {
	if c == nil || c.client == nil || key == "" || len(value) == 0 {
		return
	}
	c.client.Set(ctx, c.redisKey(scope, key), value, c.ttl)
}

func (c *IdempotencyCache) redisKey(scope, key string) string {
	return c.prefix + "idem:" + scope + ":" + key
}
