package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	expirable "github.com/go-pkgz/expirable-cache/v3"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "price_tracker:search:"

// Cache stores JSON-encodable values under string keys. Get decodes into dest
// and reports whether the key was present.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RedisClient is the subset of *redis.Client used by RedisCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type RedisCache struct {
	client RedisClient
	prefix string
}

func NewRedisCache(client RedisClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// MemoryCache is the in-process fallback used when no Redis is configured.
// Values are kept encoded so callers never share decoded state.
type MemoryCache struct {
	entries expirable.Cache[string, []byte]
}

func NewMemoryCache(defaultTTL time.Duration, maxKeys int) *MemoryCache {
	entries := expirable.NewCache[string, []byte]().WithTTL(defaultTTL).WithMaxKeys(maxKeys)
	return &MemoryCache{entries: entries}
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, ok := c.entries.Get(key)
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	c.entries.Set(key, data, ttl)
	return nil
}

// DeleteExpired drops expired entries. The underlying cache only evicts on
// write, so long-running processes call this periodically.
func (c *MemoryCache) DeleteExpired() {
	c.entries.DeleteExpired()
}

func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
