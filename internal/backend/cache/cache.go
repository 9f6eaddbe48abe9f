package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a thin byte-value cache over redis. A nil *Cache is valid
// and disables caching, so callers never need to branch on whether a
// redis address was configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns nil when addr is empty, which turns every operation into
// a no-op miss.
func New(addr, password string, db int, ttl time.Duration) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	return value, true
}

// Set stores a value with the cache's default TTL. Failures are logged
// and swallowed; the cache is never load-bearing.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	c.SetTTL(ctx, key, value, c.effectiveTTL())
}

func (c *Cache) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) effectiveTTL() time.Duration {
	if c == nil || c.ttl <= 0 {
		return 5 * time.Minute
	}
	return c.ttl
}
