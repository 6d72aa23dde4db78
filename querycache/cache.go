// Package querycache implements the read-through response cache for /kg/query
// (spec.md's caching note: query results may be cached keyed by version, since a
// version's graph data never changes once written). It is a Redis-backed rewrite
// of the teacher's queue/redis/queue.go connection-setup idiom
// (Config{RedisURL, KeyPrefix}, redis.ParseURL, Ping check) repurposed from a job
// queue into a simple get/set cache: cache entries are naturally invalidated by
// including the graph version in the key, so no explicit eviction on build
// completion is needed beyond the configured TTL.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis-backed query cache.
type Config struct {
	RedisURL  string
	KeyPrefix string
	TTL       time.Duration
}

// Cache is a version-scoped read-through cache for /kg/query responses.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to cfg.RedisURL and verifies connectivity before returning.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "kgquery:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &Cache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Key derives a cache key from the graph version and the query's parameters. Two
// requests with identical version and params always collide on the same key;
// different versions never collide, so an old version's entries age out of the
// cache on their own once the TTL expires rather than needing active eviction.
func Key(version string, params any) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal cache key params: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return fmt.Sprintf("%s:%s", version, hex.EncodeToString(sum[:])), nil
}

// Get looks up key and unmarshals its JSON value into dest. ok is false on a cache
// miss (including a Redis connectivity error, which is treated as a miss so the
// cache is never a hard dependency for serving a query).
func (c *Cache) Get(ctx context.Context, key string, dest any) (ok bool, err error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("unmarshal cached value: %w", err)
	}
	return true, nil
}

// Set stores value under key with the cache's configured TTL. Errors are returned
// rather than swallowed so callers can log a cache-write failure distinctly from a
// cache miss.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, encoded, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}
