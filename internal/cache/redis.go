// Package cache provides Redis-backed and in-process caches for aggregate
// responses.
//
// Keys embed a per-scope generation counter. Invalidating a scope bumps its
// counter, so every key derived earlier becomes unreachable and ages out by
// TTL instead of being deleted.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spaolacci/murmur3"

	"github.com/arkilian/eventlens/internal/config"
)

// allScope names the generation counter of the unscoped view.
const allScope = "_all"

// RedisCache implements the aggregate cache on a Redis server.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg config.CacheConfig) (*RedisCache, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis cache: %w", err)
	}

	return NewFromClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "eventlens"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Key derives the cache key of an operation over a scope. An empty scope
// is the unscoped view.
func (c *RedisCache) Key(ctx context.Context, op, scope, params string) (string, error) {
	raw, err := c.client.Get(ctx, c.generationKey(scope)).Result()
	if err == redis.Nil {
		raw = "0"
	} else if err != nil {
		return "", fmt.Errorf("read cache generation: %w", err)
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse cache generation %q: %w", raw, err)
	}
	return formatKey(c.prefix, op, scope, gen, params), nil
}

// Get decodes the value at key into dest. It reports false on a miss.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache entry: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode cache entry: %w", err)
	}
	return true, nil
}

// Set stores value at key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Invalidate bumps the generation of each named scope and of the unscoped
// view, which aggregates over every scope.
func (c *RedisCache) Invalidate(ctx context.Context, scopes ...string) error {
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, c.generationKey(""))
	for _, scope := range scopes {
		if scope != "" {
			pipe.Incr(ctx, c.generationKey(scope))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RedisCache) generationKey(scope string) string {
	return c.prefix + ":gen:" + scopeName(scope)
}

func scopeName(scope string) string {
	if scope == "" {
		return allScope
	}
	return scope
}

// formatKey builds prefix:op:scope:gen:hash. Parameters are hashed so the
// key length stays bounded.
func formatKey(prefix, op, scope string, gen int64, params string) string {
	return fmt.Sprintf("%s:%s:%s:%d:%016x", prefix, op, scopeName(scope), gen, murmur3.Sum64([]byte(params)))
}
