package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis decision cache
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	// OpTimeout bounds each Redis round trip so a slow cache cannot
	// stall an evaluation
	OpTimeout time.Duration
	// DisableIdentity skips CLIENT SETINFO on connect; required for
	// servers that do not implement it, such as miniredis
	DisableIdentity bool
}

// DefaultRedisConfig returns a default Redis cache configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "uma:decision:",
		TTL:       5 * time.Minute,
		OpTimeout: 250 * time.Millisecond,
	}
}

// RedisCache implements Cache backed by Redis for multi-instance
// deployments. Values are JSON-serialized; unmarshal happens on the
// caller's side via the Value wrapper.
type RedisCache struct {
	client *redis.Client
	config RedisConfig

	hits   uint64
	misses uint64
}

// NewRedisCache creates a Redis-backed decision cache
func NewRedisCache(config RedisConfig) (*RedisCache, error) {
	if config.Addr == "" {
		config = DefaultRedisConfig()
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 250 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:             config.Addr,
		Password:         config.Password,
		DB:               config.DB,
		DisableIndentity: config.DisableIdentity,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{
		client: client,
		config: config,
	}, nil
}

// Get retrieves a raw JSON value from the cache
func (c *RedisCache) Get(key string) (interface{}, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.OpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.config.KeyPrefix+key).Bytes()
	if err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return value, true
}

// GetInto retrieves a value and unmarshals it into dst
func (c *RedisCache) GetInto(key string, dst interface{}) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.OpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.config.KeyPrefix+key).Bytes()
	if err != nil {
		atomic.AddUint64(&c.misses, 1)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		atomic.AddUint64(&c.misses, 1)
		return false
	}
	atomic.AddUint64(&c.hits, 1)
	return true
}

// Set stores a value in the cache. Serialization or network failures are
// swallowed: a cache write failure must never fail an evaluation.
func (c *RedisCache) Set(key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.OpTimeout)
	defer cancel()
	c.client.Set(ctx, c.config.KeyPrefix+key, data, c.config.TTL)
}

// Delete removes a key
func (c *RedisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.OpTimeout)
	defer cancel()
	c.client.Del(ctx, c.config.KeyPrefix+key)
}

// Clear removes all entries under the key prefix
func (c *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}

// Stats returns cache statistics. Size is not tracked for Redis.
func (c *RedisCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := float64(hits + misses)
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / total
	}
	return Stats{Hits: hits, Misses: misses, HitRate: hitRate}
}

// Close releases the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
