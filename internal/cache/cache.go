// Package cache provides the TTL-bounded key/document cache (spec §4.2,
// component C2): a shared Redis-backed store with transparent, one-way
// degrade to an in-process map when Redis is unreachable. The cache is
// never authoritative for security — callers always re-verify signatures
// against freshly retrieved key material (spec §4.2).
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache is the contract required by spec §4.2: get/put/delete/clear with a
// per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// New constructs a cache. If endpoint is empty, or the connection attempt to
// it fails, New returns a process-local cache instead and logs a single
// line (info when no endpoint is configured, a warning when the configured
// one is invalid or unreachable) — the one-way degrade latch described in
// spec §9 (a background
// reconnect loop is acceptable, but the per-request path must never stall
// retrying a dead backend).
func New(endpoint string, name string) Cache {
	if endpoint == "" {
		log.Info().Str("cache", name).Msg("no shared cache endpoint configured, using in-process cache")
		return newMemoryCache()
	}

	opts, err := redis.ParseURL(endpoint)
	if err != nil {
		log.Warn().Err(err).Str("cache", name).Msg("invalid cache endpoint, falling back to in-process cache")
		return newMemoryCache()
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("cache", name).Msg("shared cache unreachable, degrading to in-process cache")
		_ = client.Close()
		return newMemoryCache()
	}

	log.Info().Str("cache", name).Msg("shared cache connected")
	return &redisCache{client: client, prefix: name}
}

// redisCache implements Cache against a shared Redis instance.
type redisCache struct {
	client *redis.Client
	prefix string
}

func (c *redisCache) fullKey(key string) string { return c.prefix + ":" + key }

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *redisCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.fullKey(key), value, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.fullKey(key)).Err()
}

func (c *redisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *redisCache) Close() error { return c.client.Close() }

// memoryCache is the in-process fallback. It protects its map with a single
// mutex and sweeps expired entries periodically so reads stay brief and
// never perform I/O (spec §5 "Shared resources").
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	stopCh  chan struct{}
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func newMemoryCache() *memoryCache {
	c := &memoryCache{
		entries: make(map[string]memEntry),
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *memoryCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *memoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *memoryCache) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memEntry)
	return nil
}

func (c *memoryCache) Close() error {
	close(c.stopCh)
	return nil
}
