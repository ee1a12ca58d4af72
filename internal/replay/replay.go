// Package replay implements the JTI replay store (spec §4.3, component C3):
// an atomic "claim this jti, or tell me it was already claimed" primitive
// backed by Redis, with an in-process fallback for single-instance
// deployments or Redis outages. The fallback is strictly less safe across
// multiple process instances and every fallback activation is logged once
// (spec §9).
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Store is the contract required by spec §4.3. Claim atomically marks jti as
// used for ttl and reports whether this call was the first to do so; a
// caller that gets claimed=false must treat the token as a replay.
type Store interface {
	Claim(ctx context.Context, jti string, ttl time.Duration) (claimed bool, err error)
	Close() error
}

// New constructs a replay store. As with cache.New, an empty or unreachable
// endpoint degrades to an in-process store and logs a single line: info
// when no endpoint is configured, a warning when the configured one is
// invalid or unreachable.
func New(endpoint string) Store {
	if endpoint == "" {
		log.Info().Msg("no shared replay store endpoint configured, using in-process replay store")
		return newMemoryStore()
	}

	opts, err := redis.ParseURL(endpoint)
	if err != nil {
		log.Warn().Err(err).Msg("invalid replay store endpoint, falling back to in-process replay store")
		return newMemoryStore()
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("shared replay store unreachable, degrading to in-process replay store; replay protection is no longer safe across multiple instances")
		_ = client.Close()
		return newMemoryStore()
	}

	log.Info().Msg("shared replay store connected")
	return &redisStore{client: client}
}

// redisStore claims a jti using SET key val NX EX ttl, which atomically
// creates the key only if absent (Redis's canonical set-if-not-exists
// primitive).
type redisStore struct {
	client *redis.Client
}

func (s *redisStore) Claim(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, "replay:"+jti, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *redisStore) Close() error { return s.client.Close() }

// memoryStore is the in-process fallback, guarded by a single mutex so claim
// checks stay atomic within one process.
type memoryStore struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	stopCh  chan struct{}
}

func newMemoryStore() *memoryStore {
	s := &memoryStore{
		claimed: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *memoryStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *memoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for jti, exp := range s.claimed {
		if now.After(exp) {
			delete(s.claimed, jti)
		}
	}
}

func (s *memoryStore) Claim(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if exp, ok := s.claimed[jti]; ok && now.Before(exp) {
		return false, nil
	}
	s.claimed[jti] = now.Add(ttl)
	return true, nil
}

func (s *memoryStore) Close() error {
	close(s.stopCh)
	return nil
}
