package ratelimit

import (
	"context"
	"time"

	"techorbit/internal/cache"
)

const redisKeyPrefix = "ratelimit:"

// RedisStore keeps counters in redis so several instances share one budget.
// Keys expire with their window, so Cleanup has nothing to do.
type RedisStore struct {
	cache *cache.Client
}

// NewRedisStore creates a redis-backed store.
func NewRedisStore(c *cache.Client) *RedisStore {
	return &RedisStore{cache: c}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, maxAttempts int, win time.Duration, _ time.Time) (Decision, error) {
	count, left, err := s.cache.IncrWindow(ctx, redisKeyPrefix+key, win)
	if err != nil {
		return Decision{}, err
	}
	if count > int64(maxAttempts) {
		return Decision{Allowed: false, RetryAfter: left}, nil
	}
	return Decision{Allowed: true}, nil
}

// Cleanup implements Store.
func (s *RedisStore) Cleanup(context.Context, time.Time) error {
	return nil
}
