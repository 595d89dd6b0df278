package cache

import (
	"context"
	"time"

	rediscommon "github.com/stepline/stepline/common/redis"
)

// RedisStore backs the Store contract with Redis through the common
// client wrapper
type RedisStore struct {
	client *rediscommon.Client
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *rediscommon.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := s.client.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(val), true, nil
}

// Set stores a value with TTL
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.SetWithExpiry(ctx, key, string(value), ttl)
}

// Increment bumps a counter via INCR, which initializes a missing key to 0
// first, so a fresh counter starts at 1. The operation is a single-key
// atomic command on the Redis side.
func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	return s.client.Increment(ctx, key)
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
