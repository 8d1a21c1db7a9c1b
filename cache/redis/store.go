package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store implements cache.Store on Redis so every instance shares lookups.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore creates a Store. Keys are namespaced as "<prefix>:lookup:<key>".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Key returns the Redis key used for a cache key.
func (s *Store) Key(key string) string {
	return fmt.Sprintf("%s:lookup:%s", s.prefix, key)
}

// Get implements cache.Store.Get. Redis errors are reported as misses.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set implements cache.Store.Set.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.Key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set lookup in Redis: %w", err)
	}
	return nil
}
