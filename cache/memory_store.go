package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store using ttlcache.
type MemoryStore struct {
	cache *ttlcache.Cache[string, []byte]
}

// NewMemoryStore creates an in-process store with automatic cleanup of expired entries.
// Call Close to stop the cleanup goroutine.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	c := ttlcache.New(
		ttlcache.WithTTL[string, []byte](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)

	go c.Start()

	return &MemoryStore{cache: c}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false
	}
	return item.Value(), true
}

// Set implements Store.Set. A zero ttl uses the store's default.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	s.cache.Set(key, value, ttl)
	return nil
}

// Len returns the number of cached entries, expired ones included until cleanup runs.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() {
	s.cache.Stop()
}
