package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Store caches opaque lookup results by key.
// Get reports a miss for anything it cannot serve, including backend errors.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// GetJSON decodes a cached JSON value. Undecodable entries count as misses.
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, bool) {
	if s == nil {
		return nil, false
	}
	raw, ok := s.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// SetJSON stores v encoded as JSON.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}

// NopStore never stores anything.
type NopStore struct{}

func (NopStore) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
