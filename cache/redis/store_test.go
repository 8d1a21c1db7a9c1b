package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/pilab-dev/discord-verifier/cache"
	"github.com/pilab-dev/discord-verifier/cache/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ cache.Store = (*redis.Store)(nil)

func TestStore_Key(t *testing.T) {
	s := redis.NewStore(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "discord-verifier")
	assert.Equal(t, "discord-verifier:lookup:geo:1.2.3.4", s.Key("geo:1.2.3.4"))
}

func TestStore_UnreachableServerIsAMiss(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	s := redis.NewStore(client, "test")
	ctx := context.Background()

	_, ok := s.Get(ctx, "geo:1.2.3.4")
	assert.False(t, ok)
	assert.Error(t, s.Set(ctx, "geo:1.2.3.4", []byte("{}"), time.Minute))
}

// TestStore_RoundTrip runs against a real server when TEST_REDIS_ADDR is set.
func TestStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()

	s := redis.NewStore(client, "discord-verifier-test")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	ttl, err := client.TTL(ctx, s.Key("k")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
