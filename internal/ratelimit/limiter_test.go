package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRule = Rule{Key: "rl:test:", Limit: 3, Window: 10 * time.Second}

func TestLocalLimiter_BurstThenRefill(t *testing.T) {
	l := NewLocalLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.lastSweep = now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "alice", testRule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, _ := l.Allow(ctx, "alice", testRule)
	assert.False(t, ok, "burst exhausted")

	ok, _ = l.Allow(ctx, "bob", testRule)
	assert.True(t, ok, "buckets are per identifier")

	now = now.Add(testRule.Window / 2) // one and a half tokens back
	ok, _ = l.Allow(ctx, "alice", testRule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "alice", testRule)
	assert.False(t, ok)
}

func TestLocalLimiter_Sweep(t *testing.T) {
	l := NewLocalLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.lastSweep = now
	ctx := context.Background()

	l.Allow(ctx, "alice", testRule)
	l.Allow(ctx, "bob", RuleConnect)
	require.Equal(t, 2, l.Len())

	now = now.Add(90 * time.Second)
	l.Allow(ctx, "carol", testRule)
	assert.Equal(t, 1, l.Len(), "idle refilled buckets are dropped")
}

func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, testRule.Key+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewLimiter(client, zerolog.Nop()), client
}

func TestLimiter_Redis(t *testing.T) {
	l, client := newTestLimiter(t)
	ctx := context.Background()
	id := "test_user"

	for i := 0; i < testRule.Limit; i++ {
		ok, err := l.Allow(ctx, id, testRule)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, id, testRule)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, testRule.Key+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	ok, err = l.Allow(ctx, "test_fresh", testRule)
	require.NoError(t, err)
	assert.True(t, ok, "limits are per identifier")
}

func TestLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewLimiter(client, zerolog.Nop())

	ok, err := l.Allow(context.Background(), "x", testRule)
	assert.True(t, ok)
	assert.Error(t, err)
}

var _ Allower = (*Limiter)(nil)
var _ Allower = (*LocalLimiter)(nil)
