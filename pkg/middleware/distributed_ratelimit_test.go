package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDistributedLimiter(t *testing.T, cfg *RateLimitConfig) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewDistributedRateLimiter(client, cfg, ""), mr
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	cfg := &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute, BurstSize: 1}
	limiter, mr := newTestDistributedLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		allowed, err := limiter.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := limiter.Remaining(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	ttl, err := limiter.TTL(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.True(t, mr.Exists("gatehouse:ratelimit:ip:10.0.0.1"))

	// the window closes
	mr.FastForward(time.Minute + time.Second)
	allowed, err = limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDistributedRateLimiter_WindowNotExtended(t *testing.T) {
	cfg := &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
	limiter, mr := newTestDistributedLimiter(t, cfg)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(40 * time.Second)
	_, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)

	ttl := mr.TTL("gatehouse:ratelimit:k")
	assert.LessOrEqual(t, ttl, 20*time.Second)
}

func TestDistributedRateLimiter_RemainingAndReset(t *testing.T) {
	limiter, _ := newTestDistributedLimiter(t, &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute, BurstSize: 2})
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 7, remaining)

	_, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	remaining, err = limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 6, remaining)

	require.NoError(t, limiter.Reset(ctx, "k"))
	remaining, err = limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 7, remaining)
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewDistributedRateLimiter(client, nil, "")

	allowed, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, allowed)
}
