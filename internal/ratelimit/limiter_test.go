package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	cfg := FromConfig(config.DefaultConfig().RateLimit)
	limiter := NewLimiter(cfg)
	require.NotNil(t, limiter)

	stats := limiter.GetStats()
	assert.Equal(t, cfg.BurstSize, stats.BurstSize)
	assert.Equal(t, cfg.MinDelay, stats.RequestDelay)
	assert.Zero(t, stats.TrackedHosts)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{RequestsPerSecond: 3, BurstSize: 2, MinDelay: time.Second})
	assert.Equal(t, Config{RequestsPerSecond: 3, BurstSize: 2, MinDelay: time.Second}, cfg)
}

func TestLimiterWaitBurstThenThrottle(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 2})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "burst should not block")

	start = time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "third request should be throttled")
}

func TestZeroRateIsUnlimited(t *testing.T) {
	limiter := NewLimiter(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.WaitForHost(ctx, "acme.test"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitForHostSpacesSameHost(t *testing.T) {
	limiter := NewLimiter(Config{MinDelay: 40 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, limiter.WaitForHost(ctx, "acme.test"))
	start := time.Now()
	require.NoError(t, limiter.WaitForHost(ctx, "acme.test"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// A different host is not delayed by the first one.
	start = time.Now()
	require.NoError(t, limiter.WaitForHost(ctx, "other.test"))
	assert.Less(t, time.Since(start), 30*time.Millisecond)

	assert.Equal(t, 2, limiter.GetStats().TrackedHosts)
}

func TestWaitForHostHonoursCancellation(t *testing.T) {
	limiter := NewLimiter(Config{MinDelay: time.Hour})
	require.NoError(t, limiter.WaitForHost(context.Background(), "acme.test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.WaitForHost(ctx, "acme.test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForURL(t *testing.T) {
	limiter := NewLimiter(Config{MinDelay: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, limiter.WaitForURL(ctx, "https://ACME.test/users?id=1"))
	require.NoError(t, limiter.WaitForURL(ctx, "::not a url"))
	assert.Equal(t, 1, limiter.GetStats().TrackedHosts)
}
