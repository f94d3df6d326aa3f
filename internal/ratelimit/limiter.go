package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
)

// Limiter paces probe traffic: a global token bucket plus a minimum spacing
// between requests to the same host.
type Limiter struct {
	limiter      *rate.Limiter
	requestDelay time.Duration
	burstSize    int
	nextAllowed  map[string]time.Time
	mu           sync.Mutex
}

type Config struct {
	// RequestsPerSecond of zero disables the global bucket.
	RequestsPerSecond float64

	BurstSize int

	// MinDelay is the minimum delay between requests to the same host
	MinDelay time.Duration
}

func FromConfig(cfg config.RateLimitConfig) Config {
	return Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		BurstSize:         cfg.BurstSize,
		MinDelay:          cfg.MinDelay,
	}
}

func NewLimiter(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(limit, burst),
		requestDelay: cfg.MinDelay,
		burstSize:    burst,
		nextAllowed:  make(map[string]time.Time),
	}
}

// Wait blocks until the global bucket allows a request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// WaitForHost waits for the global bucket, then for the host's minimum delay.
// Concurrent callers for the same host are spaced out rather than released together.
func (l *Limiter) WaitForHost(ctx context.Context, host string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if l.requestDelay <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	slot := now
	if next, ok := l.nextAllowed[host]; ok && next.After(now) {
		slot = next
	}
	l.nextAllowed[host] = slot.Add(l.requestDelay)
	l.mu.Unlock()

	sleep := time.Until(slot)
	if sleep <= 0 {
		return nil
	}

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForURL is WaitForHost keyed on the URL's host. Unparseable URLs fall
// back to the global bucket only.
func (l *Limiter) WaitForURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return l.Wait(ctx)
	}
	return l.WaitForHost(ctx, strings.ToLower(u.Host))
}

// GetStats reports the limiter settings and how many hosts it is spacing.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedHosts: len(l.nextAllowed),
		BurstSize:    l.burstSize,
		RequestDelay: l.requestDelay,
	}
}

type Stats struct {
	TrackedHosts int
	BurstSize    int
	RequestDelay time.Duration
}
