// Package ratelimit implements per-source token buckets for admission control.
//
// Each source gets its own bucket, created lazily on first use. Tokens
// accumulate continuously at requests-per-minute / 60 per second up to the
// burst capacity; Acquire suspends the calling goroutine for the exact
// deficit rather than polling. Under heavy contention strict FIFO ordering
// across waiters is not guaranteed: each caller computes its own wait
// relative to the current token level.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/justice-rest/Intel-sub005/internal/telemetry"
)

// Limits describes one bucket: sustained rate plus burst ceiling.
type Limits struct {
	RequestsPerMinute float64
	Burst             int
}

// Config holds the default bucket applied to unconfigured sources.
// The documented default is 30 requests/minute with a burst of 5.
type Config struct {
	Default   Limits
	PerSource map[string]Limits
}

// Limiter manages per-source buckets. Construct one per process and inject
// it; there is no package-level registry.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	def       Limits
	overrides map[string]Limits
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	def := cfg.Default
	if def.RequestsPerMinute <= 0 {
		def.RequestsPerMinute = 30
	}
	if def.Burst <= 0 {
		def.Burst = 5
	}
	overrides := make(map[string]Limits, len(cfg.PerSource))
	for id, l := range cfg.PerSource {
		overrides[id] = l
	}
	return &Limiter{
		buckets:   make(map[string]*rate.Limiter),
		def:       def,
		overrides: overrides,
	}
}

// Acquire blocks until a token is available for the source, respecting the
// context. The wait is a goroutine suspension, never a busy loop.
func (l *Limiter) Acquire(ctx context.Context, sourceID string) error {
	bucket := l.bucket(sourceID)
	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", sourceID, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(sourceID, waited)
	}
	return nil
}

// TryAcquire is the non-blocking variant.
func (l *Limiter) TryAcquire(sourceID string) bool {
	return l.bucket(sourceID).Allow()
}

// SetOverride installs or replaces one source's limits. An existing bucket
// is rebuilt so the new rate takes effect on the next acquire.
func (l *Limiter) SetOverride(sourceID string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[sourceID] = limits
	delete(l.buckets, sourceID)
}

func (l *Limiter) bucket(sourceID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[sourceID]; ok {
		return b
	}
	limits := l.def
	if o, ok := l.overrides[sourceID]; ok {
		if o.RequestsPerMinute > 0 {
			limits.RequestsPerMinute = o.RequestsPerMinute
		}
		if o.Burst > 0 {
			limits.Burst = o.Burst
		}
	}
	b := rate.NewLimiter(rate.Limit(limits.RequestsPerMinute/60.0), limits.Burst)
	l.buckets[sourceID] = b
	return b
}
