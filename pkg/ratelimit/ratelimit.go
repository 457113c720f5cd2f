// Package ratelimit provides token-bucket admission control per logical
// resource. Callers block until admitted rather than being rejected.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/everme/stockagent/pkg/errors"
)

// Resource identifies a rate-limited upstream dependency.
type Resource string

const (
	// ResourceMarketData covers calls to the market-data source.
	ResourceMarketData Resource = "marketdata"

	// ResourceLLM covers calls to the model provider.
	ResourceLLM Resource = "llm"
)

// BucketConfig describes one token bucket: Capacity tokens refilled evenly
// over Window. Capacity also bounds the burst.
type BucketConfig struct {
	Capacity int
	Window   time.Duration
}

// Registry holds one token bucket per resource. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	buckets map[Resource]*rate.Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[Resource]*rate.Limiter)}
}

// DefaultRegistry returns a registry with the standard engine buckets:
// market data at 30 requests per minute, model provider at 20 per minute.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Configure(ResourceMarketData, BucketConfig{Capacity: 30, Window: time.Minute})
	r.Configure(ResourceLLM, BucketConfig{Capacity: 20, Window: time.Minute})
	return r
}

// Configure installs or replaces the bucket for a resource.
func (r *Registry) Configure(resource Resource, cfg BucketConfig) {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	refill := rate.Limit(float64(cfg.Capacity) / cfg.Window.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[resource] = rate.NewLimiter(refill, cfg.Capacity)
}

// Acquire consumes one token for the resource, blocking until one is
// available or the context is canceled. Unknown resources admit
// immediately: a tool with no external dependency declares no bucket.
func (r *Registry) Acquire(ctx context.Context, resource Resource) error {
	r.mu.RLock()
	limiter, ok := r.buckets[resource]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if !limiter.Allow() {
		slog.Debug("rate limit wait", "resource", string(resource))
		if err := limiter.Wait(ctx); err != nil {
			return errors.New(errors.CodeRateLimit, "rate limit wait canceled", err).
				WithContext("resource", string(resource))
		}
	}
	return nil
}

// Tokens reports the current token count for a resource, for diagnostics.
func (r *Registry) Tokens(resource Resource) float64 {
	r.mu.RLock()
	limiter, ok := r.buckets[resource]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return limiter.Tokens()
}
