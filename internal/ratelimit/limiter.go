// Package ratelimit provides non-blocking per-key token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/internal/observability/metrics"
)

// Limiter admits or denies a single request for key without waiting.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config describes a bucket: Capacity tokens, refilled evenly over Window.
type Config struct {
	Capacity int
	Window   time.Duration
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("ratelimit: capacity must be positive, got %d", c.Capacity)
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive, got %s", c.Window)
	}
	return nil
}

// Gate binds a Limiter to a named scope and turns denials into
// apperr.RateLimited errors.
type Gate struct {
	scope   string
	limiter Limiter
	metrics *metrics.RateLimitMetrics
}

func NewGate(scope string, limiter Limiter, m *metrics.RateLimitMetrics) *Gate {
	if limiter == nil {
		panic("ratelimit: limiter required")
	}
	return &Gate{scope: scope, limiter: limiter, metrics: m}
}

// Scope returns the gate's name.
func (g *Gate) Scope() string { return g.scope }

// Admit fails fast when the bucket for key is empty.
func (g *Gate) Admit(ctx context.Context, key string) error {
	full := g.scope + ":" + key
	ok, err := g.limiter.Allow(ctx, full)
	if err != nil {
		return apperr.Transient("ratelimit: "+g.scope, err)
	}
	g.metrics.ObserveDecision(g.scope, ok)
	if !ok {
		return apperr.RateLimited("ratelimit: "+g.scope, full)
	}
	return nil
}
