// Package bootstrap turns configuration into wired components shared by the
// binaries.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-booking-bot/internal/config"
	"github.com/wolfman30/clinic-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects to DATABASE_URL and pings once.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// Gates are the admission scopes used across the pipeline.
type Gates struct {
	Inbound        *ratelimit.Gate
	OutboundDest   *ratelimit.Gate
	OutboundTenant *ratelimit.Gate
	Calendar       *ratelimit.Gate
	Reconnect      *ratelimit.Gate
	Webhook        *ratelimit.Gate

	closers []func()
}

// Close stops any in-process limiter janitors.
func (g *Gates) Close() {
	for _, c := range g.closers {
		c()
	}
}

// BuildGates creates one limiter per scope on the configured backend. The
// redis backend shares buckets across replicas.
func BuildGates(cfg *appconfig.Config, client redis.Cmdable, m *metrics.RateLimitMetrics) (*Gates, error) {
	g := &Gates{}
	scopes := []struct {
		scope string
		dst   **ratelimit.Gate
		cfg   ratelimit.Config
	}{
		{"inbound", &g.Inbound, ratelimit.Config{Capacity: cfg.InboundRateCapacity, Window: cfg.InboundRateWindow}},
		{"outbound:dest", &g.OutboundDest, ratelimit.Config{Capacity: cfg.OutboundRateCapacity, Window: cfg.OutboundRateWindow}},
		{"outbound:tenant", &g.OutboundTenant, ratelimit.Config{Capacity: cfg.TenantRateCapacity, Window: cfg.TenantRateWindow}},
		{"calendar", &g.Calendar, ratelimit.Config{Capacity: cfg.CalendarRateCapacity, Window: cfg.CalendarRateWindow}},
		{"reconnect", &g.Reconnect, ratelimit.Config{Capacity: 1, Window: cfg.ReconnectNoticeInterval}},
		{"webhook", &g.Webhook, ratelimit.Config{Capacity: cfg.WebhookRateCapacity, Window: cfg.WebhookRateWindow}},
	}
	for _, s := range scopes {
		limiter, err := buildLimiter(cfg.RateLimitBackend, client, s.cfg, g)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("bootstrap: %s limiter: %w", s.scope, err)
		}
		*s.dst = ratelimit.NewGate(s.scope, limiter, m)
	}
	return g, nil
}

func buildLimiter(backend string, client redis.Cmdable, cfg ratelimit.Config, g *Gates) (ratelimit.Limiter, error) {
	switch backend {
	case "", "memory":
		janitor := 2 * cfg.Window
		if janitor < time.Minute {
			janitor = time.Minute
		}
		l, err := ratelimit.NewMemoryLimiter(cfg, ratelimit.WithJanitor(janitor))
		if err != nil {
			return nil, err
		}
		g.closers = append(g.closers, l.Close)
		return l, nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis backend selected but redis is unavailable")
		}
		l, err := ratelimit.NewRedisLimiter(client, cfg)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", backend)
	}
}
