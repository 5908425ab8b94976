// Package router assembles the public HTTP surface.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/clinic-booking-bot/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/internal/whatsapp"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	WhatsApp       *whatsapp.WebhookHandler
	WebhookLimiter *ratelimit.Gate
	MetricsHandler http.Handler
	HealthChecks   map[string]HealthCheck
	HealthTimeout  time.Duration
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.WhatsApp != nil {
		r.Route("/webhooks/whatsapp", func(wh chi.Router) {
			if cfg.WebhookLimiter != nil {
				wh.Use(httpmiddleware.RateLimit(cfg.WebhookLimiter, cfg.Logger))
			}
			wh.Get("/", cfg.WhatsApp.Verify)
			wh.Post("/", cfg.WhatsApp.Receive)
		})
	}

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(cfg *Config) http.HandlerFunc {
	timeout := cfg.HealthTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		code := http.StatusOK
		if len(cfg.HealthChecks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			resp.Checks = make(map[string]string, len(cfg.HealthChecks))
			for name, check := range cfg.HealthChecks {
				if err := check(ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					code = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
