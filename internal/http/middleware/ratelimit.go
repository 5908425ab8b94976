// Package middleware holds the HTTP middleware shared by the public routes.
package middleware

import (
	"net"
	"net/http"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// RateLimit rejects requests whose client IP has exhausted its bucket with
// 429 Too Many Requests. A limiter backend failure answers 503 so the
// platform retries later.
func RateLimit(gate *ratelimit.Gate, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if err := gate.Admit(r.Context(), ip); err != nil {
				if apperr.IsRateLimited(err) {
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
					return
				}
				logger.Error("rate limiter unavailable", "error", err, "path", r.URL.Path)
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers X-Real-Ip set by chi's RealIP middleware.
func clientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
