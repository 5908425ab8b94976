package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-booking-bot/internal/conversation"
	"github.com/wolfman30/clinic-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/internal/whatsapp"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

const webhookBody = `{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"field":"messages","value":{
"metadata":{"display_phone_number":"+55 11 4000-1000","phone_number_id":"pnid-1"},
"contacts":[{"wa_id":"5511999990000","profile":{"name":"Maria"}}],
"messages":[{"from":"5511999990000","id":"wamid.1","timestamp":"1791000000","type":"text","text":{"body":"agendar"}}]}}]}]}`

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *conversation.MemoryQueue) {
	t.Helper()

	logger := logging.Default()
	queue := conversation.NewMemoryQueue(4)
	publisher := conversation.NewPublisher(queue, logger)
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Capacity: 100, Window: time.Minute})
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	t.Cleanup(limiter.Close)

	reg := prometheus.NewRegistry()
	metrics.NewBookingMetrics(reg)

	return New(&Config{
		Logger:         logger,
		WhatsApp:       whatsapp.NewWebhookHandler("verify-me", "app-secret", publisher, logger),
		WebhookLimiter: ratelimit.NewGate("webhook", limiter, nil),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HealthChecks:   checks,
	}), queue
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp.Status != "ok" || resp.Checks["postgres"] != "ok" {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestRouterHealthDegraded(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("expected failing check in body, got %s", rr.Body.String())
	}
}

func TestRouterWebhookVerification(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=777", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "777" {
		t.Fatalf("expected challenge echo, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterWebhookEnqueues(t *testing.T) {
	router, queue := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(webhookBody))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign("app-secret", []byte(webhookBody)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if queue.Len() != 1 {
		t.Fatalf("expected one queued message, got %d", queue.Len())
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
