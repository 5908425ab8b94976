package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-bot/internal/api/router"
	"github.com/wolfman30/clinic-booking-bot/internal/booking"
	"github.com/wolfman30/clinic-booking-bot/internal/calendar"
	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
	appconfig "github.com/wolfman30/clinic-booking-bot/internal/config"
	"github.com/wolfman30/clinic-booking-bot/internal/conversation"
	"github.com/wolfman30/clinic-booking-bot/internal/events"
	"github.com/wolfman30/clinic-booking-bot/internal/httpclient"
	"github.com/wolfman30/clinic-booking-bot/internal/memory"
	"github.com/wolfman30/clinic-booking-bot/internal/notify"
	"github.com/wolfman30/clinic-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-bot/internal/routing"
	"github.com/wolfman30/clinic-booking-bot/internal/whatsapp"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// App is the fully wired system. Handler serves the webhook; Worker and
// TokenRefresher run in the background until their context ends.
type App struct {
	Handler        http.Handler
	Worker         *conversation.Worker
	TokenRefresher *calendar.TokenRefreshWorker

	pool  *pgxpool.Pool
	redis *redis.Client
	gates *Gates
}

// Close releases connections and limiter janitors.
func (a *App) Close() {
	if a.gates != nil {
		a.gates.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Build wires every component from cfg. awsCfg may be nil when no AWS
// backend is selected.
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	app := &App{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)
	httpMetrics := metrics.NewHTTPClientMetrics(reg)
	limitMetrics := metrics.NewRateLimitMetrics(reg)

	if app.pool, err = BuildPostgresPool(ctx, cfg); err != nil {
		return nil, err
	}
	app.redis = BuildRedisClient(ctx, cfg, logger, true)
	if app.redis == nil {
		return nil, fmt.Errorf("bootstrap: redis is required for conversation memory")
	}

	if app.gates, err = BuildGates(cfg, app.redis, limitMetrics); err != nil {
		return nil, err
	}
	flows, err := BuildFlowStore(cfg, app.redis, awsCfg)
	if err != nil {
		return nil, err
	}
	queue, err := BuildQueue(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	mem := memory.NewRedisStore(app.redis, cfg.MemoryHistoryWindow)
	clinics := clinic.NewManager(BuildClinicSource(cfg, clinic.NewPostgresSource(app.pool), app.redis, logger), logger)
	resolver := routing.NewResolver(routing.NewChannelRepository(app.pool), mem, logger)

	newHTTP := func(name string) *httpclient.Client {
		return httpclient.New(httpclient.Config{
			Name:        name,
			Timeout:     cfg.HTTPTimeout,
			MaxAttempts: cfg.HTTPMaxAttempts,
			Backoff:     cfg.HTTPRetryBackoff,
			Logger:      logger,
			Metrics:     httpMetrics,
		})
	}

	credStore := calendar.NewPostgresCredentialStore(app.pool)
	connector := calendar.NewGoogleConnector(calendar.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Endpoint:     cfg.GoogleCalendarEndpoint,
	}, credStore, newHTTP("google_calendar"), logger)
	calendarSvc := calendar.NewService(connector, logger,
		calendar.WithRateLimit(app.gates.Calendar),
		calendar.WithMaxSlots(cfg.BookingMaxSlots),
	)
	app.TokenRefresher = calendar.NewTokenRefreshWorker(credStore, connector, logger).
		WithInterval(cfg.TokenRefreshInterval).
		WithRefreshBefore(cfg.TokenRefreshBefore)

	bookings := booking.NewManager(flows, calendarSvc, mem, logger,
		booking.WithMetrics(bookingMetrics),
		booking.WithDaysAhead(cfg.BookingDaysAhead),
		booking.WithTimeFormat(cfg.BookingTimeFormat),
	)

	sender := conversation.NewRateLimitedSender(
		whatsapp.NewClient(newHTTP("whatsapp"), cfg.WhatsAppAPIBaseURL, logger),
		app.gates.OutboundDest,
		app.gates.OutboundTenant,
	)
	reconnect := notify.NewReconnectNotifier(BuildEmailSender(cfg, awsCfg, logger), app.gates.Reconnect, cfg.ReconnectURL, logger)

	processor := conversation.NewProcessor(resolver, clinics, bookings, sender, logger,
		conversation.WithProcessedStore(events.NewProcessedStore(app.pool)),
		conversation.WithProfiles(mem),
		conversation.WithInboundGate(app.gates.Inbound),
		conversation.WithReconnectNotifier(reconnect),
		conversation.WithFallbackCredentials(whatsapp.Credentials{
			PhoneNumberID: cfg.WhatsAppFallbackPhoneID,
			AccessToken:   cfg.WhatsAppFallbackAccessToken,
		}),
		conversation.WithProcessorMetrics(bookingMetrics),
	)
	app.Worker = conversation.NewWorker(processor, queue, logger, conversation.WithWorkerCount(cfg.WorkerCount))

	if cfg.WhatsAppAppSecret == "" {
		logger.Warn("WHATSAPP_APP_SECRET is empty; webhook signatures are not verified")
	}
	webhook := whatsapp.NewWebhookHandler(cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, conversation.NewPublisher(queue, logger), logger)

	pool, rdb := app.pool, app.redis
	app.Handler = router.New(&router.Config{
		Logger:         logger,
		WhatsApp:       webhook,
		WebhookLimiter: app.gates.Webhook,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HealthChecks: map[string]router.HealthCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})

	return app, nil
}
