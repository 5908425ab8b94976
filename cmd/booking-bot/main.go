package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wolfman30/clinic-booking-bot/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-bot/internal/app/bootstrap"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, awsCfg, err := mainconfig.Setup(ctx)
	if err != nil {
		logging.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic booking bot",
		"env", cfg.Env,
		"port", cfg.Port,
		"queue", cfg.QueueBackend,
		"flow_state", cfg.FlowStateBackend,
	)

	app, err := bootstrap.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to wire application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		app.TokenRefresher.Start(ctx)
	}()
	app.Worker.Start(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop taking webhooks first, then let in-flight turns finish.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		app.Worker.Wait()
		background.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("clinic booking bot stopped")
	case <-shutdownCtx.Done():
		logger.Error("shutdown timed out", "error", shutdownCtx.Err())
	}
}
