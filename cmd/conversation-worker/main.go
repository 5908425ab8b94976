package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/clinic-booking-bot/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-bot/internal/app/bootstrap"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// conversation-worker drains the SQS inbound queue without serving HTTP, so
// webhook intake and turn processing scale separately.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, awsCfg, err := mainconfig.Setup(ctx)
	if err != nil {
		logging.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	if cfg.QueueBackend != "sqs" {
		logger.Error("conversation worker requires QUEUE_BACKEND=sqs", "queue", cfg.QueueBackend)
		os.Exit(1)
	}

	app, err := bootstrap.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to wire application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	app.Worker.Start(ctx)
	logger.Info("conversation worker started", "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		app.Worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
