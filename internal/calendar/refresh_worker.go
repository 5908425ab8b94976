package calendar

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

type tokenRefresher interface {
	Refresh(ctx context.Context, creds Credentials) (*Credentials, error)
}

// TokenRefreshWorker refreshes calendar tokens shortly before they expire so
// booking turns rarely pay for a refresh round-trip.
type TokenRefreshWorker struct {
	store         CredentialStore
	refresher     tokenRefresher
	logger        *logging.Logger
	interval      time.Duration
	refreshBefore time.Duration
	now           func() time.Time
}

func NewTokenRefreshWorker(store CredentialStore, refresher tokenRefresher, logger *logging.Logger) *TokenRefreshWorker {
	if store == nil || refresher == nil {
		panic("calendar: token refresh worker requires store and refresher")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TokenRefreshWorker{
		store:         store,
		refresher:     refresher,
		logger:        logger,
		interval:      30 * time.Minute,
		refreshBefore: 15 * time.Minute,
		now:           time.Now,
	}
}

// WithInterval sets the check interval.
func (w *TokenRefreshWorker) WithInterval(interval time.Duration) *TokenRefreshWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithRefreshBefore sets how long before expiry to refresh.
func (w *TokenRefreshWorker) WithRefreshBefore(d time.Duration) *TokenRefreshWorker {
	if d > 0 {
		w.refreshBefore = d
	}
	return w
}

// Start blocks until ctx is cancelled.
func (w *TokenRefreshWorker) Start(ctx context.Context) {
	w.logger.Info("starting calendar token refresh worker",
		"interval", w.interval.String(),
		"refresh_before", w.refreshBefore.String(),
	)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("calendar token refresh worker shutting down")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every credential expiring within refreshBefore and
// returns how many were refreshed.
func (w *TokenRefreshWorker) RunOnce(ctx context.Context) int {
	creds, err := w.store.Expiring(ctx, w.now().Add(w.refreshBefore))
	if err != nil {
		w.logger.Error("failed to list expiring calendar credentials", "error", err)
		return 0
	}
	refreshed := 0
	for _, cred := range creds {
		if _, err := w.refresher.Refresh(ctx, cred); err != nil {
			w.logger.Error("failed to refresh calendar token", "clinic_id", cred.ClinicID, "error", err)
			continue
		}
		refreshed++
	}
	if len(creds) > 0 {
		w.logger.Info("calendar tokens refreshed", "candidates", len(creds), "refreshed", refreshed)
	}
	return refreshed
}
