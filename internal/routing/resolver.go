// Package routing decides which clinic an inbound WhatsApp message belongs to.
package routing

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// ChannelLookup finds a clinic by the business number that received the message.
type ChannelLookup interface {
	ByPhoneNumberID(ctx context.Context, phoneNumberID string) (string, error)
	ByDisplayPhoneNumber(ctx context.Context, display string) (string, error)
}

// HistoryLookup finds the clinic a caller most recently talked to.
type HistoryLookup interface {
	LastClinicID(ctx context.Context, phone string) (string, error)
}

// Hint carries the gateway identifiers from the webhook.
type Hint struct {
	PhoneNumberID      string
	DisplayPhoneNumber string
}

// Resolver tries, in order: gateway phone-number id, display number, caller
// history. The first match wins and no default clinic is ever assumed.
type Resolver struct {
	channels ChannelLookup
	history  HistoryLookup
	logger   *logging.Logger
}

func NewResolver(channels ChannelLookup, history HistoryLookup, logger *logging.Logger) *Resolver {
	if channels == nil {
		panic("routing: channel lookup required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{channels: channels, history: history, logger: logger}
}

type lookupResult struct {
	source   string
	clinicID string
	err      error
}

// Resolve runs every applicable lookup concurrently, then picks by priority.
// An error from a lookup that outranks the first hit is returned as-is rather
// than silently falling through to a lower-priority answer.
func (r *Resolver) Resolve(ctx context.Context, hint Hint, callerPhone string) (string, error) {
	results := []lookupResult{
		{source: "phone_number_id"},
		{source: "display_phone_number"},
		{source: "caller_history"},
	}
	lookups := []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			if hint.PhoneNumberID == "" {
				return "", nil
			}
			return r.channels.ByPhoneNumberID(ctx, hint.PhoneNumberID)
		},
		func(ctx context.Context) (string, error) {
			if hint.DisplayPhoneNumber == "" {
				return "", nil
			}
			return r.channels.ByDisplayPhoneNumber(ctx, hint.DisplayPhoneNumber)
		},
		func(ctx context.Context) (string, error) {
			if r.history == nil || callerPhone == "" {
				return "", nil
			}
			return r.history.LastClinicID(ctx, callerPhone)
		},
	}

	// Plain Group: one failing lookup must not cancel the others.
	var g errgroup.Group
	for i := range lookups {
		g.Go(func() error {
			results[i].clinicID, results[i].err = lookups[i](ctx)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.err != nil {
			r.logger.Warn("clinic routing lookup failed", "source", res.source, "error", res.err)
			return "", apperr.Transient("routing: resolve via "+res.source, res.err)
		}
		if res.clinicID != "" {
			r.logger.Debug("clinic routed", "source", res.source, "clinic_id", res.clinicID)
			return res.clinicID, nil
		}
	}
	return "", apperr.NotFound("routing: resolve", "no clinic matches inbound message")
}
