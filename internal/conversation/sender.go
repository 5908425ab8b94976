package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/internal/tenancy"
	"github.com/wolfman30/clinic-booking-bot/internal/whatsapp"
)

// TextSender delivers one WhatsApp text. *whatsapp.Client implements it.
type TextSender interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, text string) (string, error)
}

// RateLimitedSender admits each send against a per-destination bucket and a
// per-clinic bucket before handing it to the underlying sender. The clinic
// comes from the context.
type RateLimitedSender struct {
	next   TextSender
	dest   *ratelimit.Gate
	tenant *ratelimit.Gate
}

// NewRateLimitedSender wraps next. Either gate may be nil to skip it.
func NewRateLimitedSender(next TextSender, dest, tenant *ratelimit.Gate) *RateLimitedSender {
	if next == nil {
		panic("conversation: text sender cannot be nil")
	}
	return &RateLimitedSender{next: next, dest: dest, tenant: tenant}
}

func (s *RateLimitedSender) SendText(ctx context.Context, creds whatsapp.Credentials, to, text string) (string, error) {
	if s.dest != nil {
		if err := s.dest.Admit(ctx, to); err != nil {
			return "", fmt.Errorf("conversation: send: %w", err)
		}
	}
	if clinicID, ok := tenancy.ClinicIDFromContext(ctx); ok && s.tenant != nil {
		if err := s.tenant.Admit(ctx, clinicID); err != nil {
			return "", fmt.Errorf("conversation: send: %w", err)
		}
	}
	return s.next.SendText(ctx, creds, to, text)
}
