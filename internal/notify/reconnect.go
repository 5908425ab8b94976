package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// ReconnectNotifier tells a clinic's admin that its calendar connection
// stopped working. The gate keeps it to one email per clinic per window.
type ReconnectNotifier struct {
	email     EmailSender
	gate      *ratelimit.Gate
	reconnect string
	logger    *logging.Logger
}

// NewReconnectNotifier builds a notifier. reconnectURL is included in the
// email when set.
func NewReconnectNotifier(email EmailSender, gate *ratelimit.Gate, reconnectURL string, logger *logging.Logger) *ReconnectNotifier {
	if email == nil {
		panic("notify: email sender required")
	}
	if gate == nil {
		panic("notify: rate limit gate required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReconnectNotifier{email: email, gate: gate, reconnect: strings.TrimSpace(reconnectURL), logger: logger}
}

// NotifyCalendarReconnect returns nil when the notice was suppressed because
// one was sent recently or the clinic has no admin email.
func (n *ReconnectNotifier) NotifyCalendarReconnect(ctx context.Context, cc *clinic.Context) error {
	if cc == nil {
		return fmt.Errorf("notify: clinic context required")
	}
	log := n.logger.WithClinic(cc.ID)
	if cc.AdminEmail == "" {
		log.Warn("calendar reconnect needed but clinic has no admin email")
		return nil
	}
	if err := n.gate.Admit(ctx, cc.ID); err != nil {
		if apperr.IsRateLimited(err) {
			log.Debug("calendar reconnect notice suppressed, sent recently")
			return nil
		}
		return fmt.Errorf("notify: reconnect gate: %w", err)
	}

	if err := n.email.Send(ctx, reconnectEmail(cc, n.reconnect)); err != nil {
		return fmt.Errorf("notify: send reconnect notice: %w", err)
	}
	log.Info("calendar reconnect notice sent", "to", cc.AdminEmail)
	return nil
}

func reconnectEmail(cc *clinic.Context, url string) EmailMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Olá,\n\nO agendamento pelo WhatsApp da %s não conseguiu acessar a agenda da clínica.\n", cc.Name)
	b.WriteString("A autorização do Google Agenda expirou ou foi revogada, e novos agendamentos estão pausados.\n\n")
	if url != "" {
		fmt.Fprintf(&b, "Reconecte a agenda em: %s\n\n", url)
	} else {
		b.WriteString("Acesse o painel da clínica e reconecte o Google Agenda.\n\n")
	}
	b.WriteString("Esta mensagem é automática.")
	return EmailMessage{
		To:      cc.AdminEmail,
		ToName:  cc.Name,
		Subject: "Ação necessária: reconecte a agenda da " + cc.Name,
		Body:    b.String(),
	}
}
