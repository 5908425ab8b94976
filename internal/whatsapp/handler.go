package whatsapp

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-bot/internal/events"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

var tracer = otel.Tracer("clinic-booking-bot/internal/whatsapp")

const maxWebhookBody = 1 << 20

// Publisher hands inbound messages to the conversation workers.
type Publisher interface {
	PublishInbound(ctx context.Context, msg events.InboundMessageV1) error
}

// WebhookHandler serves the Cloud API webhook: GET for subscription
// verification, POST for message delivery.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	publisher   Publisher
	logger      *logging.Logger
}

func NewWebhookHandler(verifyToken, appSecret string, publisher Publisher, logger *logging.Logger) *WebhookHandler {
	if publisher == nil {
		panic("whatsapp: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{verifyToken: verifyToken, appSecret: appSecret, publisher: publisher, logger: logger}
}

// Verify handles GET subscription challenges.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("whatsapp webhook verification failed", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// Receive handles POST deliveries. A publish failure answers 500 so the
// platform redelivers; duplicates are dropped downstream by message id.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "whatsapp.webhook")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("whatsapp webhook body unreadable", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}
	if h.appSecret != "" && !VerifySignature(h.appSecret, body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("invalid whatsapp signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		span.RecordError(errors.New("invalid whatsapp signature"))
		return
	}

	msgs, err := ParseWebhook(body)
	if err != nil {
		h.logger.Warn("failed to parse whatsapp webhook", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.Int("whatsapp.messages", len(msgs)))

	for _, msg := range msgs {
		if err := h.publisher.PublishInbound(ctx, msg); err != nil {
			h.logger.Error("failed to enqueue whatsapp message",
				"message_id", msg.MessageID,
				"phone_number_id", msg.PhoneNumberID,
				"error", err,
			)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			span.RecordError(err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
