package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-booking-bot/internal/events"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// Publisher enqueues inbound messages for asynchronous processing. It
// satisfies whatsapp.Publisher.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// PublishInbound wraps msg in an envelope and sends it to the queue.
func (p *Publisher) PublishInbound(ctx context.Context, msg events.InboundMessageV1) error {
	env, body, err := encodeInbound(msg)
	if err != nil {
		return err
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("conversation: failed to enqueue message: %w", err)
	}

	p.logger.Debug("inbound message enqueued",
		"event_id", env.EventID.String(),
		"message_id", msg.MessageID,
		"caller", logging.MaskPhone(msg.CallerPhone),
	)
	return nil
}
