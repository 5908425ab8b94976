// Package conversation moves inbound WhatsApp messages from the webhook to
// the booking dialogue and sends the replies back.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/clinic-booking-bot/internal/events"
)

// Queue carries encoded inbound messages from the webhook to the workers.
// MemoryQueue and SQSQueue implement it.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received body and the handle that deletes it.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

func encodeInbound(msg events.InboundMessageV1) (events.Envelope, string, error) {
	env, err := events.NewEnvelope("caller:"+msg.CallerPhone, msg.MessageID, msg)
	if err != nil {
		return events.Envelope{}, "", fmt.Errorf("conversation: build envelope: %w", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return events.Envelope{}, "", fmt.Errorf("conversation: encode envelope: %w", err)
	}
	return env, string(body), nil
}

func decodeInbound(body string) (events.InboundMessageV1, error) {
	var env events.Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return events.InboundMessageV1{}, fmt.Errorf("conversation: decode envelope: %w", err)
	}
	return events.DecodeInbound(env)
}
