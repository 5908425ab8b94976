// Package events holds the versioned messages passed between the webhook and
// the conversation workers.
package events

import "time"

// ChannelWhatsApp is the only inbound channel today.
const ChannelWhatsApp = "whatsapp"

// InboundMessageV1 is a normalized inbound chat message. PhoneNumberID and
// DisplayPhoneNumber identify the clinic's business number; either may be
// empty.
type InboundMessageV1 struct {
	PhoneNumberID      string    `json:"phone_number_id,omitempty"`
	DisplayPhoneNumber string    `json:"display_phone_number,omitempty"`
	CallerPhone        string    `json:"caller_phone"`
	CallerName         string    `json:"caller_name,omitempty"`
	Text               string    `json:"text"`
	MessageID          string    `json:"message_id"`
	Timestamp          time.Time `json:"timestamp"`
	Channel            string    `json:"channel"`
}

func (InboundMessageV1) EventType() string {
	return "whatsapp.message.received.v1"
}
