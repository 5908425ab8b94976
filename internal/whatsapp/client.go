// Package whatsapp talks to the WhatsApp Business Cloud API: outbound text
// sends and inbound webhook parsing.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-booking-bot/internal/httpclient"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

const DefaultBaseURL = "https://graph.facebook.com/v21.0"

// Credentials identify the clinic's business number on the Cloud API.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

// Client sends messages through the resilient HTTP client.
type Client struct {
	http    *httpclient.Client
	baseURL string
	logger  *logging.Logger
}

func NewClient(client *httpclient.Client, baseURL string, logger *logging.Logger) *Client {
	if client == nil {
		panic("whatsapp: http client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: client, baseURL: baseURL, logger: logger}
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText delivers text to the caller and returns the provider message id.
// Retries of the same logical send carry the same idempotency key.
func (c *Client) SendText(ctx context.Context, creds Credentials, to, text string) (string, error) {
	if creds.PhoneNumberID == "" || creds.AccessToken == "" {
		return "", errors.New("whatsapp: credentials required")
	}
	to = strings.TrimPrefix(strings.TrimSpace(to), "+")
	if to == "" {
		return "", errors.New("whatsapp: recipient required")
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, creds.PhoneNumberID)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.AccessToken)

	var out sendResponse
	resp, err := c.http.DoJSON(ctx, http.MethodPost, url, header, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: text},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send text: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp: send text: response carried no message id")
	}
	c.logger.Debug("whatsapp message sent",
		"phone_number_id", creds.PhoneNumberID,
		"to", logging.MaskPhone(to),
		"message_id", out.Messages[0].ID,
		"attempts", resp.Attempts,
	)
	return out.Messages[0].ID, nil
}
