package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
)

var transientStatus = apperr.Transient("httpclient: transport", errors.New("server error"))

// Transport adapts the client for SDKs that take an *http.Client. Retries,
// per-attempt timeouts and the idempotency header apply the same way, but the
// final response is handed back unchanged so the SDK can decode its own errors.
func (c *Client) Transport() http.RoundTripper {
	return &retryTransport{client: c}
}

// StandardClient wraps Transport in an *http.Client.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{Transport: c.Transport()}
}

type retryTransport struct {
	client *Client
}

func (t *retryTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("httpclient: read request body: %w", err)
		}
		body = data
	}
	req := Request{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header.Clone(),
		Body:   body,
	}
	resp, err := t.client.run(r.Context(), req)
	if err != nil {
		t.client.observe(apperr.Transient("httpclient: transport", err), t.client.maxAttempts)
		return nil, err
	}
	t.client.observe(statusOutcome(resp.StatusCode), resp.Attempts)
	raw := resp.raw
	raw.Body = io.NopCloser(bytes.NewReader(resp.Body))
	raw.ContentLength = int64(len(resp.Body))
	raw.Request = r
	return raw, nil
}

func statusOutcome(status int) error {
	if status < 400 {
		return nil
	}
	if retryableStatus(status) {
		return transientStatus
	}
	return classifyStatus("httpclient: transport", &StatusError{StatusCode: status})
}
