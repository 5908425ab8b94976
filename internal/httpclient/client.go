// Package httpclient performs outbound calls to messaging and calendar APIs
// with bounded retries, per-attempt timeouts and a stable idempotency key.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

var tracer = otel.Tracer("clinic-booking-bot/internal/httpclient")

// Config controls retry and timeout behaviour.
type Config struct {
	// Name labels logs and metrics, e.g. "whatsapp" or "google_calendar".
	Name        string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
	Metrics     *metrics.HTTPClientMetrics
	UserAgent   string
}

// Client is safe for concurrent use.
type Client struct {
	name        string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	httpClient  *http.Client
	logger      *logging.Logger
	metrics     *metrics.HTTPClientMetrics
	userAgent   string
}

// Request is one logical outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the final response of a logical call.
type Response struct {
	StatusCode     int
	Header         http.Header
	Body           []byte
	Attempts       int
	IdempotencyKey string

	raw *http.Response
}

// StatusError is a terminal non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, bytes.TrimSpace(body))
}

func New(cfg Config) *Client {
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.Backoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = 200 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "clinic-booking-bot/1.0"
	}
	return &Client{
		name:        name,
		timeout:     timeout,
		maxAttempts: attempts,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		httpClient:  hc,
		logger:      logger,
		metrics:     cfg.Metrics,
		userAgent:   ua,
	}
}

// Do executes req, retrying network failures, timeouts and 5xx responses.
// A 4xx response is returned on the first attempt together with a classified error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	op := "httpclient: " + c.name
	ctx, span := tracer.Start(ctx, "httpclient.Do", trace.WithAttributes(
		attribute.String("http.target_name", c.name),
		attribute.String("http.method", req.Method),
	))
	defer span.End()

	resp, err := c.run(ctx, req)
	if resp != nil {
		span.SetAttributes(attribute.Int("http.attempts", resp.Attempts), attribute.Int("http.status_code", resp.StatusCode))
	}
	if err != nil {
		var classified error = apperr.Transient(op, err)
		var perm permanentError
		if errors.As(err, &perm) {
			classified = apperr.New(apperr.KindValidation, op, "invalid request", err)
		}
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Error())
		c.observe(classified, c.maxAttempts)
		return nil, classified
	}
	if resp.StatusCode >= 500 {
		statusErr := &StatusError{Method: req.Method, URL: req.URL, StatusCode: resp.StatusCode, Body: resp.Body}
		classified := apperr.Transient(op, statusErr)
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Error())
		c.observe(classified, resp.Attempts)
		return nil, classified
	}
	if resp.StatusCode >= 400 {
		classified := classifyStatus(op, &StatusError{Method: req.Method, URL: req.URL, StatusCode: resp.StatusCode, Body: resp.Body})
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Error())
		c.observe(classified, resp.Attempts)
		return resp, classified
	}
	c.observe(nil, resp.Attempts)
	return resp, nil
}

// run performs the retry loop and returns the last response it saw. A
// non-nil error means no attempt produced a response.
func (c *Client) run(ctx context.Context, req Request) (*Response, error) {
	key := req.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		key = IdempotencyKey(req.Method, req.URL, req.Body)
	}
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, req, key)
		if err == nil {
			resp.Attempts = attempt
			if !retryableStatus(resp.StatusCode) || attempt == c.maxAttempts {
				return resp, nil
			}
			c.logRetry(req, attempt, resp.StatusCode, nil)
		} else {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !retryableError(err) {
				return nil, err
			}
			lastErr = err
			if attempt == c.maxAttempts {
				break
			}
			c.logRetry(req, attempt, 0, err)
		}
		if err := c.sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("request failed without response")
	}
	return nil, fmt.Errorf("%s %s after %d attempts: %w", req.Method, req.URL, c.maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request, key string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, permanentError{fmt.Errorf("build request: %w", err)}
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(HeaderIdempotencyKey, key)
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	data, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read response: %w", readErr)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return &Response{
		StatusCode:     resp.StatusCode,
		Header:         resp.Header,
		Body:           data,
		IdempotencyKey: key,
		raw:            resp,
	}, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<(attempt-1))
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(req Request, attempt, status int, err error) {
	args := []any{
		"target", c.name,
		"method", req.Method,
		"attempt", attempt,
		"status", status,
	}
	if err != nil {
		args = append(args, "error", err)
	}
	c.logger.Warn("httpclient retry", args...)
}

func (c *Client) observe(err error, attempts int) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "client_error"
		}
	}
	c.metrics.ObserveRequest(c.name, outcome, attempts)
}

func retryableStatus(status int) bool {
	return status >= 500 && status <= 599
}

type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

// retryableError reports whether a transport error is worth another attempt.
func retryableError(err error) bool {
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

func classifyStatus(op string, se *StatusError) error {
	switch se.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.Auth(op, se)
	case http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, op, "resource not found", se)
	case http.StatusTooManyRequests:
		return apperr.New(apperr.KindRateLimited, op, "upstream rate limited", se)
	default:
		return se
	}
}
