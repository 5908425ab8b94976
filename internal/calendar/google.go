package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/internal/httpclient"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// GoogleConfig configures the Google Calendar connector.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TokenURL overrides the OAuth2 token endpoint; used by tests.
	TokenURL string
	// Endpoint overrides the Calendar API base path; used by tests.
	Endpoint string
}

// GoogleConnector opens Google Calendar sessions for clinics using their
// stored OAuth credentials.
type GoogleConnector struct {
	oauth    *oauth2.Config
	creds    CredentialStore
	http     *httpclient.Client
	endpoint string
	logger   *logging.Logger
}

var _ Connector = (*GoogleConnector)(nil)

func NewGoogleConnector(cfg GoogleConfig, creds CredentialStore, client *httpclient.Client, logger *logging.Logger) *GoogleConnector {
	if creds == nil {
		panic("calendar: credential store required")
	}
	if client == nil {
		panic("calendar: http client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &GoogleConnector{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{gcal.CalendarEventsScope, gcal.CalendarReadonlyScope},
		},
		creds:    creds,
		http:     client,
		endpoint: cfg.Endpoint,
		logger:   logger,
	}
}

// Open returns a provider bound to clinicID, refreshing the access token
// when it has expired and persisting the rotated token.
func (c *GoogleConnector) Open(ctx context.Context, clinicID string) (Provider, error) {
	stored, err := c.creds.Get(ctx, clinicID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Auth("calendar: open", err)
		}
		return nil, apperr.Transient("calendar: open", err)
	}

	current := stored.Token()
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.http.StandardClient())
	fresh, err := c.oauth.TokenSource(tokenCtx, current).Token()
	if err != nil {
		return nil, classifyTokenError("calendar: refresh token", err)
	}
	if fresh.AccessToken != current.AccessToken {
		if err := c.creds.Save(ctx, stored.WithToken(fresh)); err != nil {
			c.logger.Warn("calendar token refreshed but not persisted", "clinic_id", clinicID, "error", err)
		} else {
			c.logger.Info("calendar token refreshed", "clinic_id", clinicID, "expires_at", fresh.Expiry)
		}
	}

	authed := &http.Client{Transport: &oauth2.Transport{
		Source: oauth2.StaticTokenSource(fresh),
		Base:   c.http.Transport(),
	}}
	opts := []option.ClientOption{option.WithHTTPClient(authed)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: build google service: %w", err)
	}
	return &googleProvider{svc: svc, clinicID: clinicID}, nil
}

// Refresh forces a token refresh for stored credentials.
func (c *GoogleConnector) Refresh(ctx context.Context, creds Credentials) (*Credentials, error) {
	expired := creds.Token()
	expired.Expiry = time.Now().Add(-time.Minute)
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.http.StandardClient())
	fresh, err := c.oauth.TokenSource(tokenCtx, expired).Token()
	if err != nil {
		return nil, classifyTokenError("calendar: refresh token", err)
	}
	updated := creds.WithToken(fresh)
	if err := c.creds.Save(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

type googleProvider struct {
	svc      *gcal.Service
	clinicID string
}

func (p *googleProvider) BusyIntervals(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error) {
	resp, err := p.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleError("calendar: freebusy", err)
	}
	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, apperr.NotFound("calendar: freebusy", "calendar "+calendarID+" missing from response")
	}
	for _, e := range cal.Errors {
		if e.Reason == "notFound" {
			return nil, apperr.NotFound("calendar: freebusy", "calendar "+calendarID+" not found")
		}
		return nil, apperr.Transient("calendar: freebusy", fmt.Errorf("calendar %s: %s", calendarID, e.Reason))
	}
	out := make([]Interval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy start %q: %w", b.Start, err)
		}
		end, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy end %q: %w", b.End, err)
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out, nil
}

func (p *googleProvider) CreateEvent(ctx context.Context, calendarID string, event Event) (string, error) {
	created, err := p.svc.Events.Insert(calendarID, &gcal.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Start:       &gcal.EventDateTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: event.TimeZone},
		End:         &gcal.EventDateTime{DateTime: event.End.Format(time.RFC3339), TimeZone: event.TimeZone},
	}).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogleError("calendar: insert event", err)
	}
	return created.Id, nil
}

func classifyGoogleError(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return apperr.Auth(op, err)
		case gerr.Code == http.StatusNotFound:
			return apperr.New(apperr.KindNotFound, op, "calendar resource not found", err)
		case gerr.Code == http.StatusTooManyRequests:
			return apperr.New(apperr.KindRateLimited, op, "calendar provider rate limited", err)
		case gerr.Code >= 500:
			return apperr.Transient(op, err)
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return classifyTokenError(op, err)
	}
	return apperr.Transient(op, err)
}

// classifyTokenError maps token endpoint failures. oauth2 reports every
// non-2xx reply as a RetrieveError, so only a rejected grant or client means
// the clinic must reconnect.
func classifyTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return apperr.Transient(op, err)
	}
	switch retrieveErr.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return apperr.Auth(op, err)
	}
	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return apperr.New(apperr.KindRateLimited, op, "calendar token endpoint rate limited", err)
	case status >= 500 || status == 0:
		return apperr.Transient(op, err)
	default:
		return apperr.Auth(op, err)
	}
}
