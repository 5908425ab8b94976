// Package calendar resolves which calendar a booking goes to and talks to
// the clinic's calendar provider for availability and event creation.
package calendar

import (
	"context"
	"time"
)

// Interval is a half-open busy range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) overlaps(start, end time.Time) bool {
	return start.Before(i.End) && i.Start.Before(end)
}

// Slot is a bookable interval on one calendar. Slots are never persisted
// by this package.
type Slot struct {
	Start      time.Time
	End        time.Time
	CalendarID string
	Duration   time.Duration
}

// Event is what gets written to the provider.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

// Provider is a tenant-bound calendar API session.
type Provider interface {
	BusyIntervals(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error)
	CreateEvent(ctx context.Context, calendarID string, event Event) (string, error)
}

// Connector authenticates as a clinic and returns a Provider.
type Connector interface {
	Open(ctx context.Context, clinicID string) (Provider, error)
}
