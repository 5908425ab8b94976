// Package clinic turns stored clinic documents into a validated Context that
// the booking dialogue can rely on.
package clinic

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultCalendarID is used when a clinic configures no default calendar.
const DefaultCalendarID = "primary"

const (
	LevelService      = "service"
	LevelProfessional = "professional"
)

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

// ParseTimeOfDay accepts "15:04" values; "24:00" is allowed as a closing time.
func ParseTimeOfDay(v string) (TimeOfDay, error) {
	v = strings.TrimSpace(v)
	if v == "24:00" {
		return TimeOfDay(24 * 60), nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("clinic: invalid time of day %q", v)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On returns the wall-clock instant at this time of day on the date of day,
// in day's location. 24:00 is the next day's midnight.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, day.Location())
}

// DayHours is one open interval [Open, Close).
type DayHours struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// Hours is a clinic's weekly schedule.
type Hours struct {
	AlwaysOpen bool
	Days       map[time.Weekday]DayHours
}

// For returns the hours for day; ok is false when the clinic is closed. An
// always-open clinic gets the whole day, and slots may run past midnight.
func (h Hours) For(day time.Weekday) (DayHours, bool) {
	if h.AlwaysOpen {
		return DayHours{Open: 0, Close: 24 * 60}, true
	}
	dh, ok := h.Days[day]
	return dh, ok
}

// IsOpenAt reports whether t (already in the clinic's location) falls
// inside business hours.
func (h Hours) IsOpenAt(t time.Time) bool {
	dh, ok := h.For(t.Weekday())
	if !ok {
		return false
	}
	minutes := TimeOfDay(t.Hour()*60 + t.Minute())
	return minutes >= dh.Open && minutes < dh.Close
}

type Service struct {
	ID       string
	Name     string
	Duration time.Duration
	Category string
}

type Professional struct {
	ID   string
	Name string
}

// CalendarMapping holds the two lookup tables plus the fallback calendar.
type CalendarMapping struct {
	ByService      map[string]string
	ByProfessional map[string]string
	Default        string
}

type Policies struct {
	MinLead          time.Duration
	MaxLead          time.Duration
	CategoryPriority []string
	SlotStep         time.Duration
	MaxSlots         int
}

type WhatsAppCredentials struct {
	PhoneNumberID string
	AccessToken   string
}

// Context is the normalized, strongly-typed view of one clinic.
type Context struct {
	ID            string
	Name          string
	Location      *time.Location
	Hours         Hours
	Services      []Service
	Professionals []Professional
	Calendars     CalendarMapping
	Policies      Policies
	WhatsApp      WhatsAppCredentials
	AdminEmail    string
}

// Service looks up a service by id.
func (c *Context) Service(id string) (Service, bool) {
	for _, s := range c.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// Professional looks up a professional by id.
func (c *Context) Professional(id string) (Professional, bool) {
	for _, p := range c.Professionals {
		if p.ID == id {
			return p, true
		}
	}
	return Professional{}, false
}

// PrioritizedServices orders services by the clinic's category priority.
// Categories missing from the priority list sort last; ties keep source order.
func (c *Context) PrioritizedServices() []Service {
	rank := make(map[string]int, len(c.Policies.CategoryPriority))
	for i, cat := range c.Policies.CategoryPriority {
		key := normalizeKey(cat)
		if _, seen := rank[key]; !seen {
			rank[key] = i
		}
	}
	out := append([]Service(nil), c.Services...)
	rankOf := func(s Service) int {
		if r, ok := rank[normalizeKey(s.Category)]; ok {
			return r
		}
		return len(rank)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rankOf(out[i]) < rankOf(out[j])
	})
	return out
}

func normalizeKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
