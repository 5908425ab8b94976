package calendar

import (
	"sort"
	"time"

	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
)

// SlotQuery describes one availability computation.
type SlotQuery struct {
	Now        time.Time
	Until      time.Time
	Location   *time.Location
	Hours      clinic.Hours
	Busy       []Interval
	Duration   time.Duration
	Step       time.Duration
	MinLead    time.Duration
	Limit      int
	CalendarID string
}

// ComputeSlots returns chronological free slots of q.Duration that fit inside
// business hours, start no earlier than Now+MinLead, end by Until and overlap
// no busy interval. Starts are aligned to Step from each day's opening time.
// Hours are wall-clock, so DST days keep their local opening times.
func ComputeSlots(q SlotQuery) []Slot {
	if q.Duration <= 0 || !q.Until.After(q.Now) {
		return nil
	}
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	step := q.Step
	if step <= 0 {
		step = q.Duration
	}
	busy := append([]Interval(nil), q.Busy...)
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })

	earliest := q.Now.Add(q.MinLead)
	now := q.Now.In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	var out []Slot
	for !day.After(q.Until) {
		if dh, ok := q.Hours.For(day.Weekday()); ok {
			open := dh.Open.On(day)
			closing := dh.Close.On(day)
			for start := open; fits(q.Hours, start, q.Duration, closing); start = start.Add(step) {
				end := start.Add(q.Duration)
				if start.Before(earliest) {
					continue
				}
				if end.After(q.Until) {
					break
				}
				if overlapsAny(busy, start, end) {
					continue
				}
				out = append(out, Slot{Start: start, End: end, CalendarID: q.CalendarID, Duration: q.Duration})
				if q.Limit > 0 && len(out) >= q.Limit {
					return out
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// fits reports whether a slot starting at start belongs to the day window
// ending at closing. Always-open clinics only bound the start, so a late slot
// can cross into the next day.
func fits(h clinic.Hours, start time.Time, d time.Duration, closing time.Time) bool {
	if h.AlwaysOpen {
		return start.Before(closing)
	}
	return !start.Add(d).After(closing)
}

func overlapsAny(busy []Interval, start, end time.Time) bool {
	for _, b := range busy {
		if !b.Start.Before(end) {
			return false
		}
		if b.overlaps(start, end) {
			return true
		}
	}
	return false
}
