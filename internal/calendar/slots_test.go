package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
)

func mondayMorningHours() clinic.Hours {
	return clinic.Hours{Days: map[time.Weekday]clinic.DayHours{
		time.Monday: {Open: 9 * 60, Close: 12 * 60},
	}}
}

func TestResolveCalendarIDPrecedence(t *testing.T) {
	cc := &clinic.Context{Calendars: clinic.CalendarMapping{
		ByService:      map[string]string{"botox": "cal_B"},
		ByProfessional: map[string]string{"dra_ana": "cal_A"},
		Default:        "cal_default",
	}}

	tests := []struct {
		name string
		sel  Selection
		want string
	}{
		{"professional wins", Selection{ServiceID: "botox", ProfessionalID: "dra_ana"}, "cal_A"},
		{"service mapping", Selection{ServiceID: "botox"}, "cal_B"},
		{"unknown professional falls through", Selection{ServiceID: "botox", ProfessionalID: "dr_x"}, "cal_B"},
		{"default", Selection{ServiceID: "limpeza"}, "cal_default"},
		{"empty selection", Selection{}, "cal_default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCalendarID(cc, tt.sel))
		})
	}
}

func TestResolveCalendarIDAlwaysReturnsCalendar(t *testing.T) {
	assert.Equal(t, clinic.DefaultCalendarID, ResolveCalendarID(nil, Selection{ServiceID: "x"}))
	assert.Equal(t, clinic.DefaultCalendarID, ResolveCalendarID(&clinic.Context{}, Selection{ProfessionalID: "p"}))

	cc := &clinic.Context{Calendars: clinic.CalendarMapping{ByService: map[string]string{"botox": ""}}}
	assert.Equal(t, clinic.DefaultCalendarID, ResolveCalendarID(cc, Selection{ServiceID: "botox"}))
}

func TestComputeSlotsHonoursLeadBusyAndHours(t *testing.T) {
	now := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC) // Monday
	slots := ComputeSlots(SlotQuery{
		Now:        now,
		Until:      now.Add(48 * time.Hour),
		Location:   time.UTC,
		Hours:      mondayMorningHours(),
		Busy:       []Interval{{Start: now.Add(150 * time.Minute), End: now.Add(180 * time.Minute)}},
		Duration:   time.Hour,
		Step:       30 * time.Minute,
		MinLead:    2 * time.Hour,
		CalendarID: "cal_A",
	})

	require.Len(t, slots, 1)
	assert.Equal(t, time.Date(2026, 10, 12, 11, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, time.Date(2026, 10, 12, 12, 0, 0, 0, time.UTC), slots[0].End)
	assert.Equal(t, "cal_A", slots[0].CalendarID)
	assert.Equal(t, time.Hour, slots[0].Duration)
}

func TestComputeSlotsLimitAndOrder(t *testing.T) {
	now := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	slots := ComputeSlots(SlotQuery{
		Now:      now,
		Until:    now.Add(72 * time.Hour),
		Hours:    clinic.Hours{AlwaysOpen: true},
		Duration: 30 * time.Minute,
		Step:     30 * time.Minute,
		Limit:    5,
	})

	require.Len(t, slots, 5)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i].Start.After(slots[i-1].Start))
	}
	assert.Equal(t, now, slots[0].Start)
}

func TestComputeSlotsNeverOverlapsBusy(t *testing.T) {
	now := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	busy := []Interval{
		{Start: now.Add(10 * time.Hour), End: now.Add(11 * time.Hour)},
		{Start: now.Add(9 * time.Hour), End: now.Add(9*time.Hour + 15*time.Minute)},
	}
	slots := ComputeSlots(SlotQuery{
		Now:      now,
		Until:    now.Add(24 * time.Hour),
		Hours:    mondayMorningHours(),
		Busy:     busy,
		Duration: 30 * time.Minute,
		Step:     15 * time.Minute,
	})

	require.NotEmpty(t, slots)
	for _, s := range slots {
		for _, b := range busy {
			assert.False(t, b.overlaps(s.Start, s.End), "slot %s overlaps busy %s", s.Start, b.Start)
		}
		assert.True(t, mondayMorningHours().IsOpenAt(s.Start))
	}
}

func TestComputeSlotsClosedOrEmptyWindow(t *testing.T) {
	now := time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC) // Tuesday
	assert.Empty(t, ComputeSlots(SlotQuery{
		Now: now, Until: now.Add(12 * time.Hour), Hours: mondayMorningHours(), Duration: time.Hour,
	}))
	assert.Empty(t, ComputeSlots(SlotQuery{
		Now: now, Until: now, Hours: clinic.Hours{AlwaysOpen: true}, Duration: time.Hour,
	}))
}

func TestComputeSlotsUsesClinicLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	now := time.Date(2026, 10, 12, 11, 0, 0, 0, time.UTC) // 08:00 local
	slots := ComputeSlots(SlotQuery{
		Now:      now,
		Until:    now.Add(6 * time.Hour),
		Location: loc,
		Hours:    mondayMorningHours(),
		Duration: time.Hour,
		Limit:    1,
	})

	require.Len(t, slots, 1)
	assert.Equal(t, 9, slots[0].Start.Hour())
	assert.Equal(t, loc, slots[0].Start.Location())
}

func TestComputeSlotsKeepsWallClockHoursAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	hours := clinic.Hours{Days: map[time.Weekday]clinic.DayHours{
		time.Sunday: {Open: 9 * 60, Close: 12 * 60},
	}}

	// 2026-03-08 springs forward; 2026-11-01 falls back.
	for _, day := range []time.Time{
		time.Date(2026, 3, 8, 0, 0, 0, 0, ny),
		time.Date(2026, 11, 1, 0, 0, 0, 0, ny),
	} {
		slots := ComputeSlots(SlotQuery{
			Now:      day,
			Until:    day.Add(20 * time.Hour),
			Location: ny,
			Hours:    hours,
			Duration: time.Hour,
		})
		require.Len(t, slots, 3, day.Format("2006-01-02"))
		var got []string
		for _, s := range slots {
			got = append(got, s.Start.In(ny).Format("15:04")+"-"+s.End.In(ny).Format("15:04"))
		}
		assert.Equal(t, []string{"09:00-10:00", "10:00-11:00", "11:00-12:00"}, got, day.Format("2006-01-02"))
	}
}

func TestComputeSlotsAlwaysOpenCrossesMidnight(t *testing.T) {
	now := time.Date(2026, 10, 12, 23, 0, 0, 0, time.UTC)
	slots := ComputeSlots(SlotQuery{
		Now:      now,
		Until:    now.Add(3 * time.Hour),
		Location: time.UTC,
		Hours:    clinic.Hours{AlwaysOpen: true},
		Duration: time.Hour,
		Step:     30 * time.Minute,
		Limit:    3,
	})
	require.Len(t, slots, 3)
	assert.Equal(t, now, slots[0].Start)
	assert.Equal(t, now.Add(30*time.Minute), slots[1].Start)
	assert.Equal(t, time.Date(2026, 10, 13, 0, 30, 0, 0, time.UTC), slots[1].End)
	assert.Equal(t, time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), slots[2].Start)
}
