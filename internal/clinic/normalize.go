package clinic

import (
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

const (
	defaultServiceDuration = 30 * time.Minute
	defaultSlotStep        = 30 * time.Minute
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday, "domingo": time.Sunday, "dom": time.Sunday,
	"monday": time.Monday, "mon": time.Monday, "segunda": time.Monday, "seg": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "terca": time.Tuesday, "terça": time.Tuesday, "ter": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday, "quarta": time.Wednesday, "qua": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "quinta": time.Thursday, "qui": time.Thursday,
	"friday": time.Friday, "fri": time.Friday, "sexta": time.Friday, "sex": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday, "sabado": time.Saturday, "sábado": time.Saturday, "sab": time.Saturday,
}

func parseWeekday(name string) (time.Weekday, bool) {
	key := normalizeKey(name)
	key = strings.TrimSuffix(key, "-feira")
	day, ok := weekdayNames[key]
	return day, ok
}

// Normalize validates doc and builds a Context. Entries that cannot be
// interpreted are logged and dropped; only a missing clinic id is fatal.
func Normalize(doc *Document, logger *logging.Logger) (*Context, error) {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return nil, apperr.Validation("clinic: normalize", "clinic document has no id")
	}
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.WithClinic(doc.ID)

	loc := time.UTC
	if tz := strings.TrimSpace(doc.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("clinic timezone invalid, using UTC", "timezone", tz, "error", err)
		}
	}

	ctx := &Context{
		ID:         doc.ID,
		Name:       strings.TrimSpace(doc.Name),
		Location:   loc,
		Hours:      normalizeHours(doc, log),
		WhatsApp:   WhatsAppCredentials{PhoneNumberID: doc.WhatsApp.PhoneNumberID, AccessToken: doc.WhatsApp.AccessToken},
		AdminEmail: strings.TrimSpace(doc.AdminEmail),
	}
	if ctx.Name == "" {
		ctx.Name = doc.ID
	}
	ctx.Services = normalizeServices(doc.Services, log)
	ctx.Professionals = normalizeProfessionals(doc.Professionals, log)
	ctx.Calendars = normalizeCalendars(doc, log)
	ctx.Policies = normalizePolicies(doc.Policies)
	return ctx, nil
}

func normalizeHours(doc *Document, log *logging.Logger) Hours {
	// The emergency flag wins over any weekday configuration.
	if doc.Emergency24h || doc.AlwaysOpen {
		return Hours{AlwaysOpen: true}
	}
	hours := Hours{Days: make(map[time.Weekday]DayHours)}
	for name, raw := range doc.BusinessHours {
		day, ok := parseWeekday(name)
		if !ok {
			log.Warn("business hours weekday not recognized, dropping", "weekday", name)
			continue
		}
		if raw.Closed {
			continue
		}
		open, err := ParseTimeOfDay(raw.Open)
		if err != nil {
			log.Warn("business hours open time invalid, dropping", "weekday", name, "error", err)
			continue
		}
		closing, err := ParseTimeOfDay(raw.Close)
		if err != nil {
			log.Warn("business hours close time invalid, dropping", "weekday", name, "error", err)
			continue
		}
		if closing <= open {
			log.Warn("business hours close before open, dropping", "weekday", name, "open", raw.Open, "close", raw.Close)
			continue
		}
		hours.Days[day] = DayHours{Open: open, Close: closing}
	}
	return hours
}

func normalizeServices(raw []DocumentService, log *logging.Logger) []Service {
	out := make([]Service, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, s := range raw {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			log.Warn("service without id, dropping", "name", s.Name)
			continue
		}
		if seen[id] {
			log.Warn("duplicate service id, keeping first", "service_id", id)
			continue
		}
		if s.DurationMinutes < 0 {
			log.Warn("service duration negative, dropping", "service_id", id, "duration_minutes", s.DurationMinutes)
			continue
		}
		duration := time.Duration(s.DurationMinutes) * time.Minute
		if duration == 0 {
			duration = defaultServiceDuration
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = id
		}
		seen[id] = true
		out = append(out, Service{ID: id, Name: name, Duration: duration, Category: normalizeKey(s.Category)})
	}
	return out
}

func normalizeProfessionals(raw []DocumentProfessional, log *logging.Logger) []Professional {
	out := make([]Professional, 0, len(raw))
	for _, p := range raw {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			log.Warn("professional without id, dropping", "name", p.Name)
			continue
		}
		out = append(out, Professional{ID: id, Name: strings.TrimSpace(p.Name)})
	}
	return out
}

func normalizeCalendars(doc *Document, log *logging.Logger) CalendarMapping {
	m := CalendarMapping{
		ByService:      make(map[string]string),
		ByProfessional: make(map[string]string),
		Default:        strings.TrimSpace(doc.DefaultCalendarID),
	}
	if m.Default == "" {
		m.Default = DefaultCalendarID
	}
	add := func(level, key, calendarID string) {
		key = strings.TrimSpace(key)
		calendarID = strings.TrimSpace(calendarID)
		if key == "" || calendarID == "" {
			log.Warn("calendar mapping incomplete, dropping", "level", level, "key", key)
			return
		}
		switch normalizeKey(level) {
		case LevelService:
			m.ByService[key] = calendarID
		case LevelProfessional:
			m.ByProfessional[key] = calendarID
		default:
			log.Warn("calendar mapping level not recognized, dropping", "level", level, "key", key)
		}
	}
	for key, cal := range doc.CalendarsByService {
		add(LevelService, key, cal)
	}
	for key, cal := range doc.CalendarsByProfessional {
		add(LevelProfessional, key, cal)
	}
	// Explicit entries are applied last so they override the legacy maps.
	for _, entry := range doc.CalendarMappings {
		add(entry.Level, entry.Key, entry.CalendarID)
	}
	return m
}

func normalizePolicies(raw DocumentPolicies) Policies {
	p := Policies{
		MinLead:  time.Duration(raw.MinLeadHours * float64(time.Hour)),
		MaxLead:  time.Duration(raw.MaxLeadDays) * 24 * time.Hour,
		SlotStep: time.Duration(raw.SlotStepMinutes) * time.Minute,
		MaxSlots: raw.MaxSlots,
	}
	if p.MinLead < 0 {
		p.MinLead = 0
	}
	if p.MaxLead < 0 {
		p.MaxLead = 0
	}
	if p.SlotStep <= 0 {
		p.SlotStep = defaultSlotStep
	}
	if p.MaxSlots < 0 {
		p.MaxSlots = 0
	}
	for _, cat := range raw.CategoryPriority {
		if c := normalizeKey(cat); c != "" {
			p.CategoryPriority = append(p.CategoryPriority, c)
		}
	}
	return p
}
