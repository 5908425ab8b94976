package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// AppointmentData is a confirmed booking request.
type AppointmentData struct {
	ServiceID      string
	ProfessionalID string
	Start          time.Time
	End            time.Time
	CallerName     string
	CallerPhone    string
	Notes          string
}

// Booking is the result of a created appointment.
type Booking struct {
	EventID    string
	CalendarID string
	StartTime  time.Time
}

// Service performs availability search and event creation for clinics.
type Service struct {
	connector Connector
	gate      *ratelimit.Gate
	logger    *logging.Logger
	now       func() time.Time
	maxSlots  int
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithRateLimit admits each provider session through gate, keyed by clinic.
func WithRateLimit(gate *ratelimit.Gate) ServiceOption {
	return func(s *Service) { s.gate = gate }
}

// WithMaxSlots caps slots returned when the clinic sets no limit.
func WithMaxSlots(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxSlots = n
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(connector Connector, logger *logging.Logger, opts ...ServiceOption) *Service {
	if connector == nil {
		panic("calendar: connector required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{connector: connector, logger: logger, now: time.Now, maxSlots: 5}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) open(ctx context.Context, clinicID string) (Provider, error) {
	if s.gate != nil {
		if err := s.gate.Admit(ctx, clinicID); err != nil {
			return nil, err
		}
	}
	return s.connector.Open(ctx, clinicID)
}

// GetAvailableSlots returns the first free slots for svc over the next
// daysAhead days. No availability is an empty result, not an error.
func (s *Service) GetAvailableSlots(ctx context.Context, clinicID string, cc *clinic.Context, svc clinic.Service, daysAhead int) ([]Slot, error) {
	return s.GetAvailableSlotsFor(ctx, clinicID, cc, svc, "", daysAhead)
}

// GetAvailableSlotsFor is GetAvailableSlots with an optional professional.
func (s *Service) GetAvailableSlotsFor(ctx context.Context, clinicID string, cc *clinic.Context, svc clinic.Service, professionalID string, daysAhead int) ([]Slot, error) {
	if daysAhead <= 0 {
		daysAhead = 1
	}
	calendarID := ResolveCalendarID(cc, Selection{ServiceID: svc.ID, ProfessionalID: professionalID})
	now := s.now()
	until := now.Add(time.Duration(daysAhead) * 24 * time.Hour)
	if cc.Policies.MaxLead > 0 && now.Add(cc.Policies.MaxLead).Before(until) {
		until = now.Add(cc.Policies.MaxLead)
	}

	provider, err := s.open(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("calendar: open %s: %w", clinicID, err)
	}
	busy, err := provider.BusyIntervals(ctx, calendarID, now, until)
	if err != nil {
		return nil, fmt.Errorf("calendar: busy intervals %s: %w", calendarID, err)
	}

	limit := s.maxSlots
	if cc.Policies.MaxSlots > 0 {
		limit = cc.Policies.MaxSlots
	}
	slots := ComputeSlots(SlotQuery{
		Now:        now,
		Until:      until,
		Location:   cc.Location,
		Hours:      cc.Hours,
		Busy:       busy,
		Duration:   svc.Duration,
		Step:       cc.Policies.SlotStep,
		MinLead:    cc.Policies.MinLead,
		Limit:      limit,
		CalendarID: calendarID,
	})
	s.logger.Debug("computed slots",
		"clinic_id", clinicID,
		"calendar_id", calendarID,
		"service_id", svc.ID,
		"busy", len(busy),
		"slots", len(slots),
	)
	return slots, nil
}

// CreateAppointment resolves the calendar again and creates the event. It
// does not deduplicate; retries are made safe by the HTTP layer.
func (s *Service) CreateAppointment(ctx context.Context, clinicID string, appt AppointmentData, cc *clinic.Context) (*Booking, error) {
	svc, ok := cc.Service(appt.ServiceID)
	if !ok {
		return nil, fmt.Errorf("calendar: unknown service %q for clinic %s", appt.ServiceID, clinicID)
	}
	if appt.End.IsZero() {
		appt.End = appt.Start.Add(svc.Duration)
	}
	calendarID := ResolveCalendarID(cc, Selection{ServiceID: appt.ServiceID, ProfessionalID: appt.ProfessionalID})

	provider, err := s.open(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("calendar: open %s: %w", clinicID, err)
	}
	tz := "UTC"
	if cc.Location != nil {
		tz = cc.Location.String()
	}
	eventID, err := provider.CreateEvent(ctx, calendarID, Event{
		Summary:     eventSummary(svc.Name, appt.CallerName),
		Description: eventDescription(appt),
		Start:       appt.Start,
		End:         appt.End,
		TimeZone:    tz,
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: create event on %s: %w", calendarID, err)
	}
	s.logger.Info("appointment created",
		"clinic_id", clinicID,
		"calendar_id", calendarID,
		"event_id", eventID,
		"start", appt.Start,
	)
	return &Booking{EventID: eventID, CalendarID: calendarID, StartTime: appt.Start}, nil
}

func eventSummary(service, caller string) string {
	if caller == "" {
		return service
	}
	return service + " - " + caller
}

func eventDescription(appt AppointmentData) string {
	var b strings.Builder
	b.WriteString("Agendado via WhatsApp\n")
	if appt.CallerName != "" {
		b.WriteString("Paciente: " + appt.CallerName + "\n")
	}
	if appt.CallerPhone != "" {
		b.WriteString("Telefone: " + appt.CallerPhone + "\n")
	}
	if appt.Notes != "" {
		b.WriteString("Observações: " + appt.Notes + "\n")
	}
	return strings.TrimSpace(b.String())
}
