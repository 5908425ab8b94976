// Package booking runs the appointment dialogue: service choice, slot choice,
// confirmation and event creation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/internal/calendar"
	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
	"github.com/wolfman30/clinic-booking-bot/internal/flowstate"
	"github.com/wolfman30/clinic-booking-bot/internal/memory"
	"github.com/wolfman30/clinic-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

var tracer = otel.Tracer("clinic-booking-bot/internal/booking")

// Calendar is the slice of calendar.Service the dialogue needs.
type Calendar interface {
	GetAvailableSlotsFor(ctx context.Context, clinicID string, cc *clinic.Context, svc clinic.Service, professionalID string, daysAhead int) ([]calendar.Slot, error)
	CreateAppointment(ctx context.Context, clinicID string, appt calendar.AppointmentData, cc *clinic.Context) (*calendar.Booking, error)
}

// History records handled turns.
type History interface {
	Append(ctx context.Context, phone string, entry memory.Entry) error
}

// Turn is one inbound message already attributed to a clinic.
type Turn struct {
	Phone      string
	CallerName string
	Text       string
	MessageID  string
	At         time.Time
}

// Reply is what to send back. Step is where the dialogue ended up.
type Reply struct {
	Text    string
	Step    flowstate.Step
	Intent  Intent
	Booking *calendar.Booking
}

// Manager is safe for concurrent use; all per-caller state lives in the
// flow store.
type Manager struct {
	flows      flowstate.Store
	calendar   Calendar
	history    History
	classifier IntentClassifier
	metrics    *metrics.BookingMetrics
	logger     *logging.Logger
	now        func() time.Time
	daysAhead  int
	timeFormat string
}

// Option customizes a Manager.
type Option func(*Manager)

func WithClassifier(c IntentClassifier) Option {
	return func(m *Manager) {
		if c != nil {
			m.classifier = c
		}
	}
}

func WithMetrics(bm *metrics.BookingMetrics) Option {
	return func(m *Manager) { m.metrics = bm }
}

// WithDaysAhead sets the availability horizon offered to callers.
func WithDaysAhead(days int) Option {
	return func(m *Manager) {
		if days > 0 {
			m.daysAhead = days
		}
	}
}

// WithTimeFormat sets the Go layout used to render slots after the weekday.
func WithTimeFormat(layout string) Option {
	return func(m *Manager) {
		if layout != "" {
			m.timeFormat = layout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(flows flowstate.Store, cal Calendar, history History, logger *logging.Logger, opts ...Option) *Manager {
	if flows == nil {
		panic("booking: flow store required")
	}
	if cal == nil {
		panic("booking: calendar required")
	}
	if history == nil {
		panic("booking: history required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		flows:      flows,
		calendar:   cal,
		history:    history,
		classifier: KeywordClassifier{},
		logger:     logger,
		now:        time.Now,
		daysAhead:  7,
		timeFormat: "02/01 15:04",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// outcome is the result of one step handler. A nil next with clear unset
// leaves the stored state untouched.
type outcome struct {
	reply   string
	next    *flowstate.State
	clear   bool
	step    flowstate.Step
	intent  Intent
	booking *calendar.Booking
	err     error
}

type turnInput struct {
	cc    *clinic.Context
	state *flowstate.State
	turn  Turn
}

// Handle advances the caller's dialogue by one turn. It reads and writes the
// flow state at most once each, calls the calendar at most once and appends
// one history entry. When the calendar fails the reply explains the failure
// and the classified error is returned alongside it.
func (m *Manager) Handle(ctx context.Context, cc *clinic.Context, turn Turn) (*Reply, error) {
	if cc == nil || cc.ID == "" {
		return nil, errors.New("booking: clinic context required")
	}
	ctx, span := tracer.Start(ctx, "booking.Handle", trace.WithAttributes(
		attribute.String("clinic_id", cc.ID),
	))
	defer span.End()

	log := m.logger.WithClinic(cc.ID).WithCaller(turn.Phone)
	key := flowstate.Key{ClinicID: cc.ID, Phone: turn.Phone}

	current, err := m.flows.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: load flow state: %w", err)
	}
	if current == nil || !current.Step.Valid() {
		if current != nil {
			log.Warn("unknown flow step, restarting dialogue", "step", current.Step)
		}
		current = m.idleState(cc.ID, turn.Phone)
	}

	in := turnInput{cc: cc, state: current, turn: turn}
	var out outcome
	switch {
	case current.Step != flowstate.StepIdle && current.Step != flowstate.StepCompleted && isAbandon(turn.Text):
		out = outcome{reply: msgAbandoned, clear: true, step: flowstate.StepIdle}
	case current.Step == flowstate.StepServiceSelection:
		out = m.selectService(ctx, in)
	case current.Step == flowstate.StepDateTimeSelection:
		out = m.selectSlot(ctx, in)
	case current.Step == flowstate.StepConfirmation:
		out = m.confirm(ctx, in)
	default:
		out = m.start(ctx, in)
	}
	if out.step == "" {
		out.step = current.Step
		if out.next != nil {
			out.step = out.next.Step
		}
	}
	span.SetAttributes(
		attribute.String("step.from", string(current.Step)),
		attribute.String("step.to", string(out.step)),
	)

	if err := m.commit(ctx, key, current.Step, out); err != nil {
		span.RecordError(err)
		log.Error("failed to persist flow state", "step", out.step, "error", err)
		if out.booking == nil {
			return nil, err
		}
		// The event exists; still tell the caller.
		out.err = errors.Join(out.err, err)
	}
	if out.step != current.Step {
		m.metrics.ObserveTransition(string(current.Step), string(out.step))
		log.Info("booking step changed", "from", current.Step, "to", out.step)
	}

	if err := m.history.Append(ctx, turn.Phone, memory.Entry{
		ClinicID:  cc.ID,
		MessageID: turn.MessageID,
		Inbound:   turn.Text,
		Reply:     out.reply,
		Step:      string(out.step),
		At:        m.turnTime(turn),
	}); err != nil {
		log.Warn("failed to append conversation history", "error", err)
	}

	if out.err != nil {
		span.RecordError(out.err)
	}
	return &Reply{Text: out.reply, Step: out.step, Intent: out.intent, Booking: out.booking}, out.err
}

func (m *Manager) commit(ctx context.Context, key flowstate.Key, from flowstate.Step, out outcome) error {
	if out.clear {
		if err := m.flows.Clear(ctx, key); err != nil {
			return fmt.Errorf("booking: clear flow state: %w", err)
		}
		return nil
	}
	if out.next == nil {
		return nil
	}
	if !flowstate.CanTransition(from, out.next.Step) {
		return fmt.Errorf("booking: illegal transition %s -> %s", from, out.next.Step)
	}
	out.next.UpdatedAt = m.now()
	if err := m.flows.Set(ctx, key, out.next); err != nil {
		return fmt.Errorf("booking: save flow state: %w", err)
	}
	return nil
}

func (m *Manager) idleState(clinicID, phone string) *flowstate.State {
	return &flowstate.State{ClinicID: clinicID, Phone: phone, Step: flowstate.StepIdle}
}

func (m *Manager) turnTime(turn Turn) time.Time {
	if turn.At.IsZero() {
		return m.now()
	}
	return turn.At
}

func (m *Manager) start(ctx context.Context, in turnInput) outcome {
	intent := m.classifier.Classify(ctx, in.turn.Text)
	if intent != IntentBook {
		return outcome{reply: greeting(in.cc, in.turn.CallerName), intent: intent, step: flowstate.StepIdle}
	}
	services := in.cc.PrioritizedServices()
	if len(services) == 0 {
		return outcome{reply: msgNoServices, intent: intent, step: flowstate.StepIdle}
	}
	next := m.idleState(in.cc.ID, in.turn.Phone)
	next.Step = flowstate.StepServiceSelection
	return outcome{reply: serviceMenu(services), next: next, intent: intent}
}

func (m *Manager) selectService(ctx context.Context, in turnInput) outcome {
	services := in.cc.PrioritizedServices()
	if len(services) == 0 {
		return outcome{reply: msgNoServices, clear: true, step: flowstate.StepIdle}
	}
	svc, ok := chooseService(services, in.turn.Text)
	if !ok {
		return outcome{reply: msgInvalidChoice + " " + serviceMenu(services)}
	}

	slots, err := m.calendar.GetAvailableSlotsFor(ctx, in.cc.ID, in.cc, svc, in.state.Data.ProfessionalID, m.daysAhead)
	if err != nil {
		return outcome{reply: apperr.UserMessage(err), err: err}
	}
	if len(slots) == 0 {
		return outcome{reply: m.noSlots(svc.Name) + "\n\n" + serviceMenu(services)}
	}

	next := in.state.Clone()
	next.Step = flowstate.StepDateTimeSelection
	next.Data.ServiceID = svc.ID
	next.Data.ServiceName = svc.Name
	next.Data.ServiceMinutes = int(svc.Duration / time.Minute)
	next.Data.OfferedSlots = toChoices(slots)
	next.Data.Slot = nil
	return outcome{reply: m.slotMenu(svc.Name, next.Data.OfferedSlots, in.cc.Location), next: next}
}

func (m *Manager) selectSlot(ctx context.Context, in turnInput) outcome {
	data := in.state.Data
	svc, ok := in.cc.Service(data.ServiceID)
	if !ok {
		return outcome{
			reply: "O serviço escolhido não está mais disponível. Envie *agendar* para ver as opções atuais.",
			clear: true,
			step:  flowstate.StepIdle,
		}
	}
	n, ok := parseChoice(in.turn.Text)
	if !ok || n < 1 || n > len(data.OfferedSlots) {
		return outcome{reply: msgInvalidChoice + " " + m.slotMenu(svc.Name, data.OfferedSlots, in.cc.Location)}
	}
	chosen := data.OfferedSlots[n-1]

	// Offered slots may be stale; only a slot still free now can be held.
	slots, err := m.calendar.GetAvailableSlotsFor(ctx, in.cc.ID, in.cc, svc, data.ProfessionalID, m.daysAhead)
	if err != nil {
		return outcome{reply: apperr.UserMessage(err), err: err}
	}
	fresh := toChoices(slots)
	match, found := findSlot(fresh, chosen)
	if !found {
		if len(fresh) == 0 {
			return outcome{
				reply: fmt.Sprintf("Os horários para %s se esgotaram. Envie *agendar* para recomeçar.", svc.Name),
				clear: true,
				step:  flowstate.StepIdle,
			}
		}
		next := in.state.Clone()
		next.Data.OfferedSlots = fresh
		return outcome{
			reply: "Esse horário não está mais disponível. " + m.slotMenu(svc.Name, fresh, in.cc.Location),
			next:  next,
		}
	}

	next := in.state.Clone()
	next.Step = flowstate.StepConfirmation
	next.Data.ServiceName = svc.Name
	next.Data.Slot = &match
	return outcome{reply: m.confirmPrompt(next.Data, in.turn.CallerName, in.cc.Location), next: next}
}

func (m *Manager) confirm(ctx context.Context, in turnInput) outcome {
	data := in.state.Data
	if note, ok := parseNote(in.turn.Text); ok && data.Slot != nil {
		next := in.state.Clone()
		next.Data.Notes = note
		return outcome{reply: "Observação registrada. " + m.confirmPrompt(next.Data, in.turn.CallerName, in.cc.Location), next: next}
	}
	switch {
	case isNegative(in.turn.Text):
		return outcome{reply: msgDiscarded, clear: true, step: flowstate.StepIdle}
	case !isAffirmative(in.turn.Text):
		return outcome{reply: msgAskConfirm}
	}
	if data.Slot == nil {
		return outcome{reply: msgAbandoned, clear: true, step: flowstate.StepIdle}
	}
	if _, ok := in.cc.Service(data.ServiceID); !ok {
		return outcome{
			reply: "O serviço escolhido não está mais disponível. Envie *agendar* para ver as opções atuais.",
			clear: true,
			step:  flowstate.StepIdle,
		}
	}

	booking, err := m.calendar.CreateAppointment(ctx, in.cc.ID, calendar.AppointmentData{
		ServiceID:      data.ServiceID,
		ProfessionalID: data.ProfessionalID,
		Start:          data.Slot.Start,
		End:            data.Slot.End,
		CallerName:     in.turn.CallerName,
		CallerPhone:    in.turn.Phone,
		Notes:          data.Notes,
	}, in.cc)
	if err != nil {
		return outcome{reply: apperr.UserMessage(err) + " " + msgKeptSelection, err: err}
	}
	return outcome{
		reply:   m.confirmed(data, in.cc.Location),
		clear:   true,
		step:    flowstate.StepCompleted,
		booking: booking,
	}
}

func chooseService(services []clinic.Service, text string) (clinic.Service, bool) {
	if n, ok := parseChoice(text); ok {
		if n < 1 || n > len(services) {
			return clinic.Service{}, false
		}
		return services[n-1], true
	}
	folded := fold(text)
	for _, s := range services {
		if folded != "" && fold(s.Name) == folded {
			return s, true
		}
	}
	return clinic.Service{}, false
}

func toChoices(slots []calendar.Slot) []flowstate.SlotChoice {
	out := make([]flowstate.SlotChoice, 0, len(slots))
	for _, s := range slots {
		out = append(out, flowstate.SlotChoice{Start: s.Start, End: s.End, CalendarID: s.CalendarID})
	}
	return out
}

func findSlot(slots []flowstate.SlotChoice, want flowstate.SlotChoice) (flowstate.SlotChoice, bool) {
	for _, s := range slots {
		if s.Start.Equal(want.Start) && s.End.Equal(want.End) {
			return s, true
		}
	}
	return flowstate.SlotChoice{}, false
}

// parseNote accepts "obs: ..." to attach free text to the booking.
func parseNote(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", false
	}
	switch fold(trimmed[:idx]) {
	case "obs", "observacao", "nota":
		note := strings.TrimSpace(trimmed[idx+1:])
		return note, note != ""
	}
	return "", false
}
