package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/internal/booking"
	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
	"github.com/wolfman30/clinic-booking-bot/internal/events"
	"github.com/wolfman30/clinic-booking-bot/internal/flowstate"
	"github.com/wolfman30/clinic-booking-bot/internal/memory"
	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/internal/routing"
	"github.com/wolfman30/clinic-booking-bot/internal/tenancy"
	"github.com/wolfman30/clinic-booking-bot/internal/whatsapp"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

type stubRouter struct {
	clinicID string
	err      error
	hints    []routing.Hint
}

func (r *stubRouter) Resolve(_ context.Context, hint routing.Hint, _ string) (string, error) {
	r.hints = append(r.hints, hint)
	return r.clinicID, r.err
}

type stubClinics struct {
	cc  *clinic.Context
	err error
}

func (s *stubClinics) GetClinicContext(context.Context, string) (*clinic.Context, error) {
	return s.cc, s.err
}

type stubDialogue struct {
	reply *booking.Reply
	err   error
	turns []booking.Turn
	ctxs  []context.Context
}

func (d *stubDialogue) Handle(ctx context.Context, _ *clinic.Context, turn booking.Turn) (*booking.Reply, error) {
	d.turns = append(d.turns, turn)
	d.ctxs = append(d.ctxs, ctx)
	return d.reply, d.err
}

type sentText struct {
	creds whatsapp.Credentials
	to    string
	text  string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (s *recordingSender) SendText(_ context.Context, creds whatsapp.Credentials, to, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentText{creds: creds, to: to, text: text})
	if s.err != nil {
		return "", s.err
	}
	return "wamid.out", nil
}

func (s *recordingSender) messages() []sentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentText(nil), s.sent...)
}

type memoryProcessed struct {
	seen map[string]bool
	err  error
}

func (m *memoryProcessed) MarkProcessed(_ context.Context, provider, id string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	key := provider + ":" + id
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type memoryProfiles struct {
	profiles map[string]memory.Profile
	saves    int
}

func (m *memoryProfiles) Profile(_ context.Context, phone string) (*memory.Profile, error) {
	p, ok := m.profiles[phone]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memoryProfiles) SaveProfile(_ context.Context, phone string, p memory.Profile) error {
	if m.profiles == nil {
		m.profiles = map[string]memory.Profile{}
	}
	m.saves++
	m.profiles[phone] = p
	return nil
}

type countingNotifier struct{ calls int }

func (n *countingNotifier) NotifyCalendarReconnect(context.Context, *clinic.Context) error {
	n.calls++
	return nil
}

type processorHarness struct {
	router    *stubRouter
	clinics   *stubClinics
	dialogue  *stubDialogue
	sender    *recordingSender
	processed *memoryProcessed
	profiles  *memoryProfiles
	notifier  *countingNotifier
}

func newProcessorHarness() *processorHarness {
	return &processorHarness{
		router: &stubRouter{clinicID: "sol"},
		clinics: &stubClinics{cc: &clinic.Context{
			ID:       "sol",
			Name:     "Clínica Sol",
			WhatsApp: clinic.WhatsAppCredentials{PhoneNumberID: "pn-sol", AccessToken: "tok-sol"},
		}},
		dialogue:  &stubDialogue{reply: &booking.Reply{Text: "Qual serviço?", Step: flowstate.StepServiceSelection, Intent: booking.IntentBook}},
		sender:    &recordingSender{},
		processed: &memoryProcessed{},
		profiles:  &memoryProfiles{},
		notifier:  &countingNotifier{},
	}
}

func (h *processorHarness) processor(opts ...ProcessorOption) *Processor {
	base := []ProcessorOption{
		WithProcessedStore(h.processed),
		WithProfiles(h.profiles),
		WithReconnectNotifier(h.notifier),
		WithFallbackCredentials(whatsapp.Credentials{PhoneNumberID: "pn-shared", AccessToken: "tok-shared"}),
	}
	return NewProcessor(h.router, h.clinics, h.dialogue, h.sender, logging.Default(), append(base, opts...)...)
}

func inbound(id, text string) events.InboundMessageV1 {
	return events.InboundMessageV1{
		PhoneNumberID:      "pn-sol",
		DisplayPhoneNumber: "+55 11 4000-0000",
		CallerPhone:        "5511988887777",
		CallerName:         "Ana Souza",
		Text:               text,
		MessageID:          id,
		Timestamp:          time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC),
		Channel:            events.ChannelWhatsApp,
	}
}

func TestProcessorHandlesTurnAndReplies(t *testing.T) {
	h := newProcessorHarness()
	p := h.processor()

	require.NoError(t, p.Process(context.Background(), inbound("wamid.1", "agendar")))

	require.Len(t, h.dialogue.turns, 1)
	turn := h.dialogue.turns[0]
	assert.Equal(t, "5511988887777", turn.Phone)
	assert.Equal(t, "Ana Souza", turn.CallerName)
	assert.Equal(t, "agendar", turn.Text)

	clinicID, ok := tenancy.ClinicIDFromContext(h.dialogue.ctxs[0])
	assert.True(t, ok)
	assert.Equal(t, "sol", clinicID)

	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Qual serviço?", sent[0].text)
	assert.Equal(t, whatsapp.Credentials{PhoneNumberID: "pn-sol", AccessToken: "tok-sol"}, sent[0].creds)

	assert.Equal(t, "Ana Souza", h.profiles.profiles["5511988887777"].Name)
	assert.Equal(t, "book", h.profiles.profiles["5511988887777"].LastIntent)
	assert.Equal(t, routing.Hint{PhoneNumberID: "pn-sol", DisplayPhoneNumber: "+55 11 4000-0000"}, h.router.hints[0])
}

func TestProcessorSkipsDuplicateMessage(t *testing.T) {
	h := newProcessorHarness()
	p := h.processor()

	require.NoError(t, p.Process(context.Background(), inbound("wamid.1", "agendar")))
	require.NoError(t, p.Process(context.Background(), inbound("wamid.1", "agendar")))

	assert.Len(t, h.dialogue.turns, 1)
	assert.Len(t, h.sender.messages(), 1)
}

func TestProcessorDedupeFailureStopsTurn(t *testing.T) {
	h := newProcessorHarness()
	h.processed.err = errors.New("db down")
	p := h.processor()

	err := p.Process(context.Background(), inbound("wamid.1", "agendar"))
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.Empty(t, h.dialogue.turns)
}

func TestProcessorUnroutableNeverTouchesDialogue(t *testing.T) {
	h := newProcessorHarness()
	h.router.err = apperr.NotFound("routing: resolve", "no clinic")
	p := h.processor()

	require.NoError(t, p.Process(context.Background(), inbound("wamid.1", "agendar")))
	assert.Empty(t, h.dialogue.turns)

	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, apperr.UserMessage(h.router.err), sent[0].text)
	assert.Equal(t, "pn-sol", sent[0].creds.PhoneNumberID)
	assert.Equal(t, "tok-shared", sent[0].creds.AccessToken)
}

func TestProcessorClinicLoadFailureNeverTouchesDialogue(t *testing.T) {
	h := newProcessorHarness()
	h.clinics.err = apperr.Transient("clinic: load", errors.New("timeout"))
	p := h.processor()

	err := p.Process(context.Background(), inbound("wamid.1", "agendar"))
	require.Error(t, err)
	assert.Empty(t, h.dialogue.turns)
	assert.Equal(t, 0, h.profiles.saves)
}

func TestProcessorInboundRateLimit(t *testing.T) {
	h := newProcessorHarness()
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Capacity: 1, Window: time.Hour})
	require.NoError(t, err)
	t.Cleanup(limiter.Close)
	p := h.processor(WithInboundGate(ratelimit.NewGate("inbound", limiter, nil)))

	require.NoError(t, p.Process(context.Background(), inbound("wamid.1", "agendar")))
	require.NoError(t, p.Process(context.Background(), inbound("wamid.2", "1")))

	assert.Len(t, h.dialogue.turns, 1)
	sent := h.sender.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, apperr.UserMessage(apperr.RateLimited("x", "y")), sent[1].text)
}

func TestProcessorCalendarAuthNotifiesClinic(t *testing.T) {
	h := newProcessorHarness()
	h.dialogue.reply = &booking.Reply{Text: "Não consegui acessar a agenda.", Step: flowstate.StepConfirmation}
	h.dialogue.err = apperr.Auth("calendar: create", errors.New("invalid_grant"))
	p := h.processor()

	err := p.Process(context.Background(), inbound("wamid.1", "sim"))
	require.Error(t, err)
	assert.True(t, apperr.IsAuth(err))
	assert.Equal(t, 1, h.notifier.calls)

	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Não consegui acessar a agenda.", sent[0].text)
}

func TestProcessorDialogueErrorWithoutReplySendsGenericLine(t *testing.T) {
	h := newProcessorHarness()
	h.dialogue.reply = nil
	h.dialogue.err = errors.New("flowstate: persist: connection reset")
	p := h.processor()

	require.Error(t, p.Process(context.Background(), inbound("wamid.1", "1")))
	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, apperr.UserMessage(h.dialogue.err), sent[0].text)
	assert.Equal(t, 0, h.notifier.calls)
}

func TestProcessorSendFailureSurfaces(t *testing.T) {
	h := newProcessorHarness()
	h.sender.err = apperr.Auth("whatsapp: send", errors.New("401"))
	p := h.processor()

	err := p.Process(context.Background(), inbound("wamid.1", "agendar"))
	require.Error(t, err)
	assert.True(t, apperr.IsAuth(err))
	assert.Equal(t, 0, h.notifier.calls, "whatsapp auth failures are not calendar reconnects")
}

func TestProcessorUsesRememberedName(t *testing.T) {
	h := newProcessorHarness()
	h.profiles.profiles = map[string]memory.Profile{"5511988887777": {Name: "Ana", LastIntent: "book"}}
	p := h.processor()

	msg := inbound("wamid.1", "oi")
	msg.CallerName = ""
	h.dialogue.reply = &booking.Reply{Text: "Olá, Ana!", Step: flowstate.StepIdle}
	require.NoError(t, p.Process(context.Background(), msg))

	assert.Equal(t, "Ana", h.dialogue.turns[0].CallerName)
	assert.Equal(t, 0, h.profiles.saves, "unchanged profile is not rewritten")
}

func TestProcessorRejectsIncompleteMessage(t *testing.T) {
	h := newProcessorHarness()
	p := h.processor()

	msg := inbound("", "agendar")
	err := p.Process(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, h.sender.messages())
}

func TestRateLimitedSenderGates(t *testing.T) {
	destLimiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Capacity: 1, Window: time.Hour})
	require.NoError(t, err)
	t.Cleanup(destLimiter.Close)
	tenantLimiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Capacity: 2, Window: time.Hour})
	require.NoError(t, err)
	t.Cleanup(tenantLimiter.Close)

	next := &recordingSender{}
	s := NewRateLimitedSender(next, ratelimit.NewGate("outbound:dest", destLimiter, nil), ratelimit.NewGate("outbound:tenant", tenantLimiter, nil))
	ctx := tenancy.WithClinicID(context.Background(), "sol")
	creds := whatsapp.Credentials{PhoneNumberID: "pn", AccessToken: "tok"}

	_, err = s.SendText(ctx, creds, "5511900000001", "a")
	require.NoError(t, err)
	_, err = s.SendText(ctx, creds, "5511900000001", "b")
	assert.True(t, apperr.IsRateLimited(err), "second send to same destination")
	_, err = s.SendText(ctx, creds, "5511900000002", "c")
	require.NoError(t, err)
	_, err = s.SendText(ctx, creds, "5511900000003", "d")
	assert.True(t, apperr.IsRateLimited(err), "tenant bucket exhausted")

	assert.Len(t, next.messages(), 2)
}
