package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/internal/booking"
	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
	"github.com/wolfman30/clinic-booking-bot/internal/events"
	"github.com/wolfman30/clinic-booking-bot/internal/memory"
	"github.com/wolfman30/clinic-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-bot/internal/ratelimit"
	"github.com/wolfman30/clinic-booking-bot/internal/routing"
	"github.com/wolfman30/clinic-booking-bot/internal/tenancy"
	"github.com/wolfman30/clinic-booking-bot/internal/whatsapp"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

var tracer = otel.Tracer("clinic-booking-bot/internal/conversation")

const processedProvider = "whatsapp"

// Turn outcomes recorded on clinicbot_booking_turns_total.
const (
	outcomeOK          = "ok"
	outcomeDuplicate   = "duplicate"
	outcomeUnroutable  = "unroutable"
	outcomeRateLimited = "rate_limited"
	outcomeFailed      = "failed"
	outcomeSendFailed  = "send_failed"
)

// Router attributes a message to a clinic.
type Router interface {
	Resolve(ctx context.Context, hint routing.Hint, callerPhone string) (string, error)
}

// ContextLoader supplies the normalized clinic context.
type ContextLoader interface {
	GetClinicContext(ctx context.Context, clinicID string) (*clinic.Context, error)
}

// Dialogue advances the booking conversation by one turn.
type Dialogue interface {
	Handle(ctx context.Context, cc *clinic.Context, turn booking.Turn) (*booking.Reply, error)
}

// ProcessedStore claims message ids so redelivered webhooks run once.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, provider, messageID string) (bool, error)
}

// Profiles is the caller profile half of conversation memory.
type Profiles interface {
	Profile(ctx context.Context, phone string) (*memory.Profile, error)
	SaveProfile(ctx context.Context, phone string, profile memory.Profile) error
}

// ReconnectNotifier asks clinic staff to reauthorize the calendar.
type ReconnectNotifier interface {
	NotifyCalendarReconnect(ctx context.Context, cc *clinic.Context) error
}

// Processor runs one inbound message through the full turn pipeline.
type Processor struct {
	router    Router
	clinics   ContextLoader
	dialogue  Dialogue
	sender    TextSender
	processed ProcessedStore
	profiles  Profiles
	inbound   *ratelimit.Gate
	reconnect ReconnectNotifier
	fallback  whatsapp.Credentials
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithProcessedStore enables message-id deduplication.
func WithProcessedStore(store ProcessedStore) ProcessorOption {
	return func(p *Processor) { p.processed = store }
}

// WithProfiles enables caller name recall and profile updates.
func WithProfiles(profiles Profiles) ProcessorOption {
	return func(p *Processor) { p.profiles = profiles }
}

// WithInboundGate admits each inbound message per caller phone.
func WithInboundGate(gate *ratelimit.Gate) ProcessorOption {
	return func(p *Processor) { p.inbound = gate }
}

func WithReconnectNotifier(n ReconnectNotifier) ProcessorOption {
	return func(p *Processor) { p.reconnect = n }
}

// WithFallbackCredentials sets the credentials used to answer messages that
// cannot be attributed to a clinic, and for clinics without their own token.
func WithFallbackCredentials(creds whatsapp.Credentials) ProcessorOption {
	return func(p *Processor) { p.fallback = creds }
}

func WithProcessorMetrics(bm *metrics.BookingMetrics) ProcessorOption {
	return func(p *Processor) { p.metrics = bm }
}

func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProcessor(router Router, clinics ContextLoader, dialogue Dialogue, sender TextSender, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	if router == nil {
		panic("conversation: router cannot be nil")
	}
	if clinics == nil {
		panic("conversation: clinic loader cannot be nil")
	}
	if dialogue == nil {
		panic("conversation: dialogue cannot be nil")
	}
	if sender == nil {
		panic("conversation: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		router:   router,
		clinics:  clinics,
		dialogue: dialogue,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one inbound message. Routing and clinic loading finish
// before the dialogue is touched, so a failed lookup never changes flow
// state. The returned error is for logging; the caller has already been
// answered whenever an answer was possible.
func (p *Processor) Process(ctx context.Context, msg events.InboundMessageV1) (err error) {
	started := p.now()
	outcome := outcomeOK
	ctx, span := tracer.Start(ctx, "conversation.process")
	span.SetAttributes(attribute.String("message_id", msg.MessageID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		p.metrics.ObserveTurn(outcome, p.now().Sub(started).Seconds())
	}()

	phone := strings.TrimSpace(msg.CallerPhone)
	log := p.logger.WithCaller(phone).With("message_id", msg.MessageID)
	if phone == "" || strings.TrimSpace(msg.MessageID) == "" {
		outcome = outcomeFailed
		return apperr.Validation("conversation: process", "message id and caller phone are required")
	}

	if p.processed != nil {
		fresh, err := p.processed.MarkProcessed(ctx, processedProvider, msg.MessageID)
		if err != nil {
			outcome = outcomeFailed
			return apperr.Transient("conversation: dedupe", err)
		}
		if !fresh {
			outcome = outcomeDuplicate
			log.Info("duplicate inbound message skipped")
			return nil
		}
	}

	// A denial is answered after routing, so the notice goes out from the
	// right clinic number.
	var admitErr error
	if p.inbound != nil {
		if admitErr = p.inbound.Admit(ctx, phone); admitErr != nil && !apperr.IsRateLimited(admitErr) {
			outcome = outcomeFailed
			return fmt.Errorf("conversation: inbound admission: %w", admitErr)
		}
	}

	hint := routing.Hint{PhoneNumberID: msg.PhoneNumberID, DisplayPhoneNumber: msg.DisplayPhoneNumber}
	clinicID, err := p.router.Resolve(ctx, hint, phone)
	if err != nil {
		outcome = outcomeUnroutable
		log.Warn("inbound message could not be routed", "error", err, "phone_number_id", msg.PhoneNumberID)
		p.answerUnattributed(ctx, log, msg, err)
		if apperr.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("conversation: route: %w", err)
	}

	ctx = tenancy.WithClinicID(ctx, clinicID)
	log = log.WithClinic(clinicID)
	span.SetAttributes(attribute.String("clinic_id", clinicID))

	cc, err := p.clinics.GetClinicContext(ctx, clinicID)
	if err != nil {
		outcome = outcomeUnroutable
		log.Error("failed to load clinic context", "error", err)
		p.answerUnattributed(ctx, log, msg, err)
		return fmt.Errorf("conversation: load clinic: %w", err)
	}
	creds := p.credentials(cc, msg)

	if admitErr != nil {
		outcome = outcomeRateLimited
		log.Info("inbound message rate limited")
		if _, sendErr := p.sender.SendText(ctx, creds, phone, apperr.UserMessage(admitErr)); sendErr != nil {
			log.Warn("failed to send rate limit notice", "error", sendErr)
		}
		return nil
	}

	profile := p.loadProfile(ctx, log, phone)
	name := strings.TrimSpace(msg.CallerName)
	if name == "" && profile != nil {
		name = profile.Name
	}

	reply, turnErr := p.dialogue.Handle(ctx, cc, booking.Turn{
		Phone:      phone,
		CallerName: name,
		Text:       msg.Text,
		MessageID:  msg.MessageID,
		At:         msg.Timestamp,
	})
	if turnErr != nil {
		outcome = outcomeFailed
		log.Error("booking turn failed", "error", turnErr, "kind", string(apperr.KindOf(turnErr)))
		if apperr.IsAuth(turnErr) && p.reconnect != nil {
			if nerr := p.reconnect.NotifyCalendarReconnect(ctx, cc); nerr != nil {
				log.Error("failed to notify clinic about calendar reconnection", "error", nerr)
			}
		}
	}

	text := ""
	if reply != nil {
		text = reply.Text
	} else if turnErr != nil {
		text = apperr.UserMessage(turnErr)
	}
	if text != "" {
		if _, sendErr := p.sender.SendText(ctx, creds, phone, text); sendErr != nil {
			if turnErr == nil {
				outcome = outcomeSendFailed
			}
			log.Error("failed to send reply", "error", sendErr, "kind", string(apperr.KindOf(sendErr)))
			turnErr = errors.Join(turnErr, fmt.Errorf("conversation: send reply: %w", sendErr))
		}
	}

	p.saveProfile(ctx, log, phone, profile, name, reply)

	if turnErr != nil {
		return turnErr
	}
	if reply != nil {
		log.Debug("turn handled", "step", string(reply.Step))
	}
	return nil
}

func (p *Processor) credentials(cc *clinic.Context, msg events.InboundMessageV1) whatsapp.Credentials {
	creds := whatsapp.Credentials{
		PhoneNumberID: cc.WhatsApp.PhoneNumberID,
		AccessToken:   cc.WhatsApp.AccessToken,
	}
	if creds.PhoneNumberID == "" {
		creds.PhoneNumberID = msg.PhoneNumberID
	}
	if creds.AccessToken == "" {
		creds.AccessToken = p.fallback.AccessToken
	}
	return creds
}

// answerUnattributed tells the caller the service is unavailable, using the
// number the message arrived on and the deployment-wide token.
func (p *Processor) answerUnattributed(ctx context.Context, log *logging.Logger, msg events.InboundMessageV1, cause error) {
	creds := whatsapp.Credentials{PhoneNumberID: msg.PhoneNumberID, AccessToken: p.fallback.AccessToken}
	if creds.PhoneNumberID == "" {
		creds.PhoneNumberID = p.fallback.PhoneNumberID
	}
	if creds.PhoneNumberID == "" || creds.AccessToken == "" {
		return
	}
	if _, err := p.sender.SendText(ctx, creds, msg.CallerPhone, apperr.UserMessage(cause)); err != nil {
		log.Warn("failed to send unavailable notice", "error", err)
	}
}

func (p *Processor) loadProfile(ctx context.Context, log *logging.Logger, phone string) *memory.Profile {
	if p.profiles == nil {
		return nil
	}
	profile, err := p.profiles.Profile(ctx, phone)
	if err != nil {
		log.Warn("failed to load caller profile", "error", err)
		return nil
	}
	return profile
}

func (p *Processor) saveProfile(ctx context.Context, log *logging.Logger, phone string, prev *memory.Profile, name string, reply *booking.Reply) {
	if p.profiles == nil {
		return
	}
	next := memory.Profile{Name: name, UpdatedAt: p.now().UTC()}
	if prev != nil {
		next.LastIntent = prev.LastIntent
	}
	if reply != nil && reply.Intent != booking.IntentNone {
		next.LastIntent = string(reply.Intent)
	}
	if prev != nil && prev.Name == next.Name && prev.LastIntent == next.LastIntent {
		return
	}
	if err := p.profiles.SaveProfile(ctx, phone, next); err != nil {
		log.Warn("failed to save caller profile", "error", err)
	}
}
