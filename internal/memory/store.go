// Package memory keeps per-caller conversation history and a small derived
// profile. Records are keyed by caller phone only, not by clinic.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultWindow = 50

// Entry is one handled turn.
type Entry struct {
	ClinicID  string    `json:"clinic_id"`
	MessageID string    `json:"message_id,omitempty"`
	Inbound   string    `json:"inbound"`
	Reply     string    `json:"reply,omitempty"`
	Step      string    `json:"step,omitempty"`
	At        time.Time `json:"at"`
}

// Profile is what we remember about a caller across clinics.
type Profile struct {
	Name       string    `json:"name,omitempty"`
	LastIntent string    `json:"last_intent,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the conversation memory contract.
type Store interface {
	Append(ctx context.Context, phone string, entry Entry) error
	History(ctx context.Context, phone string, limit int) ([]Entry, error)
	Profile(ctx context.Context, phone string) (*Profile, error)
	SaveProfile(ctx context.Context, phone string, profile Profile) error
	LastClinicID(ctx context.Context, phone string) (string, error)
}

// RedisStore keeps history as a capped list and the profile as a JSON string.
// Nothing expires automatically.
type RedisStore struct {
	redis  redis.Cmdable
	window int64
	tracer trace.Tracer
}

func NewRedisStore(client redis.Cmdable, window int) *RedisStore {
	if client == nil {
		panic("memory: redis client cannot be nil")
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &RedisStore{
		redis:  client,
		window: int64(window),
		tracer: otel.Tracer("clinic-booking-bot/internal/memory"),
	}
}

func (s *RedisStore) Append(ctx context.Context, phone string, entry Entry) error {
	ctx, span := s.tracer.Start(ctx, "memory.append")
	defer span.End()

	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("memory: marshal entry: %w", err)
	}
	key := historyKey(phone)
	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		p.LTrim(ctx, key, -s.window, -1)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("memory: append history: %w", err)
	}
	return nil
}

// History returns up to limit of the most recent entries, oldest first.
// A non-positive limit returns the whole window.
func (s *RedisStore) History(ctx context.Context, phone string, limit int) ([]Entry, error) {
	ctx, span := s.tracer.Start(ctx, "memory.history")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.redis.LRange(ctx, historyKey(phone), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("memory: load history: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("memory: decode history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LastClinicID returns the clinic of the newest entry that has one, or "".
func (s *RedisStore) LastClinicID(ctx context.Context, phone string) (string, error) {
	entries, err := s.History(ctx, phone, 0)
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ClinicID != "" {
			return entries[i].ClinicID, nil
		}
	}
	return "", nil
}

func (s *RedisStore) Profile(ctx context.Context, phone string) (*Profile, error) {
	ctx, span := s.tracer.Start(ctx, "memory.profile")
	defer span.End()

	data, err := s.redis.Get(ctx, profileKey(phone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("memory: load profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("memory: decode profile: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) SaveProfile(ctx context.Context, phone string, profile Profile) error {
	ctx, span := s.tracer.Start(ctx, "memory.save_profile")
	defer span.End()

	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(profile)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("memory: marshal profile: %w", err)
	}
	if err := s.redis.Set(ctx, profileKey(phone), data, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("memory: persist profile: %w", err)
	}
	return nil
}

func historyKey(phone string) string {
	return fmt.Sprintf("memory:%s:history", phone)
}

func profileKey(phone string) string {
	return fmt.Sprintf("memory:%s:profile", phone)
}
