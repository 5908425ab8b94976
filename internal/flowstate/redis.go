package flowstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTTL = 24 * time.Hour

// RedisStore keeps each state as a JSON string with a TTL so abandoned
// dialogues expire on their own.
type RedisStore struct {
	redis  redis.Cmdable
	ttl    time.Duration
	tracer trace.Tracer
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("flowstate: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("clinic-booking-bot/internal/flowstate"),
	}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*State, error) {
	ctx, span := s.tracer.Start(ctx, "flowstate.get", trace.WithAttributes(attribute.String("clinic_id", key.ClinicID)))
	defer span.End()

	if err := key.validate(); err != nil {
		return nil, err
	}
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("flowstate: load %s: %w", key, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("flowstate: decode %s: %w", key, err)
	}
	return &state, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, state *State) error {
	ctx, span := s.tracer.Start(ctx, "flowstate.set", trace.WithAttributes(attribute.String("clinic_id", key.ClinicID)))
	defer span.End()

	if err := validateWrite(key, state); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("flowstate: marshal %s: %w", key, err)
	}
	if err := s.redis.Set(ctx, key.String(), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("flowstate: persist %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key Key) error {
	ctx, span := s.tracer.Start(ctx, "flowstate.clear")
	defer span.End()

	if err := key.validate(); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("flowstate: clear %s: %w", key, err)
	}
	return nil
}
