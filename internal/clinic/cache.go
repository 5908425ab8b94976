package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// CachedSource keeps raw documents in Redis for a bounded TTL. Documents are
// still normalized on every turn.
type CachedSource struct {
	next   Source
	redis  redis.Cmdable
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedSource(next Source, client redis.Cmdable, ttl time.Duration, logger *logging.Logger) *CachedSource {
	if next == nil {
		panic("clinic: source required")
	}
	if client == nil {
		panic("clinic: redis client cannot be nil")
	}
	if ttl <= 0 {
		panic("clinic: cache ttl must be positive")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedSource{next: next, redis: client, ttl: ttl, logger: logger}
}

func (s *CachedSource) key(clinicID string) string {
	return fmt.Sprintf("clinic:document:%s", clinicID)
}

func (s *CachedSource) LoadDocument(ctx context.Context, clinicID string) (*Document, error) {
	data, err := s.redis.Get(ctx, s.key(clinicID)).Bytes()
	switch {
	case err == nil:
		var doc Document
		if jerr := json.Unmarshal(data, &doc); jerr == nil {
			return &doc, nil
		}
		s.logger.Warn("clinic cache entry corrupt, reloading", "clinic_id", clinicID)
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("clinic cache read failed", "clinic_id", clinicID, "error", err)
	}

	doc, err := s.next.LoadDocument(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if payload, jerr := json.Marshal(doc); jerr == nil {
		if serr := s.redis.Set(ctx, s.key(clinicID), payload, s.ttl).Err(); serr != nil {
			s.logger.Warn("clinic cache write failed", "clinic_id", clinicID, "error", serr)
		}
	}
	return doc, nil
}

// Invalidate drops a cached document.
func (s *CachedSource) Invalidate(ctx context.Context, clinicID string) error {
	if err := s.redis.Del(ctx, s.key(clinicID)).Err(); err != nil {
		return fmt.Errorf("clinic: invalidate cache: %w", err)
	}
	return nil
}
