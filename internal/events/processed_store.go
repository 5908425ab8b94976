package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ProcessedStore claims inbound message ids. The claim is the insert itself,
// so two workers racing on a redelivered message cannot both win.
type ProcessedStore struct {
	db     execer
	tracer trace.Tracer
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return newProcessedStoreWithExec(pool)
}

func newProcessedStoreWithExec(db execer) *ProcessedStore {
	if db == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{db: db, tracer: otel.Tracer("clinic-booking-bot/internal/events")}
}

const claimMessageSQL = `
	INSERT INTO processed_messages (provider, message_id)
	VALUES ($1, $2)
	ON CONFLICT (provider, message_id) DO NOTHING
`

// MarkProcessed claims messageID for provider. It reports false when the id
// was claimed before.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, messageID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "events.mark_processed", trace.WithAttributes(attribute.String("provider", provider)))
	defer span.End()

	provider, messageID = strings.TrimSpace(provider), strings.TrimSpace(messageID)
	if provider == "" || messageID == "" {
		return false, fmt.Errorf("events: mark processed: provider and message id required")
	}
	tag, err := s.db.Exec(ctx, claimMessageSQL, provider, messageID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("events: mark processed %s/%s: %w", provider, messageID, err)
	}
	return tag.RowsAffected() == 1, nil
}
