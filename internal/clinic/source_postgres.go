package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource reads the JSONB config column of the clinics table.
type PostgresSource struct {
	db rowQuerier
}

func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	if pool == nil {
		panic("clinic: pgx pool required")
	}
	return &PostgresSource{db: pool}
}

func newPostgresSourceWithQuerier(q rowQuerier) *PostgresSource {
	if q == nil {
		panic("clinic: querier required")
	}
	return &PostgresSource{db: q}
}

func (s *PostgresSource) LoadDocument(ctx context.Context, clinicID string) (*Document, error) {
	const query = `SELECT id, name, config FROM clinics WHERE id = $1 AND active`
	var (
		id   string
		name string
		raw  []byte
	)
	if err := s.db.QueryRow(ctx, query, clinicID).Scan(&id, &name, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("clinic: load document", "clinic "+clinicID+" not found")
		}
		return nil, apperr.Transient("clinic: load document", err)
	}
	doc := &Document{}
	if len(raw) > 0 {
		parsed, err := ParseDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("clinic: decode document %s: %w", clinicID, err)
		}
		doc = parsed
	}
	doc.ID = id
	if doc.Name == "" {
		doc.Name = name
	}
	return doc, nil
}
