package clinic

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// Source returns the raw document for a clinic, or an apperr NotFound error.
type Source interface {
	LoadDocument(ctx context.Context, clinicID string) (*Document, error)
}

// Manager builds a fresh Context on every call. Any caching lives in the
// Source and is explicit (see CachedSource).
type Manager struct {
	source Source
	logger *logging.Logger
	tracer trace.Tracer
}

func NewManager(source Source, logger *logging.Logger) *Manager {
	if source == nil {
		panic("clinic: source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		source: source,
		logger: logger,
		tracer: otel.Tracer("clinic-booking-bot/internal/clinic"),
	}
}

// GetClinicContext loads and normalizes the clinic's configuration.
func (m *Manager) GetClinicContext(ctx context.Context, clinicID string) (*Context, error) {
	ctx, span := m.tracer.Start(ctx, "clinic.get_context", trace.WithAttributes(attribute.String("clinic_id", clinicID)))
	defer span.End()

	doc, err := m.source.LoadDocument(ctx, clinicID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("clinic: load %s: %w", clinicID, err)
	}
	if doc.ID == "" {
		doc.ID = clinicID
	}
	cc, err := Normalize(doc, m.logger)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return cc, nil
}
