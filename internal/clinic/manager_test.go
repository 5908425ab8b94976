package clinic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
)

type countingSource struct {
	calls int32
	docs  map[string]*Document
}

func (s *countingSource) LoadDocument(_ context.Context, clinicID string) (*Document, error) {
	atomic.AddInt32(&s.calls, 1)
	doc, ok := s.docs[clinicID]
	if !ok {
		return nil, apperr.NotFound("stub", "missing")
	}
	cp := *doc
	return &cp, nil
}

func TestManagerLoadsFreshEveryCall(t *testing.T) {
	src := &countingSource{docs: map[string]*Document{"c1": {Name: "Clinic One"}}}
	m := NewManager(src, nil)

	for i := 0; i < 3; i++ {
		cc, err := m.GetClinicContext(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", cc.ID)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&src.calls))

	src.docs["c1"].Name = "Renamed"
	cc, err := m.GetClinicContext(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", cc.Name)
}

func TestManagerPropagatesNotFound(t *testing.T) {
	m := NewManager(&countingSource{docs: map[string]*Document{}}, nil)
	_, err := m.GetClinicContext(context.Background(), "nope")
	assert.True(t, apperr.IsNotFound(err))
}

func TestPostgresSourceLoadDocument(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	src := newPostgresSourceWithQuerier(mock)
	mock.ExpectQuery("SELECT id, name, config FROM clinics").
		WithArgs("clinic-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "config"}).
			AddRow("clinic-1", "Boa Saúde", []byte(`{"services":[{"id":"cardio","duration_minutes":30}]}`)))
	doc, err := src.LoadDocument(context.Background(), "clinic-1")
	require.NoError(t, err)
	assert.Equal(t, "clinic-1", doc.ID)
	assert.Equal(t, "Boa Saúde", doc.Name)
	require.Len(t, doc.Services, 1)

	mock.ExpectQuery("SELECT id, name, config FROM clinics").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = src.LoadDocument(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))

	mock.ExpectQuery("SELECT id, name, config FROM clinics").
		WithArgs("broken").
		WillReturnError(errors.New("conn reset"))
	_, err = src.LoadDocument(context.Background(), "broken")
	assert.True(t, apperr.IsTransient(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedSourceHonoursTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	src := &countingSource{docs: map[string]*Document{"c1": {ID: "c1", Name: "Clinic One"}}}
	cached := NewCachedSource(src, client, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		doc, err := cached.LoadDocument(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Clinic One", doc.Name)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))

	mr.FastForward(2 * time.Minute)
	_, err = cached.LoadDocument(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))

	require.NoError(t, cached.Invalidate(ctx, "c1"))
	_, err = cached.LoadDocument(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&src.calls))

	_, err = cached.LoadDocument(ctx, "unknown")
	assert.True(t, apperr.IsNotFound(err))
}
