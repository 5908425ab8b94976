package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
)

func TestCredentialStoreGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expires := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT clinic_id, access_token").
		WithArgs("clinic-1").
		WillReturnRows(pgxmock.NewRows([]string{"clinic_id", "access_token", "refresh_token", "token_type", "token_expires_at", "updated_at"}).
			AddRow("clinic-1", "at", "rt", "Bearer", expires, expires))

	store := newPostgresCredentialStoreWithDB(mock)
	creds, err := store.Get(context.Background(), "clinic-1")
	require.NoError(t, err)
	assert.Equal(t, "at", creds.AccessToken)
	assert.Equal(t, "rt", creds.RefreshToken)
	assert.Equal(t, expires, creds.ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStoreGetMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT clinic_id, access_token").
		WithArgs("clinic-x").
		WillReturnError(pgx.ErrNoRows)

	_, err = newPostgresCredentialStoreWithDB(mock).Get(context.Background(), "clinic-x")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCredentialStoreSaveAndExpiring(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expires := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO clinic_calendar_credentials").
		WithArgs("clinic-1", "at2", "rt", "Bearer", expires).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM clinic_calendar_credentials").
		WithArgs(expires).
		WillReturnRows(pgxmock.NewRows([]string{"clinic_id", "access_token", "refresh_token", "token_type", "token_expires_at", "updated_at"}).
			AddRow("clinic-1", "at2", "rt", "Bearer", expires, expires).
			AddRow("clinic-2", "at3", "rt3", "Bearer", expires, expires))

	store := newPostgresCredentialStoreWithDB(mock)
	require.NoError(t, store.Save(context.Background(), &Credentials{
		ClinicID: "clinic-1", AccessToken: "at2", RefreshToken: "rt", TokenType: "Bearer", ExpiresAt: expires,
	}))
	list, err := store.Expiring(context.Background(), expires)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "clinic-2", list[1].ClinicID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialsWithTokenKeepsRefreshToken(t *testing.T) {
	c := &Credentials{ClinicID: "c", AccessToken: "old", RefreshToken: "rt", TokenType: "Bearer"}
	exp := time.Now().Add(time.Hour)
	out := c.WithToken(&oauth2.Token{AccessToken: "new", Expiry: exp})

	assert.Equal(t, "new", out.AccessToken)
	assert.Equal(t, "rt", out.RefreshToken)
	assert.Equal(t, "Bearer", out.TokenType)
	assert.Equal(t, exp, out.ExpiresAt)
	assert.Equal(t, "old", c.AccessToken)
}
