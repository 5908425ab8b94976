package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
)

// Credentials are a clinic's stored OAuth tokens for its calendar provider.
type Credentials struct {
	ClinicID     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Token converts to an oauth2 token.
func (c *Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.ExpiresAt,
	}
}

// WithToken returns a copy carrying tok. An empty refresh token in tok keeps
// the stored one, as Google omits it on refresh.
func (c *Credentials) WithToken(tok *oauth2.Token) *Credentials {
	out := *c
	out.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		out.TokenType = tok.TokenType
	}
	out.ExpiresAt = tok.Expiry
	return &out
}

// CredentialStore persists per-clinic OAuth credentials.
type CredentialStore interface {
	Get(ctx context.Context, clinicID string) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
	Expiring(ctx context.Context, before time.Time) ([]Credentials, error)
}

type credentialDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresCredentialStore uses the clinic_calendar_credentials table.
type PostgresCredentialStore struct {
	db credentialDB
}

var _ CredentialStore = (*PostgresCredentialStore)(nil)

func NewPostgresCredentialStore(pool *pgxpool.Pool) *PostgresCredentialStore {
	if pool == nil {
		panic("calendar: pgx pool required")
	}
	return &PostgresCredentialStore{db: pool}
}

func newPostgresCredentialStoreWithDB(db credentialDB) *PostgresCredentialStore {
	if db == nil {
		panic("calendar: db required")
	}
	return &PostgresCredentialStore{db: db}
}

// Get returns apperr NotFound when the clinic never connected a calendar.
func (s *PostgresCredentialStore) Get(ctx context.Context, clinicID string) (*Credentials, error) {
	query := `
		SELECT clinic_id, access_token, refresh_token, token_type, token_expires_at, updated_at
		FROM clinic_calendar_credentials
		WHERE clinic_id = $1
	`
	var c Credentials
	err := s.db.QueryRow(ctx, query, clinicID).Scan(
		&c.ClinicID,
		&c.AccessToken,
		&c.RefreshToken,
		&c.TokenType,
		&c.ExpiresAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("calendar: credentials", "no calendar credentials for clinic "+clinicID)
		}
		return nil, fmt.Errorf("calendar: get credentials: %w", err)
	}
	return &c, nil
}

func (s *PostgresCredentialStore) Save(ctx context.Context, creds *Credentials) error {
	if creds == nil || creds.ClinicID == "" {
		return fmt.Errorf("calendar: save credentials: clinic id required")
	}
	query := `
		INSERT INTO clinic_calendar_credentials (
			clinic_id, access_token, refresh_token, token_type, token_expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (clinic_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), clinic_calendar_credentials.refresh_token),
			token_type = EXCLUDED.token_type,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query,
		creds.ClinicID,
		creds.AccessToken,
		creds.RefreshToken,
		creds.TokenType,
		creds.ExpiresAt,
	); err != nil {
		return fmt.Errorf("calendar: save credentials: %w", err)
	}
	return nil
}

// Expiring lists credentials whose access token expires before the cutoff.
func (s *PostgresCredentialStore) Expiring(ctx context.Context, before time.Time) ([]Credentials, error) {
	query := `
		SELECT clinic_id, access_token, refresh_token, token_type, token_expires_at, updated_at
		FROM clinic_calendar_credentials
		WHERE token_expires_at < $1 AND refresh_token <> ''
		ORDER BY token_expires_at
	`
	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("calendar: list expiring credentials: %w", err)
	}
	defer rows.Close()

	var out []Credentials
	for rows.Next() {
		var c Credentials
		if err := rows.Scan(&c.ClinicID, &c.AccessToken, &c.RefreshToken, &c.TokenType, &c.ExpiresAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("calendar: scan credentials: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calendar: iterate credentials: %w", err)
	}
	return out, nil
}
