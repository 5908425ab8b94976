package routing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ChannelRepository maps WhatsApp business numbers to clinics using the
// clinic_channels table.
type ChannelRepository struct {
	db rowQuerier
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	if pool == nil {
		panic("routing: pgx pool required")
	}
	return &ChannelRepository{db: pool}
}

func newChannelRepositoryWithQuerier(q rowQuerier) *ChannelRepository {
	if q == nil {
		panic("routing: querier required")
	}
	return &ChannelRepository{db: q}
}

// ByPhoneNumberID returns "" when no clinic owns the gateway phone-number id.
func (r *ChannelRepository) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (string, error) {
	const query = `SELECT clinic_id FROM clinic_channels WHERE phone_number_id = $1`
	return r.lookup(ctx, "phone number id", query, strings.TrimSpace(phoneNumberID))
}

// ByDisplayPhoneNumber matches on digits only, so "+55 11 4000-0000" and
// "551140000000" resolve the same clinic.
func (r *ChannelRepository) ByDisplayPhoneNumber(ctx context.Context, display string) (string, error) {
	const query = `SELECT clinic_id FROM clinic_channels WHERE display_phone_digits = $1`
	return r.lookup(ctx, "display number", query, SanitizePhone(display))
}

func (r *ChannelRepository) lookup(ctx context.Context, what, query, arg string) (string, error) {
	if arg == "" {
		return "", nil
	}
	var clinicID string
	if err := r.db.QueryRow(ctx, query, arg).Scan(&clinicID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("routing: lookup by %s: %w", what, err)
	}
	return clinicID, nil
}

// SanitizePhone strips everything but digits.
func SanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(phoneDigitsRe.FindAllString(value, -1), "")
}
