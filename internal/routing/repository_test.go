package routing

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestChannelRepositoryLookups(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newChannelRepositoryWithQuerier(mock)
	ctx := context.Background()

	mock.ExpectQuery("SELECT clinic_id FROM clinic_channels WHERE phone_number_id").
		WithArgs("pnid-1").
		WillReturnRows(pgxmock.NewRows([]string{"clinic_id"}).AddRow("clinic-1"))
	got, err := repo.ByPhoneNumberID(ctx, " pnid-1 ")
	if err != nil || got != "clinic-1" {
		t.Fatalf("expected clinic-1, got %q %v", got, err)
	}

	mock.ExpectQuery("SELECT clinic_id FROM clinic_channels WHERE display_phone_digits").
		WithArgs("551140000000").
		WillReturnError(pgx.ErrNoRows)
	got, err = repo.ByDisplayPhoneNumber(ctx, "+55 11 4000-0000")
	if err != nil || got != "" {
		t.Fatalf("expected miss, got %q %v", got, err)
	}

	mock.ExpectQuery("SELECT clinic_id FROM clinic_channels WHERE phone_number_id").
		WithArgs("pnid-2").
		WillReturnError(errors.New("conn closed"))
	if _, err := repo.ByPhoneNumberID(ctx, "pnid-2"); err == nil {
		t.Fatalf("expected query error to surface")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChannelRepositorySkipsEmptyInput(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newChannelRepositoryWithQuerier(mock)
	got, err := repo.ByDisplayPhoneNumber(context.Background(), "no digits")
	if err != nil || got != "" {
		t.Fatalf("expected empty result without a query, got %q %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected query: %v", err)
	}
}
