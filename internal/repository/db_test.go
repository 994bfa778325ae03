package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/honeyhive/backend/internal/services"
)

func TestMapError(t *testing.T) {
	plain := errors.New("connection refused")

	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "no rows", in: pgx.ErrNoRows, want: services.ErrNotFound},
		{name: "wrapped no rows", in: fmt.Errorf("scan: %w", pgx.ErrNoRows), want: services.ErrNotFound},
		{name: "serialization failure", in: &pgconn.PgError{Code: "40001"}, want: services.ErrBusy},
		{name: "deadlock", in: &pgconn.PgError{Code: "40P01"}, want: services.ErrBusy},
		{name: "lock timeout", in: &pgconn.PgError{Code: "55P03"}, want: services.ErrBusy},
		{name: "statement timeout", in: &pgconn.PgError{Code: "57014"}, want: services.ErrBusy},
		{name: "check violation passes through", in: &pgconn.PgError{Code: "23514"}, want: nil},
		{name: "other error passes through", in: plain, want: plain},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapError(tc.in)
			if tc.want == nil {
				if got != tc.in {
					t.Fatalf("got %v, want input unchanged", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}

	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("wrapped 23505 not detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign-key violation reported as unique")
	}
	if IsUniqueViolation(nil) {
		t.Error("nil reported as unique violation")
	}
}
