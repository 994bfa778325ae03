//go:build integration

package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/honeyhive/backend/internal/models"
	"github.com/honeyhive/backend/internal/services"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./internal/repository/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, role string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := pool.Exec(context.Background(), `
		INSERT INTO users (id, email, password_hash, display_name, role) VALUES ($1, $2, 'x', 'Test', $3)
	`, id, id.String()+"@test.invalid", role); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedJob(t *testing.T, pool *pgxpool.Pool, owner uuid.UUID) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	if err := pool.QueryRow(context.Background(), `
		INSERT INTO jobs (owner_id, title) VALUES ($1, 'Logo design') RETURNING id
	`, owner).Scan(&id); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return id
}

func TestBalanceRepo_Reserve(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	balances := NewBalanceRepo(pool)
	user := uuid.New()

	if err := balances.Reserve(ctx, user, models.BiddingFee); !errors.Is(err, services.ErrInsufficientBalance) {
		t.Fatalf("Reserve on empty balance: got %v, want ErrInsufficientBalance", err)
	}
	if err := balances.Credit(ctx, user, 5); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := balances.Reserve(ctx, user, models.BiddingFee); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := balances.Reserve(ctx, user, models.BiddingFee); !errors.Is(err, services.ErrInsufficientBalance) {
		t.Fatalf("Reserve past balance: got %v, want ErrInsufficientBalance", err)
	}
	b, err := balances.Get(ctx, user)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Amount != 2 || b.Version != 2 {
		t.Errorf("balance = %+v, want amount 2 version 2", b)
	}
}

func TestLedgerRepo_EntryLifecycle(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	ledger := NewLedgerRepo(pool)
	appID, user, job := uuid.New(), uuid.New(), uuid.New()

	if _, created, err := ledger.CreateEntry(ctx, appID, user, job, models.BiddingFee); err != nil || !created {
		t.Fatalf("CreateEntry: created=%v err=%v", created, err)
	}
	e, created, err := ledger.CreateEntry(ctx, appID, user, job, models.BiddingFee)
	if err != nil || created {
		t.Fatalf("repeat CreateEntry: created=%v err=%v, want existing entry", created, err)
	}
	if e.State != models.LedgerStateReserved {
		t.Errorf("state = %q, want reserved", e.State)
	}

	if _, err := ledger.MarkRefunded(ctx, appID); err != nil {
		t.Fatalf("MarkRefunded: %v", err)
	}
	if _, err := ledger.MarkRefunded(ctx, appID); !errors.Is(err, services.ErrAlreadyTerminal) {
		t.Fatalf("second MarkRefunded: got %v, want ErrAlreadyTerminal", err)
	}
	if _, err := ledger.MarkCaptured(ctx, appID); !errors.Is(err, services.ErrAlreadyTerminal) {
		t.Fatalf("MarkCaptured after refund: got %v, want ErrAlreadyTerminal", err)
	}
	if _, err := ledger.MarkRefunded(ctx, uuid.New()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("MarkRefunded unknown: got %v, want ErrNotFound", err)
	}
}

func TestApplicationRepo_ResolveOnlyOnce(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	apps := NewApplicationRepo(pool)
	owner := seedUser(t, pool, models.RoleClient)
	applicant := seedUser(t, pool, models.RoleFreelancer)
	app := &models.Application{
		ID:              uuid.New(),
		JobID:           seedJob(t, pool, owner),
		ApplicantID:     applicant,
		Status:          models.ApplicationStatusPending,
		CoverLetterText: "hi",
		ProposedRate:    10,
	}
	if err := apps.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := apps.Resolve(ctx, app.ID, models.ApplicationStatusWithdrawn); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := apps.Resolve(ctx, app.ID, models.ApplicationStatusAccepted); !errors.Is(err, services.ErrApplicationNotPending) {
		t.Fatalf("second Resolve: got %v, want ErrApplicationNotPending", err)
	}
	if _, err := apps.Resolve(ctx, uuid.New(), models.ApplicationStatusAccepted); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Resolve unknown: got %v, want ErrNotFound", err)
	}

	mine, err := apps.ListByApplicant(ctx, applicant)
	if err != nil {
		t.Fatalf("ListByApplicant: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != app.ID {
		t.Errorf("ListByApplicant = %+v, want the one application", mine)
	}
}

func TestTransactor_RollbackKeepsNothing(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	balances := NewBalanceRepo(pool)
	user, appID := uuid.New(), uuid.New()
	if err := balances.Credit(ctx, user, 3); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	boom := errors.New("create application failed")
	err := NewTransactor(pool).WithinTx(ctx, func(ctx context.Context, s services.Stores) error {
		if err := s.Balances.Reserve(ctx, user, models.BiddingFee); err != nil {
			return err
		}
		if _, _, err := s.Ledger.CreateEntry(ctx, appID, user, uuid.New(), models.BiddingFee); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx: got %v, want the unit's error", err)
	}
	if got, _ := balances.GetBalance(ctx, user); got != 3 {
		t.Errorf("balance = %d after rollback, want 3", got)
	}
	if _, err := NewLedgerRepo(pool).Get(ctx, appID); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("entry survived rollback: %v", err)
	}
}

func TestTransactor_CommitKeepsEverything(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	balances := NewBalanceRepo(pool)
	user, appID := uuid.New(), uuid.New()
	if err := balances.Credit(ctx, user, 3); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	err := NewTransactor(pool).WithinTx(ctx, func(ctx context.Context, s services.Stores) error {
		if err := s.Balances.Reserve(ctx, user, models.BiddingFee); err != nil {
			return err
		}
		_, _, err := s.Ledger.CreateEntry(ctx, appID, user, uuid.New(), models.BiddingFee)
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if got, _ := balances.GetBalance(ctx, user); got != 0 {
		t.Errorf("balance = %d after commit, want 0", got)
	}
	if e, err := NewLedgerRepo(pool).Get(ctx, appID); err != nil || e.State != models.LedgerStateReserved {
		t.Errorf("entry after commit: %+v, %v", e, err)
	}
}
