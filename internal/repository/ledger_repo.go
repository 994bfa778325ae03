package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/honeyhive/backend/internal/models"
	"github.com/honeyhive/backend/internal/services"
)

type LedgerRepo struct {
	db DBTX
}

func NewLedgerRepo(db DBTX) *LedgerRepo {
	return &LedgerRepo{db: db}
}

var _ services.Ledger = (*LedgerRepo)(nil)

const ledgerColumns = `application_id, user_id, job_id, reserved_amount, state, created_at, updated_at`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := row.Scan(&e.ApplicationID, &e.UserID, &e.JobID, &e.ReservedAmount, &e.State, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *LedgerRepo) CreateEntry(ctx context.Context, applicationID, userID, jobID uuid.UUID, amount int) (*models.LedgerEntry, bool, error) {
	if amount <= 0 {
		return nil, false, services.ErrInvalidAmount
	}
	e, err := scanEntry(r.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (application_id, user_id, job_id, reserved_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (application_id) DO NOTHING
		RETURNING `+ledgerColumns,
		applicationID, userID, jobID, amount))
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, mapError(err)
	}
	existing, err := r.Get(ctx, applicationID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *LedgerRepo) Get(ctx context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries WHERE application_id = $1
	`, applicationID))
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

func (r *LedgerRepo) MarkRefunded(ctx context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error) {
	return r.settle(ctx, applicationID, models.LedgerStateRefunded)
}

func (r *LedgerRepo) MarkCaptured(ctx context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error) {
	return r.settle(ctx, applicationID, models.LedgerStateCaptured)
}

// settle moves a reserved entry to state. Only one caller can win the
// conditional update; the others see the settled row and ErrAlreadyTerminal.
func (r *LedgerRepo) settle(ctx context.Context, applicationID uuid.UUID, state string) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, `
		UPDATE ledger_entries SET state = $2, updated_at = now()
		WHERE application_id = $1 AND state = 'reserved'
		RETURNING `+ledgerColumns,
		applicationID, state))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapError(err)
	}
	existing, err := r.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return existing, services.ErrAlreadyTerminal
}

func (r *LedgerRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error) {
	return r.list(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
}

func (r *LedgerRepo) ListReserved(ctx context.Context) ([]*models.LedgerEntry, error) {
	return r.list(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries WHERE state = 'reserved' ORDER BY created_at DESC
	`)
}

func (r *LedgerRepo) list(ctx context.Context, query string, args ...any) ([]*models.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, mapError(rows.Err())
}
