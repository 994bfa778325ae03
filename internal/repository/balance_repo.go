package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/honeyhive/backend/internal/models"
	"github.com/honeyhive/backend/internal/services"
)

// BalanceRepo keeps one row per user. Reserve is a single conditional UPDATE,
// so concurrent reservations serialize on the row lock and never overdraw.
type BalanceRepo struct {
	db DBTX
}

func NewBalanceRepo(db DBTX) *BalanceRepo {
	return &BalanceRepo{db: db}
}

var _ services.BalanceStore = (*BalanceRepo)(nil)

func (r *BalanceRepo) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	var amount int
	err := r.db.QueryRow(ctx, `SELECT amount FROM balances WHERE user_id = $1`, userID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, mapError(err)
	}
	return amount, nil
}

// Get returns the full balance row, or a zero balance for unknown users.
func (r *BalanceRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Balance, error) {
	b := models.Balance{UserID: userID}
	err := r.db.QueryRow(ctx, `
		SELECT amount, version, updated_at FROM balances WHERE user_id = $1
	`, userID).Scan(&b.Amount, &b.Version, &b.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapError(err)
	}
	return &b, nil
}

func (r *BalanceRepo) Reserve(ctx context.Context, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return services.ErrInvalidAmount
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return mapError(err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE balances SET amount = amount - $2, version = version + 1, updated_at = now()
		WHERE user_id = $1 AND amount >= $2
	`, userID, amount)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return services.ErrInsufficientBalance
	}
	return nil
}

func (r *BalanceRepo) Credit(ctx context.Context, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return services.ErrInvalidAmount
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO balances (user_id, amount, version) VALUES ($1, $2, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount, version = balances.version + 1, updated_at = now()
	`, userID, amount)
	return mapError(err)
}
