package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/honeyhive/backend/internal/models"
	"github.com/honeyhive/backend/internal/services"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ services.JobCatalog = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, ownerID uuid.UUID, title, description string) (*Job, error) {
	var j Job
	row := r.pool.QueryRow(ctx, `
		INSERT INTO jobs (owner_id, title, description)
		VALUES ($1, $2, $3)
		RETURNING id, owner_id, title, description, status, created_at
	`, ownerID, title, description)
	if err := row.Scan(&j.ID, &j.OwnerID, &j.Title, &j.Description, &j.Status, &j.CreatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) GetByID(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	var j Job
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, description, status, created_at
		FROM jobs WHERE id = $1
	`, jobID)
	err := row.Scan(&j.ID, &j.OwnerID, &j.Title, &j.Description, &j.Status, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, title, description, status, created_at
		FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.OwnerID, &j.Title, &j.Description, &j.Status, &j.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}

// IsJobOpen reports false for unknown jobs.
func (r *Repository) IsJobOpen(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var open bool
	err := r.pool.QueryRow(ctx, `
		SELECT status = $2 FROM jobs WHERE id = $1
	`, jobID, models.JobStatusOpen).Scan(&open)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return open, err
}

func (r *Repository) OwnerOf(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error) {
	var owner uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT owner_id FROM jobs WHERE id = $1`, jobID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, services.ErrNotFound
	}
	return owner, err
}

// MarkFilled closes an open job to new applications.
func (r *Repository) MarkFilled(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1 AND status = $3
	`, jobID, models.JobStatusFilled, models.JobStatusOpen)
	return err
}
