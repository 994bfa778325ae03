package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/honeyhive/backend/internal/models"
	"github.com/honeyhive/backend/internal/services"
)

type ApplicationRepo struct {
	db DBTX
}

func NewApplicationRepo(db DBTX) *ApplicationRepo {
	return &ApplicationRepo{db: db}
}

var _ services.ApplicationStore = (*ApplicationRepo)(nil)

const applicationColumns = `id, job_id, applicant_id, status, cover_letter_text, proposed_rate, created_at, updated_at`

func scanApplication(row pgx.Row) (*models.Application, error) {
	var a models.Application
	if err := row.Scan(&a.ID, &a.JobID, &a.ApplicantID, &a.Status, &a.CoverLetterText, &a.ProposedRate, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ApplicationRepo) Create(ctx context.Context, a *models.Application) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO applications (id, job_id, applicant_id, status, cover_letter_text, proposed_rate)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, a.ID, a.JobID, a.ApplicantID, a.Status, a.CoverLetterText, a.ProposedRate).Scan(&a.CreatedAt, &a.UpdatedAt)
	if IsUniqueViolation(err) {
		return services.ErrIdempotencyConflict
	}
	return mapError(err)
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	a, err := scanApplication(r.db.QueryRow(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE id = $1
	`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *ApplicationRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE job_id = $1 ORDER BY created_at
	`, jobID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, mapError(rows.Err())
}

// ListByApplicant returns the applicant's applications, newest first.
func (r *ApplicationRepo) ListByApplicant(ctx context.Context, applicantID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE applicant_id = $1 ORDER BY created_at DESC
	`, applicantID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, mapError(rows.Err())
}

// Resolve is a compare-and-set on status: it only matches pending rows.
func (r *ApplicationRepo) Resolve(ctx context.Context, id uuid.UUID, status string) (*models.Application, error) {
	a, err := scanApplication(r.db.QueryRow(ctx, `
		UPDATE applications SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+applicationColumns,
		id, status))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapError(err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, services.ErrApplicationNotPending
}
