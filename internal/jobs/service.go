package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Job struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Title       string
	Description string
	Status      string
	CreatedAt   time.Time
}

type Service interface {
	CreateJob(ctx context.Context, ownerID uuid.UUID, title, desc string) (*Job, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Job, error)
}

type store interface {
	Create(ctx context.Context, ownerID uuid.UUID, title, description string) (*Job, error)
	GetByID(ctx context.Context, jobID uuid.UUID) (*Job, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Job, error)
}

type service struct {
	repo store
}

func NewService(repo store) *service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) CreateJob(ctx context.Context, ownerID uuid.UUID, title, desc string) (*Job, error) {
	return s.repo.Create(ctx, ownerID, strings.TrimSpace(title), strings.TrimSpace(desc))
}

func (s *service) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	return s.repo.GetByID(ctx, jobID)
}

func (s *service) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Job, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}
