package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/models"
)

// ApplicationStore persists applications. Only the Coordinator writes to it.
type ApplicationStore interface {
	Create(ctx context.Context, app *models.Application) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error)
	// ListByApplicant returns the applicant's applications, newest first.
	ListByApplicant(ctx context.Context, applicantID uuid.UUID) ([]*models.Application, error)
	// Resolve moves a pending application to the given terminal status. It
	// returns ErrApplicationNotPending if the application already left pending.
	Resolve(ctx context.Context, id uuid.UUID, status string) (*models.Application, error)
}

// JobCatalog is the view of the job catalog the Coordinator needs.
type JobCatalog interface {
	IsJobOpen(ctx context.Context, jobID uuid.UUID) (bool, error)
	OwnerOf(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error)
	MarkFilled(ctx context.Context, jobID uuid.UUID) error
}

// MemoryApplicationStore is an in-process ApplicationStore.
type MemoryApplicationStore struct {
	mu   sync.Mutex
	apps map[uuid.UUID]*models.Application
	now  func() time.Time
}

func NewMemoryApplicationStore() *MemoryApplicationStore {
	return &MemoryApplicationStore{apps: make(map[uuid.UUID]*models.Application), now: time.Now}
}

var _ ApplicationStore = (*MemoryApplicationStore)(nil)

func (s *MemoryApplicationStore) Create(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; ok {
		return ErrIdempotencyConflict
	}
	now := s.now()
	app.CreatedAt, app.UpdatedAt = now, now
	cp := *app
	s.apps[app.ID] = &cp
	return nil
}

func (s *MemoryApplicationStore) GetByID(_ context.Context, id uuid.UUID) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryApplicationStore) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Application
	for _, a := range s.apps {
		if a.JobID == jobID {
			cp := *a
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.Application) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *MemoryApplicationStore) ListByApplicant(_ context.Context, applicantID uuid.UUID) ([]*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Application
	for _, a := range s.apps {
		if a.ApplicantID == applicantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.Application) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *MemoryApplicationStore) Resolve(_ context.Context, id uuid.UUID, status string) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != models.ApplicationStatusPending {
		return nil, ErrApplicationNotPending
	}
	a.Status = status
	a.UpdatedAt = s.now()
	cp := *a
	return &cp, nil
}
