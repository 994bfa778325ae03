package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/models"
)

// Ledger records one entry per application, linking its reservation to the
// outcome. Entries only move forward: reserved -> refunded | captured.
type Ledger interface {
	// CreateEntry is idempotent on applicationID: an existing entry is returned
	// unchanged with created == false.
	CreateEntry(ctx context.Context, applicationID, userID, jobID uuid.UUID, amount int) (entry *models.LedgerEntry, created bool, err error)
	Get(ctx context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error)
	// MarkRefunded and MarkCaptured return the settled entry. An entry that is
	// already terminal is returned together with ErrAlreadyTerminal.
	MarkRefunded(ctx context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error)
	MarkCaptured(ctx context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error)
	ListReserved(ctx context.Context) ([]*models.LedgerEntry, error)
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.LedgerEntry
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[uuid.UUID]*models.LedgerEntry), now: time.Now}
}

var _ Ledger = (*MemoryLedger)(nil)

func (l *MemoryLedger) CreateEntry(_ context.Context, applicationID, userID, jobID uuid.UUID, amount int) (*models.LedgerEntry, bool, error) {
	if amount <= 0 {
		return nil, false, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[applicationID]; ok {
		cp := *e
		return &cp, false, nil
	}
	now := l.now()
	e := &models.LedgerEntry{
		ApplicationID:  applicationID,
		UserID:         userID,
		JobID:          jobID,
		ReservedAmount: amount,
		State:          models.LedgerStateReserved,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	l.entries[applicationID] = e
	cp := *e
	return &cp, true, nil
}

func (l *MemoryLedger) Get(_ context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[applicationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (l *MemoryLedger) MarkRefunded(_ context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error) {
	return l.settle(applicationID, models.LedgerStateRefunded)
}

func (l *MemoryLedger) MarkCaptured(_ context.Context, applicationID uuid.UUID) (*models.LedgerEntry, error) {
	return l.settle(applicationID, models.LedgerStateCaptured)
}

func (l *MemoryLedger) settle(applicationID uuid.UUID, state string) (*models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[applicationID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Terminal() {
		cp := *e
		return &cp, ErrAlreadyTerminal
	}
	e.State = state
	e.UpdatedAt = l.now()
	cp := *e
	return &cp, nil
}

func (l *MemoryLedger) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error) {
	return l.filter(func(e *models.LedgerEntry) bool { return e.UserID == userID }), nil
}

func (l *MemoryLedger) ListReserved(_ context.Context) ([]*models.LedgerEntry, error) {
	return l.filter(func(e *models.LedgerEntry) bool { return e.State == models.LedgerStateReserved }), nil
}

// filter returns copies of matching entries, newest first.
func (l *MemoryLedger) filter(keep func(*models.LedgerEntry) bool) []*models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range l.entries {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.LedgerEntry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}
