package services

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/models"
)

// BalanceStore owns every user's spendable honey-drop balance. Reserve and
// Credit are the only mutations.
type BalanceStore interface {
	// GetBalance returns 0 for users that have never held a balance.
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	// Reserve decrements by amount if and only if the balance covers it.
	Reserve(ctx context.Context, userID uuid.UUID, amount int) error
	// Credit increments by amount. There is no upper bound.
	Credit(ctx context.Context, userID uuid.UUID, amount int) error
}

// maxReserveSpins is how many compare-and-swap rounds Reserve tries before
// reporting ErrBusy.
const maxReserveSpins = 64

type balanceState struct {
	amount    int
	version   int64
	updatedAt time.Time
}

// MemoryBalanceStore keeps balances in process. Each user's balance is an
// immutable (amount, version) pair behind its own atomic pointer, so updates
// to different users never contend.
type MemoryBalanceStore struct {
	balances sync.Map // uuid.UUID -> *atomic.Pointer[balanceState]
	spins    int
}

func NewMemoryBalanceStore() *MemoryBalanceStore {
	return &MemoryBalanceStore{spins: maxReserveSpins}
}

var _ BalanceStore = (*MemoryBalanceStore)(nil)

// slot returns the user's balance pointer, creating a zero balance on first use.
func (s *MemoryBalanceStore) slot(userID uuid.UUID) *atomic.Pointer[balanceState] {
	if p, ok := s.balances.Load(userID); ok {
		return p.(*atomic.Pointer[balanceState])
	}
	fresh := new(atomic.Pointer[balanceState])
	fresh.Store(&balanceState{})
	p, _ := s.balances.LoadOrStore(userID, fresh)
	return p.(*atomic.Pointer[balanceState])
}

func (s *MemoryBalanceStore) GetBalance(_ context.Context, userID uuid.UUID) (int, error) {
	p, ok := s.balances.Load(userID)
	if !ok {
		return 0, nil
	}
	return p.(*atomic.Pointer[balanceState]).Load().amount, nil
}

// Get returns the balance with its version. Users that have never held a
// balance get a zero record.
func (s *MemoryBalanceStore) Get(_ context.Context, userID uuid.UUID) (*models.Balance, error) {
	b := &models.Balance{UserID: userID}
	if p, ok := s.balances.Load(userID); ok {
		cur := p.(*atomic.Pointer[balanceState]).Load()
		b.Amount, b.Version, b.UpdatedAt = cur.amount, cur.version, cur.updatedAt
	}
	return b, nil
}

// Version returns the number of successful mutations applied to the user's balance.
func (s *MemoryBalanceStore) Version(userID uuid.UUID) int64 {
	p, ok := s.balances.Load(userID)
	if !ok {
		return 0
	}
	return p.(*atomic.Pointer[balanceState]).Load().version
}

func (s *MemoryBalanceStore) Reserve(ctx context.Context, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	p := s.slot(userID)
	for range s.spins {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := p.Load()
		if cur.amount < amount {
			return ErrInsufficientBalance
		}
		next := &balanceState{amount: cur.amount - amount, version: cur.version + 1, updatedAt: time.Now()}
		if p.CompareAndSwap(cur, next) {
			return nil
		}
		runtime.Gosched()
	}
	return ErrBusy
}

// Credit retries its compare-and-swap until it lands; an increment cannot be
// refused, only delayed.
func (s *MemoryBalanceStore) Credit(ctx context.Context, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	p := s.slot(userID)
	for {
		cur := p.Load()
		next := &balanceState{amount: cur.amount + amount, version: cur.version + 1, updatedAt: time.Now()}
		if p.CompareAndSwap(cur, next) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
}
