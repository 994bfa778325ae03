package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryBalanceStore_UnknownUserIsZero(t *testing.T) {
	s := NewMemoryBalanceStore()
	got, err := s.GetBalance(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestMemoryBalanceStore_ReserveAndCredit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBalanceStore()
	user := uuid.New()

	if err := s.Credit(ctx, user, 5); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := s.Reserve(ctx, user, 3); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := s.Reserve(ctx, user, 3); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("second Reserve: got %v, want ErrInsufficientBalance", err)
	}
	got, _ := s.GetBalance(ctx, user)
	if got != 2 {
		t.Errorf("balance = %d, want 2", got)
	}
	if v := s.Version(user); v != 2 {
		t.Errorf("version = %d, want 2 (failed reserve must not bump it)", v)
	}
}

func TestMemoryBalanceStore_ExactBalanceReserves(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBalanceStore()
	user := uuid.New()
	_ = s.Credit(ctx, user, 3)

	if err := s.Reserve(ctx, user, 3); err != nil {
		t.Fatalf("Reserve with exact balance: %v", err)
	}
	if got, _ := s.GetBalance(ctx, user); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestMemoryBalanceStore_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBalanceStore()
	user := uuid.New()

	for _, amount := range []int{0, -3} {
		if err := s.Reserve(ctx, user, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Reserve(%d): got %v, want ErrInvalidAmount", amount, err)
		}
		if err := s.Credit(ctx, user, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Credit(%d): got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

// With balance 3 and fee 3 exactly one of many concurrent reservations may win.
func TestMemoryBalanceStore_ConcurrentReserveNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBalanceStore()
	s.spins = 1 << 20
	user := uuid.New()
	_ = s.Credit(ctx, user, 3)

	const n = 64
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		start     = make(chan struct{})
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.Reserve(ctx, user, 3)
			switch {
			case err == nil:
				succeeded.Add(1)
			case !errors.Is(err, ErrInsufficientBalance):
				t.Errorf("unexpected Reserve error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := succeeded.Load(); got != 1 {
		t.Fatalf("%d reservations succeeded, want 1", got)
	}
	if got, _ := s.GetBalance(ctx, user); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestMemoryBalanceStore_ConcurrentCreditsAllLand(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBalanceStore()
	user := uuid.New()

	const n = 100
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Credit(ctx, user, 3); err != nil {
				t.Errorf("Credit: %v", err)
			}
		}()
	}
	wg.Wait()

	if got, _ := s.GetBalance(ctx, user); got != 3*n {
		t.Errorf("balance = %d, want %d", got, 3*n)
	}
	if v := s.Version(user); v != n {
		t.Errorf("version = %d, want %d", v, n)
	}
}

func TestMemoryBalanceStore_ReserveHonoursCancelledContext(t *testing.T) {
	s := NewMemoryBalanceStore()
	user := uuid.New()
	_ = s.Credit(context.Background(), user, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Reserve(ctx, user, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("Reserve: got %v, want context.Canceled", err)
	}
	if got, _ := s.GetBalance(context.Background(), user); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}
