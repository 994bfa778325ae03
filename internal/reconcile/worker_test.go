package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/honeyhive/backend/internal/services"
)

type fakeReconciler struct {
	jobs    []uuid.UUID
	credits []int
	sweeps  int
	err     error
}

func (f *fakeReconciler) ReconcileJob(_ context.Context, jobID uuid.UUID) (services.ReconcileReport, error) {
	f.jobs = append(f.jobs, jobID)
	return services.ReconcileReport{Jobs: 1, Refunded: 2}, f.err
}

func (f *fakeReconciler) Sweep(context.Context) (services.ReconcileReport, error) {
	f.sweeps++
	return services.ReconcileReport{}, f.err
}

func (f *fakeReconciler) RetryCredit(_ context.Context, _ uuid.UUID, amount int) error {
	f.credits = append(f.credits, amount)
	return f.err
}

func TestJobWorker(t *testing.T) {
	rec := &fakeReconciler{}
	w := NewJobWorker(rec, nil)
	jobID := uuid.New()

	if err := w.Work(context.Background(), &river.Job[ReconcileJobArgs]{Args: ReconcileJobArgs{JobID: jobID}}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(rec.jobs) != 1 || rec.jobs[0] != jobID {
		t.Errorf("reconciled %v, want [%s]", rec.jobs, jobID)
	}

	rec.err = errors.New("db down")
	if err := w.Work(context.Background(), &river.Job[ReconcileJobArgs]{Args: ReconcileJobArgs{JobID: jobID}}); err == nil {
		t.Error("expected error so River retries")
	}
}

func TestCreditRetryWorker(t *testing.T) {
	rec := &fakeReconciler{}
	w := NewCreditRetryWorker(rec, nil)
	job := &river.Job[CreditRetryArgs]{Args: CreditRetryArgs{ApplicationID: uuid.New(), UserID: uuid.New(), Amount: 3}}

	if err := w.Work(context.Background(), job); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(rec.credits) != 1 || rec.credits[0] != 3 {
		t.Errorf("credits = %v, want [3]", rec.credits)
	}

	rec.err = services.ErrInvalidAmount
	if err := w.Work(context.Background(), job); !errors.Is(err, services.ErrInvalidAmount) {
		t.Errorf("invalid amount: got %v, want cancelled job wrapping ErrInvalidAmount", err)
	}
}

func TestSweepWorker(t *testing.T) {
	rec := &fakeReconciler{}
	if err := NewSweepWorker(rec, nil).Work(context.Background(), &river.Job[SweepArgs]{}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if rec.sweeps != 1 {
		t.Errorf("sweeps = %d, want 1", rec.sweeps)
	}
}

func TestQueue(t *testing.T) {
	q := NewQueue()
	if err := q.EnqueueJobReconcile(context.Background(), uuid.New()); !errors.Is(err, errNotBound) {
		t.Fatalf("unbound queue: got %v, want errNotBound", err)
	}

	var kinds []string
	q.Bind(func(_ context.Context, args river.JobArgs, _ *river.InsertOpts) error {
		kinds = append(kinds, args.Kind())
		return nil
	})
	if err := q.EnqueueJobReconcile(context.Background(), uuid.New()); err != nil {
		t.Fatalf("EnqueueJobReconcile: %v", err)
	}
	if err := q.EnqueueCreditRetry(context.Background(), uuid.New(), uuid.New(), 3); err != nil {
		t.Fatalf("EnqueueCreditRetry: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != "reconcile_job" || kinds[1] != "credit_retry" {
		t.Errorf("kinds = %v", kinds)
	}

	q.Bind(func(context.Context, river.JobArgs, *river.InsertOpts) error { return errors.New("pool closed") })
	if err := q.EnqueueJobReconcile(context.Background(), uuid.New()); err == nil {
		t.Error("expected insert error to surface")
	}
}

func TestReconcileJobArgs_Unique(t *testing.T) {
	if !(ReconcileJobArgs{}).InsertOpts().UniqueOpts.ByArgs {
		t.Error("reconcile_job should be unique by args")
	}
}
