// Package reconcile runs fee reconciliation as durable River jobs: one-off
// repairs queued after a failed fan-out or credit, and a periodic sweep.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/honeyhive/backend/internal/services"
)

type ReconcileJobArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (ReconcileJobArgs) Kind() string { return "reconcile_job" }

// InsertOpts collapses repeated enqueues for the same job into one.
func (ReconcileJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true, ByPeriod: time.Minute}}
}

type CreditRetryArgs struct {
	ApplicationID uuid.UUID `json:"application_id"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        int       `json:"amount"`
}

func (CreditRetryArgs) Kind() string { return "credit_retry" }

func (CreditRetryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 25}
}

type SweepArgs struct{}

func (SweepArgs) Kind() string { return "reconcile_sweep" }

// The next periodic run replaces a failed sweep.
func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// Reconciler is the repair logic the workers delegate to.
type Reconciler interface {
	ReconcileJob(ctx context.Context, jobID uuid.UUID) (services.ReconcileReport, error)
	Sweep(ctx context.Context) (services.ReconcileReport, error)
	RetryCredit(ctx context.Context, userID uuid.UUID, amount int) error
}

type JobWorker struct {
	river.WorkerDefaults[ReconcileJobArgs]
	rec Reconciler
	log *slog.Logger
}

func NewJobWorker(rec Reconciler, log *slog.Logger) *JobWorker {
	return &JobWorker{rec: rec, log: orDefault(log)}
}

func (w *JobWorker) Work(ctx context.Context, job *river.Job[ReconcileJobArgs]) error {
	report, err := w.rec.ReconcileJob(ctx, job.Args.JobID)
	if err != nil {
		return fmt.Errorf("reconcile job %s: %w", job.Args.JobID, err)
	}
	w.log.Info("reconcile job done", "job_id", job.Args.JobID, "captured", report.Captured, "refunded", report.Refunded)
	return nil
}

type CreditRetryWorker struct {
	river.WorkerDefaults[CreditRetryArgs]
	rec Reconciler
	log *slog.Logger
}

func NewCreditRetryWorker(rec Reconciler, log *slog.Logger) *CreditRetryWorker {
	return &CreditRetryWorker{rec: rec, log: orDefault(log)}
}

func (w *CreditRetryWorker) Work(ctx context.Context, job *river.Job[CreditRetryArgs]) error {
	args := job.Args
	if err := w.rec.RetryCredit(ctx, args.UserID, args.Amount); err != nil {
		if errors.Is(err, services.ErrInvalidAmount) {
			// Retrying cannot fix a malformed job.
			return river.JobCancel(err)
		}
		return fmt.Errorf("credit %d to %s for %s: %w", args.Amount, args.UserID, args.ApplicationID, err)
	}
	return nil
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	rec Reconciler
	log *slog.Logger
}

func NewSweepWorker(rec Reconciler, log *slog.Logger) *SweepWorker {
	return &SweepWorker{rec: rec, log: orDefault(log)}
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	report, err := w.rec.Sweep(ctx)
	if report.Captured > 0 || report.Refunded > 0 {
		w.log.Warn("sweep repaired fees", "jobs", report.Jobs, "captured", report.Captured, "refunded", report.Refunded)
	}
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}

// AddWorkers registers every reconcile worker.
func AddWorkers(workers *river.Workers, rec Reconciler, log *slog.Logger) {
	river.AddWorker(workers, NewJobWorker(rec, log))
	river.AddWorker(workers, NewCreditRetryWorker(rec, log))
	river.AddWorker(workers, NewSweepWorker(rec, log))
}

// PeriodicSweep schedules a sweep every interval, starting at client start.
func PeriodicSweep(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) { return SweepArgs{}, nil },
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// InsertFunc enqueues one job. Provided by main using river.Client.Insert.
type InsertFunc func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error

var errNotBound = errors.New("reconcile queue: insert func not bound")

// Queue implements services.ReconcileQueue on top of River. The insert func
// is bound after the River client exists, since the client's workers need
// the coordinator that uses this queue.
type Queue struct {
	mu     sync.Mutex
	insert InsertFunc
}

var _ services.ReconcileQueue = (*Queue)(nil)

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Bind(fn InsertFunc) {
	q.mu.Lock()
	q.insert = fn
	q.mu.Unlock()
}

func (q *Queue) EnqueueJobReconcile(ctx context.Context, jobID uuid.UUID) error {
	return q.enqueue(ctx, ReconcileJobArgs{JobID: jobID})
}

func (q *Queue) EnqueueCreditRetry(ctx context.Context, applicationID, userID uuid.UUID, amount int) error {
	return q.enqueue(ctx, CreditRetryArgs{ApplicationID: applicationID, UserID: userID, Amount: amount})
}

func (q *Queue) enqueue(ctx context.Context, args river.JobArgs) error {
	q.mu.Lock()
	fn := q.insert
	q.mu.Unlock()
	if fn == nil {
		return errNotBound
	}
	if err := fn(ctx, args, nil); err != nil {
		return fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	return nil
}

func orDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
