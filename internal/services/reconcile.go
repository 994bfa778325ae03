package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/models"
)

// DefaultOrphanAge is how old a reserved entry without an application must be
// before reconciliation refunds it. Younger entries may belong to a Submit
// that is still running.
const DefaultOrphanAge = time.Minute

// ReconcileReport summarizes what a reconcile pass repaired.
type ReconcileReport struct {
	Jobs     int `json:"jobs"`
	Captured int `json:"captured"`
	Refunded int `json:"refunded"`
}

func (r *ReconcileReport) add(o ReconcileReport) {
	r.Jobs += o.Jobs
	r.Captured += o.Captured
	r.Refunded += o.Refunded
}

// Reconciler finishes fee settlement that an Accept, Reject or Withdraw left
// incomplete. Every step is idempotent, so a pass can be repeated safely.
type Reconciler struct {
	c         *Coordinator
	OrphanAge time.Duration
}

func NewReconciler(c *Coordinator) *Reconciler {
	return &Reconciler{c: c, OrphanAge: DefaultOrphanAge}
}

// ReconcileJob brings every ledger entry on jobID in line with its
// application:
//   - the accepted application's entry is captured
//   - once a job has an accepted application, its pending siblings are rejected
//   - rejected and withdrawn applications get their fee back
//   - reserved entries whose application was never created are refunded
func (r *Reconciler) ReconcileJob(ctx context.Context, jobID uuid.UUID) (ReconcileReport, error) {
	report := ReconcileReport{Jobs: 1}
	apps, err := r.c.Applications.ListByJob(ctx, jobID)
	if err != nil {
		return report, fmt.Errorf("list applications: %w", err)
	}

	var errs []error
	known := make(map[uuid.UUID]bool, len(apps))
	for _, app := range apps {
		known[app.ID] = true
		switch app.Status {
		case models.ApplicationStatusAccepted:
			captured, err := r.captureIfReserved(ctx, app.ID)
			if err != nil {
				errs = append(errs, err)
			}
			if captured {
				report.Captured++
			}
			n, err := r.c.rejectSiblings(ctx, jobID, app.ID)
			if err != nil {
				errs = append(errs, err)
			}
			report.Refunded += n
		case models.ApplicationStatusRejected, models.ApplicationStatusWithdrawn:
			ok, err := r.c.refund(ctx, app.ID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				report.Refunded++
			}
		}
	}

	n, err := r.refundOrphans(ctx, jobID, known)
	if err != nil {
		errs = append(errs, err)
	}
	report.Refunded += n

	if report.Captured > 0 || report.Refunded > 0 {
		r.c.Logger.Info("job reconciled", "job_id", jobID,
			"captured", report.Captured, "refunded", report.Refunded)
	}
	return report, errors.Join(errs...)
}

// Sweep reconciles every job that still holds a reserved entry.
func (r *Reconciler) Sweep(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	reserved, err := r.c.Ledger.ListReserved(ctx)
	if err != nil {
		return report, fmt.Errorf("list reserved entries: %w", err)
	}
	seen := make(map[uuid.UUID]bool)
	var errs []error
	for _, e := range reserved {
		if seen[e.JobID] {
			continue
		}
		seen[e.JobID] = true
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		jr, err := r.ReconcileJob(ctx, e.JobID)
		report.add(jr)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", e.JobID, err))
		}
	}
	return report, errors.Join(errs...)
}

// RetryCredit applies a credit that an earlier refund or compensation could
// not. The ledger entry it belongs to is already settled.
func (r *Reconciler) RetryCredit(ctx context.Context, userID uuid.UUID, amount int) error {
	err := r.c.Retry.Do(ctx, func(ctx context.Context) error {
		return r.c.Balances.Credit(ctx, userID, amount)
	})
	if err != nil {
		return fmt.Errorf("retry credit: %w", err)
	}
	r.c.Logger.Info("owed credit applied", "user_id", userID, "amount", amount)
	return nil
}

func (r *Reconciler) captureIfReserved(ctx context.Context, appID uuid.UUID) (bool, error) {
	entry, err := r.c.Ledger.Get(ctx, appID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get entry %s: %w", appID, err)
	}
	if entry.Terminal() {
		return false, nil
	}
	if err := r.c.capture(ctx, appID); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) refundOrphans(ctx context.Context, jobID uuid.UUID, known map[uuid.UUID]bool) (int, error) {
	reserved, err := r.c.Ledger.ListReserved(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reserved entries: %w", err)
	}
	cutoff := r.c.now().Add(-r.OrphanAge)
	var (
		refunded int
		errs     []error
	)
	for _, e := range reserved {
		if e.JobID != jobID || known[e.ApplicationID] || e.CreatedAt.After(cutoff) {
			continue
		}
		// The application may have been created since ListByJob ran.
		if _, err := r.c.Applications.GetByID(ctx, e.ApplicationID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		ok, err := r.c.refund(ctx, e.ApplicationID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			r.c.Logger.Warn("orphaned reservation refunded", "application_id", e.ApplicationID, "user_id", e.UserID)
			refunded++
		}
	}
	return refunded, errors.Join(errs...)
}
