package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/metrics"
	"github.com/honeyhive/backend/internal/models"
)

// compensationTimeout bounds the detached context used to undo a reservation
// after the caller's context has expired.
const compensationTimeout = 5 * time.Second

// submissionNamespace derives stable application IDs from idempotency keys.
var submissionNamespace = uuid.MustParse("6f1c2a7e-3b59-4f0e-9d8c-5a4b3c2d1e0f")

// EventPublisher delivers domain events. Failures are logged, never returned
// to the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, evt models.Event) error
}

// ReconcileQueue schedules follow-up work for fan-out steps that failed.
type ReconcileQueue interface {
	EnqueueJobReconcile(ctx context.Context, jobID uuid.UUID) error
	EnqueueCreditRetry(ctx context.Context, applicationID, userID uuid.UUID, amount int) error
}

// Coordinator drives the application lifecycle and the honey-drop fee that
// rides along with it:
//
//	pending -> accepted | rejected | withdrawn
//
// Every fee movement goes through Balances (money) and Ledger (which
// application the money belongs to). Accepting one application rejects and
// refunds all of its pending siblings.
type Coordinator struct {
	Balances     BalanceStore
	Ledger       Ledger
	Applications ApplicationStore
	Jobs         JobCatalog
	Guard        *ContentGuard
	Authz        Authorizer
	Events       EventPublisher
	Reconcile    ReconcileQueue
	// Tx, when set, makes Submit and every refund a single transaction over
	// the stores. Without it failures are undone by compensating writes.
	Tx    Transactor
	Retry RetryPolicy
	// SubmitTimeout bounds a whole Submit call. Zero means no extra deadline.
	SubmitTimeout time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// NewCoordinator wires a Coordinator with the default retry policy and an
// ownership-based authorizer.
func NewCoordinator(balances BalanceStore, ledger Ledger, apps ApplicationStore, jobs JobCatalog, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Balances:     balances,
		Ledger:       ledger,
		Applications: apps,
		Jobs:         jobs,
		Guard:        NewContentGuard(),
		Authz:        OwnershipPolicy{Jobs: jobs},
		Retry:        DefaultRetryPolicy(),
		Logger:       logger,
		Now:          time.Now,
	}
}

type SubmitRequest struct {
	JobID           uuid.UUID
	ApplicantID     uuid.UUID
	CoverLetterText string
	ProposedRate    int64
	// IdempotencyKey makes retries of the same submission return the first
	// result instead of reserving again. Optional.
	IdempotencyKey string
}

// Submit scans the cover letter, reserves the bidding fee and records the
// application as pending. With a Transactor the three writes commit together;
// without one, a failure after the reservation gives the fee back before
// returning.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*models.Application, error) {
	if req.ProposedRate <= 0 {
		return nil, ErrInvalidRate
	}
	if c.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.SubmitTimeout)
		defer cancel()
	}

	appID := uuid.New()
	if req.IdempotencyKey != "" {
		appID = uuid.NewSHA1(submissionNamespace, []byte(req.ApplicantID.String()+"/"+req.IdempotencyKey))
		existing, err := c.existingSubmission(ctx, appID, req)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	open, err := c.Jobs.IsJobOpen(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("check job open: %w", err)
	}
	if !open {
		return nil, ErrJobNotOpen
	}

	// Authoritative content check; nothing has been reserved yet.
	if v := c.Guard.Scan(req.CoverLetterText); !v.Allowed() {
		for _, f := range v.Findings {
			metrics.ContentBlocked.WithLabelValues(f.Kind, "submit").Inc()
		}
		return nil, &BlockedError{Reason: v.Reason()}
	}

	var app *models.Application
	if c.Tx != nil {
		app, err = c.submitAtomic(ctx, appID, req)
	} else {
		app, err = c.submitCompensated(ctx, appID, req)
	}
	if err != nil {
		return nil, err
	}
	c.Logger.Info("application submitted",
		"application_id", app.ID, "job_id", app.JobID, "applicant_id", app.ApplicantID)
	c.publish(ctx, models.EventApplicationSubmitted, app, models.BiddingFee)
	return app, nil
}

// errDuplicateSubmission rolls back a transaction that found the entry of an
// earlier attempt at the same submission.
var errDuplicateSubmission = errors.New("submission already recorded")

// submitAtomic reserves the fee, creates the entry and creates the application
// in one transaction, so a failure or timeout at any step keeps nothing.
func (c *Coordinator) submitAtomic(ctx context.Context, appID uuid.UUID, req SubmitRequest) (*models.Application, error) {
	app := newApplication(appID, req)
	var reserved bool
	err := c.Retry.Do(ctx, func(ctx context.Context) error {
		reserved = false
		return c.Tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
			if err := s.Balances.Reserve(ctx, req.ApplicantID, models.BiddingFee); err != nil {
				return err
			}
			reserved = true
			_, created, err := s.Ledger.CreateEntry(ctx, appID, req.ApplicantID, req.JobID, models.BiddingFee)
			if err != nil {
				return fmt.Errorf("create ledger entry: %w", err)
			}
			if !created {
				return errDuplicateSubmission
			}
			if err := s.Applications.Create(ctx, app); err != nil {
				return fmt.Errorf("create application: %w", err)
			}
			return nil
		})
	})
	switch {
	case err == nil:
		metrics.Reservations.WithLabelValues("ok").Inc()
		return app, nil
	case !reserved:
		return nil, reserveFailed(err)
	case errors.Is(err, errDuplicateSubmission):
		existing, err := c.existingSubmission(ctx, appID, req)
		if err == nil && existing == nil {
			err = ErrBusy
		}
		return existing, err
	default:
		return nil, err
	}
}

func (c *Coordinator) submitCompensated(ctx context.Context, appID uuid.UUID, req SubmitRequest) (*models.Application, error) {
	err := c.Retry.Do(ctx, func(ctx context.Context) error {
		return c.Balances.Reserve(ctx, req.ApplicantID, models.BiddingFee)
	})
	if err != nil {
		return nil, reserveFailed(err)
	}
	metrics.Reservations.WithLabelValues("ok").Inc()
	return c.record(ctx, appID, req)
}

func reserveFailed(err error) error {
	metrics.Reservations.WithLabelValues(reserveResult(err)).Inc()
	if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrBusy) {
		return err
	}
	return fmt.Errorf("reserve fee: %w", err)
}

func newApplication(appID uuid.UUID, req SubmitRequest) *models.Application {
	return &models.Application{
		ID:              appID,
		JobID:           req.JobID,
		ApplicantID:     req.ApplicantID,
		Status:          models.ApplicationStatusPending,
		CoverLetterText: req.CoverLetterText,
		ProposedRate:    req.ProposedRate,
	}
}

// record creates the ledger entry and the application for a reservation that
// has already been taken. Every failure path here returns the reserved fee.
func (c *Coordinator) record(ctx context.Context, appID uuid.UUID, req SubmitRequest) (*models.Application, error) {
	entry, created, err := c.Ledger.CreateEntry(ctx, appID, req.ApplicantID, req.JobID, models.BiddingFee)
	if err != nil {
		// The write may have landed before the error. A stored entry is
		// settled through the ledger so its fee cannot be returned twice.
		if c.entryStored(ctx, appID) {
			c.refundOrphan(ctx, appID)
		} else {
			c.compensate(ctx, appID, req.ApplicantID)
		}
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}
	if !created {
		// A concurrent retry of the same submission got here first; keep its
		// reservation and release ours.
		c.compensate(ctx, appID, req.ApplicantID)
		app, err := c.existingSubmission(ctx, entry.ApplicationID, req)
		if err == nil && app == nil {
			err = ErrBusy
		}
		return app, err
	}

	app := newApplication(appID, req)
	if err := c.Applications.Create(ctx, app); err != nil {
		if stored := c.storedApplication(ctx, appID); stored != nil {
			c.Logger.Warn("application stored despite create error",
				"application_id", appID, "error", err)
			return stored, nil
		}
		c.refundOrphan(ctx, appID)
		return nil, fmt.Errorf("create application: %w", err)
	}
	return app, nil
}

// entryStored reports whether appID has a ledger entry, checked on a context
// that outlives the caller's deadline. Lookup failures count as stored, which
// routes the refund through the once-only ledger transition.
func (c *Coordinator) entryStored(ctx context.Context, appID uuid.UUID) bool {
	ctx, cancel := detached(ctx)
	defer cancel()
	_, err := c.Ledger.Get(ctx, appID)
	return !errors.Is(err, ErrNotFound)
}

// storedApplication returns the application if a failed Create wrote it anyway.
func (c *Coordinator) storedApplication(ctx context.Context, appID uuid.UUID) *models.Application {
	ctx, cancel := detached(ctx)
	defer cancel()
	app, err := c.Applications.GetByID(ctx, appID)
	if err != nil {
		return nil
	}
	return app
}

// existingSubmission returns the application previously created under appID,
// or nil if there is none yet.
func (c *Coordinator) existingSubmission(ctx context.Context, appID uuid.UUID, req SubmitRequest) (*models.Application, error) {
	entry, err := c.Ledger.Get(ctx, appID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up submission: %w", err)
	}
	if entry.JobID != req.JobID {
		return nil, ErrIdempotencyConflict
	}
	app, err := c.Applications.GetByID(ctx, appID)
	switch {
	case err == nil:
		return app, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("look up submission: %w", err)
	case entry.State == models.LedgerStateReserved:
		// The first attempt is still between CreateEntry and Create.
		return nil, ErrBusy
	default:
		// The first attempt failed and was compensated.
		return nil, ErrIdempotencyConflict
	}
}

// compensate credits back a reservation that never got an entry of its own.
func (c *Coordinator) compensate(ctx context.Context, appID, userID uuid.UUID) {
	ctx, cancel := detached(ctx)
	defer cancel()
	err := c.Retry.Do(ctx, func(ctx context.Context) error {
		return c.Balances.Credit(ctx, userID, models.BiddingFee)
	})
	if err != nil {
		c.creditOwed(ctx, appID, userID, models.BiddingFee, err)
		return
	}
	c.Logger.Warn("reservation released", "application_id", appID, "user_id", userID)
}

// refundOrphan settles the entry of an application that could not be created.
func (c *Coordinator) refundOrphan(ctx context.Context, appID uuid.UUID) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if _, err := c.refund(ctx, appID); err != nil {
		c.Logger.Error("refund orphaned entry failed", "application_id", appID, "error", err)
	}
}

// Accept hires the applicant behind applicationID: the application becomes
// accepted and its fee is captured, then every other pending application on
// the job is rejected and refunded. A failed refund never undoes the hire; it
// is handed to reconciliation.
func (c *Coordinator) Accept(ctx context.Context, applicationID uuid.UUID, caller Caller) error {
	app, err := c.pendingFor(ctx, applicationID, caller, ActionAccept)
	if err != nil {
		return err
	}
	accepted, err := c.resolve(ctx, app.ID, models.ApplicationStatusAccepted)
	if err != nil {
		return err
	}

	if err := c.capture(ctx, accepted.ID); err != nil {
		c.inconsistent(ctx, accepted.JobID, "capture accepted fee", err)
	}
	if err := c.Jobs.MarkFilled(ctx, accepted.JobID); err != nil {
		c.Logger.Error("mark job filled failed", "job_id", accepted.JobID, "error", err)
	}
	c.publish(ctx, models.EventApplicationAccepted, accepted, 0)

	if _, err := c.rejectSiblings(ctx, accepted.JobID, accepted.ID); err != nil {
		c.inconsistent(ctx, accepted.JobID, "refund siblings", err)
	}
	c.Logger.Info("application accepted",
		"application_id", accepted.ID, "job_id", accepted.JobID, "caller_id", caller.ID)
	return nil
}

// Reject declines a single pending application and refunds its fee.
func (c *Coordinator) Reject(ctx context.Context, applicationID uuid.UUID, caller Caller) error {
	return c.close(ctx, applicationID, caller, ActionReject, models.ApplicationStatusRejected, models.EventApplicationRejected)
}

// Withdraw lets the applicant pull a pending application and get the fee back.
func (c *Coordinator) Withdraw(ctx context.Context, applicationID uuid.UUID, caller Caller) error {
	return c.close(ctx, applicationID, caller, ActionWithdraw, models.ApplicationStatusWithdrawn, models.EventApplicationWithdrawn)
}

func (c *Coordinator) close(ctx context.Context, applicationID uuid.UUID, caller Caller, action Action, status, eventType string) error {
	app, err := c.pendingFor(ctx, applicationID, caller, action)
	if err != nil {
		return err
	}
	closed, err := c.resolve(ctx, app.ID, status)
	if err != nil {
		return err
	}
	c.publish(ctx, eventType, closed, 0)
	if _, err := c.refund(ctx, closed.ID); err != nil {
		c.inconsistent(ctx, closed.JobID, "refund "+status+" application", err)
	}
	c.Logger.Info("application closed",
		"application_id", closed.ID, "status", status, "caller_id", caller.ID)
	return nil
}

// Get returns an application to its applicant, the job owner or an admin.
func (c *Coordinator) Get(ctx context.Context, applicationID uuid.UUID, caller Caller) (*models.Application, error) {
	app, err := c.Applications.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := c.Authz.Authorize(ctx, caller, ActionView, app); err != nil {
		return nil, err
	}
	return app, nil
}

// ListMine returns the caller's own applications, newest first.
func (c *Coordinator) ListMine(ctx context.Context, caller Caller) ([]*models.Application, error) {
	if caller.ID == uuid.Nil {
		return nil, ErrNotAuthorized
	}
	apps, err := c.Applications.ListByApplicant(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// GetBalance returns the caller's spendable honey drops.
func (c *Coordinator) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return c.Balances.GetBalance(ctx, userID)
}

// pendingFor loads the application and checks, in order, that it is still
// pending and that caller may perform action on it.
func (c *Coordinator) pendingFor(ctx context.Context, applicationID uuid.UUID, caller Caller, action Action) (*models.Application, error) {
	app, err := c.Applications.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusPending {
		return nil, ErrApplicationNotPending
	}
	if err := c.Authz.Authorize(ctx, caller, action, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (c *Coordinator) resolve(ctx context.Context, applicationID uuid.UUID, status string) (*models.Application, error) {
	var app *models.Application
	err := c.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		app, err = c.Applications.Resolve(ctx, applicationID, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues(status).Inc()
	return app, nil
}

// rejectSiblings rejects and refunds every pending application on jobID other
// than winnerID. It keeps going past individual failures and reports how many
// fees it returned.
func (c *Coordinator) rejectSiblings(ctx context.Context, jobID, winnerID uuid.UUID) (int, error) {
	siblings, err := c.Applications.ListByJob(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("list siblings: %w", err)
	}
	var (
		refunded int
		errs     []error
	)
	for _, s := range siblings {
		if s.ID == winnerID || s.Status != models.ApplicationStatusPending {
			continue
		}
		rejected, err := c.resolve(ctx, s.ID, models.ApplicationStatusRejected)
		if errors.Is(err, ErrApplicationNotPending) {
			// Withdrawn or decided concurrently; that path settles its own fee.
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reject %s: %w", s.ID, err))
			continue
		}
		c.publish(ctx, models.EventApplicationRejected, rejected, 0)
		ok, err := c.refund(ctx, rejected.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("refund %s: %w", s.ID, err))
			continue
		}
		if ok {
			refunded++
		}
	}
	return refunded, errors.Join(errs...)
}

// refund returns the fee held for applicationID. The ledger transition is the
// once-only gate: Credit runs only for the call that moved the entry out of
// reserved, so refunding twice credits once. It reports whether this call
// issued the credit.
func (c *Coordinator) refund(ctx context.Context, applicationID uuid.UUID) (bool, error) {
	if c.Tx != nil {
		return c.refundAtomic(ctx, applicationID)
	}
	var entry *models.LedgerEntry
	err := c.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		entry, err = c.Ledger.MarkRefunded(ctx, applicationID)
		return err
	})
	if errors.Is(err, ErrAlreadyTerminal) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark refunded: %w", err)
	}
	err = c.Retry.Do(ctx, func(ctx context.Context) error {
		return c.Balances.Credit(ctx, entry.UserID, entry.ReservedAmount)
	})
	if err != nil {
		c.creditOwed(ctx, applicationID, entry.UserID, entry.ReservedAmount, err)
		return false, fmt.Errorf("%w: credit refund for %s: %w", ErrLedgerInconsistency, applicationID, err)
	}
	metrics.Refunds.Inc()
	c.publishEntry(ctx, models.EventFeeRefunded, entry)
	return true, nil
}

// refundAtomic marks the entry refunded and credits the fee in one
// transaction. If the credit fails the entry stays reserved, where a sweep
// will find it again.
func (c *Coordinator) refundAtomic(ctx context.Context, applicationID uuid.UUID) (bool, error) {
	var entry *models.LedgerEntry
	err := c.Retry.Do(ctx, func(ctx context.Context) error {
		return c.Tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
			var err error
			if entry, err = s.Ledger.MarkRefunded(ctx, applicationID); err != nil {
				return err
			}
			return s.Balances.Credit(ctx, entry.UserID, entry.ReservedAmount)
		})
	})
	if errors.Is(err, ErrAlreadyTerminal) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: refund %s: %w", ErrLedgerInconsistency, applicationID, err)
	}
	metrics.Refunds.Inc()
	c.publishEntry(ctx, models.EventFeeRefunded, entry)
	return true, nil
}

// capture keeps the fee of an accepted application. Already-settled entries
// are left alone.
func (c *Coordinator) capture(ctx context.Context, applicationID uuid.UUID) error {
	err := c.Retry.Do(ctx, func(ctx context.Context) error {
		_, err := c.Ledger.MarkCaptured(ctx, applicationID)
		return err
	})
	if errors.Is(err, ErrAlreadyTerminal) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark captured: %w", err)
	}
	metrics.Captures.Inc()
	return nil
}

// inconsistent logs a fan-out failure and schedules a reconcile of the job.
func (c *Coordinator) inconsistent(ctx context.Context, jobID uuid.UUID, step string, cause error) {
	metrics.LedgerInconsistencies.Inc()
	c.Logger.Error("ledger inconsistency", "job_id", jobID, "step", step,
		"error", fmt.Errorf("%w: %w", ErrLedgerInconsistency, cause))
	if c.Reconcile == nil {
		return
	}
	if err := c.Reconcile.EnqueueJobReconcile(context.WithoutCancel(ctx), jobID); err != nil {
		c.Logger.Error("enqueue reconcile failed", "job_id", jobID, "error", err)
	}
}

// creditOwed records a credit that could not be applied and schedules a retry.
func (c *Coordinator) creditOwed(ctx context.Context, appID, userID uuid.UUID, amount int, cause error) {
	metrics.LedgerInconsistencies.Inc()
	c.Logger.Error("ledger inconsistency: credit owed",
		"application_id", appID, "user_id", userID, "amount", amount,
		"error", fmt.Errorf("%w: %w", ErrLedgerInconsistency, cause))
	if c.Reconcile == nil {
		return
	}
	if err := c.Reconcile.EnqueueCreditRetry(context.WithoutCancel(ctx), appID, userID, amount); err != nil {
		c.Logger.Error("enqueue credit retry failed", "application_id", appID, "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType string, app *models.Application, amount int) {
	c.emit(ctx, models.Event{
		Type:          eventType,
		ApplicationID: app.ID,
		JobID:         app.JobID,
		UserID:        app.ApplicantID,
		Amount:        amount,
	})
}

func (c *Coordinator) publishEntry(ctx context.Context, eventType string, e *models.LedgerEntry) {
	c.emit(ctx, models.Event{
		Type:          eventType,
		ApplicationID: e.ApplicationID,
		JobID:         e.JobID,
		UserID:        e.UserID,
		Amount:        e.ReservedAmount,
	})
}

func (c *Coordinator) emit(ctx context.Context, evt models.Event) {
	if c.Events == nil {
		return
	}
	evt.OccurredAt = c.now()
	if err := c.Events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		c.Logger.Warn("publish event failed", "type", evt.Type, "application_id", evt.ApplicationID, "error", err)
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// detached keeps ctx's values but not its deadline, so cleanup still runs
// after the caller has given up.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

func reserveResult(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "error"
	}
}
