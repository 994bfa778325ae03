package services

import "errors"

// Error kinds returned by the bidding-fee services. Compare with errors.Is.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrContactInfoDetected   = errors.New("contact info detected")
	ErrJobNotOpen            = errors.New("job is not open")
	ErrApplicationNotPending = errors.New("application is not pending")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrNotFound              = errors.New("not found")
	ErrInvalidAmount         = errors.New("amount must be > 0")
	ErrInvalidRate           = errors.New("proposed rate must be > 0")
	ErrIdempotencyConflict   = errors.New("idempotency key already used by another submission")

	// ErrAlreadyTerminal is reported by the ledger when a refund or capture
	// finds the entry already settled. Callers treat it as success.
	ErrAlreadyTerminal = errors.New("ledger entry already terminal")

	// ErrBusy is transient: the store could not apply the update under
	// contention within the retry budget.
	ErrBusy = errors.New("busy, try again")

	// ErrLedgerInconsistency marks a balance/ledger mismatch that needs a
	// reconciliation pass. It is logged, never shown to users.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)

// BlockedError is returned by Submit when the cover letter contains contact
// information. It unwraps to ErrContactInfoDetected.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "contact info detected: " + e.Reason
}

func (e *BlockedError) Unwrap() error { return ErrContactInfoDetected }
