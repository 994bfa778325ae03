package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry states. Reserved is the only non-terminal state.
const (
	LedgerStateReserved = "reserved"
	LedgerStateRefunded = "refunded"
	LedgerStateCaptured = "captured"
)

type LedgerEntry struct {
	ApplicationID  uuid.UUID `json:"application_id"`
	UserID         uuid.UUID `json:"user_id"`
	JobID          uuid.UUID `json:"job_id"`
	ReservedAmount int       `json:"reserved_amount"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (e *LedgerEntry) Terminal() bool {
	return e.State == LedgerStateRefunded || e.State == LedgerStateCaptured
}
