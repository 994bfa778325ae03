package models

import (
	"time"

	"github.com/google/uuid"
)

// Domain event types published after lifecycle transitions.
const (
	EventApplicationSubmitted = "application.submitted"
	EventApplicationAccepted  = "application.accepted"
	EventApplicationRejected  = "application.rejected"
	EventApplicationWithdrawn = "application.withdrawn"
	EventFeeRefunded          = "fee.refunded"
)

type Event struct {
	Type          string    `json:"type"`
	ApplicationID uuid.UUID `json:"application_id"`
	JobID         uuid.UUID `json:"job_id"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        int       `json:"amount,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
