package models

import (
	"time"

	"github.com/google/uuid"
)

// Application status enums. Pending is the only non-terminal status.
const (
	ApplicationStatusPending   = "pending"
	ApplicationStatusAccepted  = "accepted"
	ApplicationStatusRejected  = "rejected"
	ApplicationStatusWithdrawn = "withdrawn"
)

type Application struct {
	ID              uuid.UUID `json:"id"`
	JobID           uuid.UUID `json:"job_id"`
	ApplicantID     uuid.UUID `json:"applicant_id"`
	Status          string    `json:"status"`
	CoverLetterText string    `json:"cover_letter_text"`
	ProposedRate    int64     `json:"proposed_rate"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (a *Application) Terminal() bool {
	return a.Status != ApplicationStatusPending
}
