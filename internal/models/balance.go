package models

import (
	"time"

	"github.com/google/uuid"
)

// BiddingFee is the honey-drop fee reserved for every job application.
const BiddingFee = 3

type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	Amount    int       `json:"amount"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
