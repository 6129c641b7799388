package models

import "time"

// Check statuses
const (
	CheckUncashed  = "uncashed"
	CheckCompleted = "completed"
	CheckFailed    = "failed"
)

// Check represents a conditional payment. A nil ReceiverID means a blank
// check, claimable by whoever redeems it first. RedemptionSecret holds the
// sender's PIN, AES-encrypted at rest, and is cleared after first use.
type Check struct {
	ID               int64     `json:"id"`
	SenderID         int64     `json:"sender_id"`
	ReceiverID       *int64    `json:"receiver_id,omitempty"`
	Amount           int64     `json:"amount"`
	Fee              int64     `json:"fee"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	Memo             string    `json:"memo,omitempty"`
	RedemptionSecret *string   `json:"-"`
}

// Blank reports whether the check has not been claimed by a receiver yet.
func (c *Check) Blank() bool {
	return c.ReceiverID == nil
}
