package models

import "time"

// Transfer leg statuses
const (
	LegPending = "pending"
	LegRunning = "running"
	LegDone    = "done"
	LegFailed  = "failed"
)

// TransferLeg is a persisted deferred gateway transfer: the principal leg of
// a targeted check, scheduled after its fee leg clears. Persisting it means a
// restart resumes the leg instead of silently abandoning it.
type TransferLeg struct {
	ID      int64     `json:"id"`
	CheckID int64     `json:"check_id"`
	FromID  int64     `json:"from_id"`
	ToID    int64     `json:"to_id"`
	Amount  int64     `json:"amount"`
	Secret  string    `json:"-"`
	Reason  string    `json:"reason"`
	RunAt   time.Time `json:"run_at"`
	Status  string    `json:"status"`
	// StartedAt is set when the leg is claimed; a running leg whose StartedAt
	// is old was claimed but never finalized and needs operator attention.
	StartedAt *time.Time `json:"started_at,omitempty"`
}
