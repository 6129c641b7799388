package models

import "time"

// Loan statuses
const (
	LoanActive = "active"
	LoanPaid   = "paid"
)

// CreditLimit is a borrower's current borrowing ceiling. Limits start at 250
// digipogs and only ever grow.
type CreditLimit struct {
	UserID        int64 `json:"user_id"`
	CurrentLimit  int64 `json:"current_limit"`
	IncreaseCount int   `json:"increase_count"`
}

// Loan represents a single credit loan
type Loan struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	Principal    int64      `json:"principal"`
	InterestRate float64    `json:"interest_rate"`
	AmountOwed   int64      `json:"amount_owed"`
	AmountPaid   int64      `json:"amount_paid"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
}

// Remaining returns how much is still owed on the loan.
func (l *Loan) Remaining() int64 {
	return l.AmountOwed - l.AmountPaid
}
