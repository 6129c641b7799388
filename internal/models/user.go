package models

// User represents a Formbar identity seen by this service
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

// BorrowerSummary is one row of the lender's admin overview
type BorrowerSummary struct {
	UserID        int64 `json:"user_id"`
	CurrentLimit  int64 `json:"current_limit"`
	CreditBalance int64 `json:"credit_balance"`
}
