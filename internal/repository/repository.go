// Package repository is the ledger store: durable records for credit limits,
// credit balances, loans, and checks. The two compare-and-update primitives
// (DeductCreditBalance, ClaimCheck) are single guarded UPDATE statements;
// concurrent callers serialize on the affected row without any process lock.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/models"
)

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertUser records a Formbar identity on first sign-in
func (r *Repository) UpsertUser(ctx context.Context, userID int64, username string) error {
	query := `
		INSERT INTO users (formbar_user_id, username)
		VALUES ($1, $2)
		ON CONFLICT (formbar_user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, username); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetOrInitCreditLimit returns the borrower's limit row, creating it at the
// starting limit of 250 on first access.
func (r *Repository) GetOrInitCreditLimit(ctx context.Context, userID int64) (*models.CreditLimit, error) {
	initQuery := `
		INSERT INTO credit_limits (borrower_formbar_user_id, current_limit, increase_count)
		VALUES ($1, 250, 0)
		ON CONFLICT (borrower_formbar_user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, initQuery, userID); err != nil {
		return nil, fmt.Errorf("failed to init credit limit: %w", err)
	}

	limit := &models.CreditLimit{UserID: userID}
	query := `
		SELECT current_limit, increase_count
		FROM credit_limits
		WHERE borrower_formbar_user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&limit.CurrentLimit, &limit.IncreaseCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get credit limit: %w", err)
	}
	return limit, nil
}

// SetCreditLimit persists a recomputed limit and increase count in one write
func (r *Repository) SetCreditLimit(ctx context.Context, userID, newLimit int64, increaseCount int) error {
	query := `
		UPDATE credit_limits
		SET current_limit = $1, increase_count = $2
		WHERE borrower_formbar_user_id = $3`
	if _, err := r.db.ExecContext(ctx, query, newLimit, increaseCount, userID); err != nil {
		return fmt.Errorf("failed to set credit limit: %w", err)
	}
	return nil
}

// GetOrInitCreditBalance returns the borrower's credit balance, creating the
// row at zero on first access.
func (r *Repository) GetOrInitCreditBalance(ctx context.Context, userID int64) (int64, error) {
	initQuery := `
		INSERT INTO credit_balances (borrower_formbar_user_id, credit_balance)
		VALUES ($1, 0)
		ON CONFLICT (borrower_formbar_user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, initQuery, userID); err != nil {
		return 0, fmt.Errorf("failed to init credit balance: %w", err)
	}

	var balance int64
	query := `
		SELECT credit_balance
		FROM credit_balances
		WHERE borrower_formbar_user_id = $1`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to get credit balance: %w", err)
	}
	return balance, nil
}

// AddCreditBalance credits the borrower's balance; always succeeds
func (r *Repository) AddCreditBalance(ctx context.Context, userID, amount int64) error {
	query := `
		INSERT INTO credit_balances (borrower_formbar_user_id, credit_balance)
		VALUES ($1, $2)
		ON CONFLICT (borrower_formbar_user_id)
		DO UPDATE SET credit_balance = credit_balances.credit_balance + EXCLUDED.credit_balance`
	if _, err := r.db.ExecContext(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("failed to add credit balance: %w", err)
	}
	return nil
}

// DeductCreditBalance debits the balance only if it covers the amount.
// Returns false when the guard fails; the balance can never go negative.
func (r *Repository) DeductCreditBalance(ctx context.Context, userID, amount int64) (bool, error) {
	query := `
		UPDATE credit_balances
		SET credit_balance = credit_balance - $1
		WHERE borrower_formbar_user_id = $2 AND credit_balance >= $1`
	res, err := r.db.ExecContext(ctx, query, amount, userID)
	if err != nil {
		return false, fmt.Errorf("failed to deduct credit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to deduct credit balance: %w", err)
	}
	return n > 0, nil
}

// CreateLoan inserts an active loan row
func (r *Repository) CreateLoan(ctx context.Context, loan *models.Loan) error {
	query := `
		INSERT INTO credit_loans (borrower_formbar_user_id, principal, interest_rate, amount_owed, amount_paid, status)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		loan.UserID, loan.Principal, loan.InterestRate, loan.AmountOwed, models.LoanActive).
		Scan(&loan.ID, &loan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	loan.Status = models.LoanActive
	return nil
}

// DeleteLoan removes a loan row; used only as issuance-failure compensation
func (r *Repository) DeleteLoan(ctx context.Context, loanID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credit_loans WHERE id = $1`, loanID); err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	return nil
}

// FindActiveLoan returns the borrower's active loan or common.ErrNotFound
func (r *Repository) FindActiveLoan(ctx context.Context, userID int64) (*models.Loan, error) {
	loan := &models.Loan{}
	query := `
		SELECT id, borrower_formbar_user_id, principal, interest_rate, amount_owed, amount_paid, status, created_at, paid_at
		FROM credit_loans
		WHERE borrower_formbar_user_id = $1 AND status = $2`
	err := r.db.QueryRowContext(ctx, query, userID, models.LoanActive).
		Scan(&loan.ID, &loan.UserID, &loan.Principal, &loan.InterestRate,
			&loan.AmountOwed, &loan.AmountPaid, &loan.Status, &loan.CreatedAt, &loan.PaidAt)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active loan: %w", err)
	}
	return loan, nil
}

// LoanHistory returns the borrower's loans, newest first
func (r *Repository) LoanHistory(ctx context.Context, userID int64) ([]models.Loan, error) {
	query := `
		SELECT id, borrower_formbar_user_id, principal, interest_rate, amount_owed, amount_paid, status, created_at, paid_at
		FROM credit_loans
		WHERE borrower_formbar_user_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan history: %w", err)
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		var loan models.Loan
		if err := rows.Scan(&loan.ID, &loan.UserID, &loan.Principal, &loan.InterestRate,
			&loan.AmountOwed, &loan.AmountPaid, &loan.Status, &loan.CreatedAt, &loan.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load loan history: %w", err)
	}
	return loans, nil
}

// TotalRepaid returns the borrower's lifetime repayment total across all loans
func (r *Repository) TotalRepaid(ctx context.Context, userID int64) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(amount_paid), 0)
		FROM credit_loans
		WHERE borrower_formbar_user_id = $1`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum repayments: %w", err)
	}
	return total, nil
}

// ApplyLoanPayment adds a payment to the loan and recomputes the paid flag
// and paid-at timestamp in the same statement. Returns whether the loan is
// now fully paid.
func (r *Repository) ApplyLoanPayment(ctx context.Context, loanID, amount int64) (bool, error) {
	var status string
	query := `
		UPDATE credit_loans
		SET amount_paid = amount_paid + $1,
		    status = CASE WHEN amount_paid + $1 >= amount_owed THEN 'paid' ELSE status END,
		    paid_at = CASE WHEN amount_paid + $1 >= amount_owed AND paid_at IS NULL THEN CURRENT_TIMESTAMP ELSE paid_at END
		WHERE id = $2
		RETURNING status`
	if err := r.db.QueryRowContext(ctx, query, amount, loanID).Scan(&status); err != nil {
		return false, fmt.Errorf("failed to apply loan payment: %w", err)
	}
	return status == models.LoanPaid, nil
}

// ListBorrowers returns every known borrower with limit and credit balance
func (r *Repository) ListBorrowers(ctx context.Context) ([]models.BorrowerSummary, error) {
	query := `
		SELECT cl.borrower_formbar_user_id, cl.current_limit, COALESCE(cb.credit_balance, 0)
		FROM credit_limits cl
		LEFT JOIN credit_balances cb ON cb.borrower_formbar_user_id = cl.borrower_formbar_user_id
		ORDER BY cl.borrower_formbar_user_id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrowers: %w", err)
	}
	defer rows.Close()

	var out []models.BorrowerSummary
	for rows.Next() {
		var b models.BorrowerSummary
		if err := rows.Scan(&b.UserID, &b.CurrentLimit, &b.CreditBalance); err != nil {
			return nil, fmt.Errorf("failed to scan borrower: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list borrowers: %w", err)
	}
	return out, nil
}
