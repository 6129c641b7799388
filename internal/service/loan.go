package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/integrations/formbar"
	"github.com/csmith1188/FormBank/internal/models"
)

// loanInterestRate is the flat rate applied to every loan at issuance.
const loanInterestRate = 0.20

// BorrowResult reports a successful loan issuance
type BorrowResult struct {
	LoanID     int64 `json:"loan_id"`
	Principal  int64 `json:"principal"`
	AmountOwed int64 `json:"amount_owed"`
	// ReceivedEstimate is what the borrower can expect after Formbar's own
	// 10% receive tax; informational only, never part of ledger state.
	ReceivedEstimate int64 `json:"received_estimate"`
}

// RepayResult reports a successful repayment
type RepayResult struct {
	AmountApplied  int64 `json:"amount_applied"`
	CreditUsed     int64 `json:"credit_used"`
	Transferred    int64 `json:"transferred"`
	Overpayment    int64 `json:"overpayment"`
	PaidOff        bool  `json:"paid_off"`
	LimitIncreased bool  `json:"limit_increased"`
	NewLimit       int64 `json:"new_limit"`
}

// amountOwedFor fixes the debt at ceil(principal * 1.20)
func amountOwedFor(principal int64) int64 {
	return (principal*6 + 4) / 5
}

// Borrow issues a loan: validates against the active-loan and limit rules,
// writes the loan row, then asks the gateway to move the principal from the
// lender to the borrower. The row goes in before the transfer on purpose: its
// identity is needed to compensate if the transfer fails, and at that point no
// external effect has happened, so deleting it is a true rollback.
func (s *Service) Borrow(ctx context.Context, userID, principal int64) (*BorrowResult, error) {
	if principal <= 0 {
		return nil, fmt.Errorf("%w: invalid loan amount", common.ErrValidation)
	}

	if _, err := s.repo.FindActiveLoan(ctx, userID); err == nil {
		return nil, fmt.Errorf("%w: you already have an active loan", common.ErrStateConflict)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, storage(err)
	}

	limit, err := s.repo.GetOrInitCreditLimit(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}
	if principal > limit.CurrentLimit {
		return nil, fmt.Errorf("%w: loan amount exceeds your credit limit of %d digipogs", common.ErrValidation, limit.CurrentLimit)
	}

	loan := &models.Loan{
		UserID:       userID,
		Principal:    principal,
		InterestRate: loanInterestRate,
		AmountOwed:   amountOwedFor(principal),
	}
	if err := s.repo.CreateLoan(ctx, loan); err != nil {
		return nil, storage(err)
	}

	err = s.gateway.Transfer(ctx, formbar.TransferRequest{
		From:   s.lenderID,
		To:     userID,
		Amount: principal,
		PIN:    s.lenderPIN,
		Reason: fmt.Sprintf("FormBank loan: %d digipogs", principal),
	})
	if err != nil {
		if delErr := s.repo.DeleteLoan(ctx, loan.ID); delErr != nil {
			s.reconcile("loan issuance rollback failed",
				fmt.Sprintf("loan %d for user %d survived a failed transfer and must be removed by hand: %v", loan.ID, userID, delErr))
		}
		return nil, err
	}

	s.log.Infof("Loan %d issued: user %d borrowed %d, owes %d", loan.ID, userID, principal, loan.AmountOwed)
	return &BorrowResult{
		LoanID:           loan.ID,
		Principal:        principal,
		AmountOwed:       loan.AmountOwed,
		ReceivedEstimate: principal * 9 / 10,
	}, nil
}

// Repay applies a repayment to the borrower's active loan. The credit balance
// is consumed first via the conditional debit; whatever it does not cover is
// pulled through the gateway. Money beyond the remaining debt is never
// transferred for this purpose and lands back on the credit balance.
//
// Between reading the loan here and the additive payment write there is no
// compare-and-swap, so two concurrent repayments of one loan can both observe
// a stale remaining debt. Known gap, left open on purpose.
func (s *Service) Repay(ctx context.Context, userID, amount int64, pin string) (*RepayResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: invalid repayment amount", common.ErrValidation)
	}
	if strings.TrimSpace(pin) == "" {
		return nil, fmt.Errorf("%w: PIN is required for repayment", common.ErrValidation)
	}

	loan, remaining, err := s.activeLoanWithDebt(ctx, userID)
	if err != nil {
		return nil, err
	}

	balance, err := s.repo.GetOrInitCreditBalance(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}

	creditUsed := min64(balance, amount)
	if creditUsed > 0 {
		deducted, err := s.repo.DeductCreditBalance(ctx, userID, creditUsed)
		if err != nil {
			return nil, storage(err)
		}
		if !deducted {
			// Lost the balance to a concurrent consumer; the transfer covers it
			creditUsed = 0
		}
	}

	actual := min64(amount, remaining)
	transferNeeded := actual - creditUsed
	if transferNeeded < 0 {
		transferNeeded = 0
	}

	if transferNeeded > 0 {
		err := s.gateway.Transfer(ctx, formbar.TransferRequest{
			From:   userID,
			To:     s.lenderID,
			Amount: transferNeeded,
			PIN:    pin,
			Reason: fmt.Sprintf("FormBank loan repayment: %d digipogs", transferNeeded),
		})
		if err != nil {
			s.refundCredit(ctx, userID, creditUsed, "repayment")
			return nil, err
		}
	}

	paid, err := s.repo.ApplyLoanPayment(ctx, loan.ID, actual)
	if err != nil {
		if transferNeeded == 0 {
			s.refundCredit(ctx, userID, creditUsed, "repayment")
		} else {
			s.reconcile("repayment not recorded",
				fmt.Sprintf("user %d transferred %d for loan %d but the payment write failed: %v", userID, transferNeeded, loan.ID, err))
		}
		return nil, storage(err)
	}

	overpayment := amount - actual
	if overpayment > 0 {
		if err := s.repo.AddCreditBalance(ctx, userID, overpayment); err != nil {
			s.log.Errorf("Failed to credit overpayment of %d to user %d: %v", overpayment, userID, err)
		}
	}

	result := &RepayResult{
		AmountApplied: actual,
		CreditUsed:    creditUsed,
		Transferred:   transferNeeded,
		Overpayment:   overpayment,
		PaidOff:       paid,
	}
	s.applyLimitPolicy(ctx, userID, result)
	s.log.Infof("Repayment of %d applied to loan %d for user %d (credit used %d, transferred %d)",
		actual, loan.ID, userID, creditUsed, transferNeeded)
	return result, nil
}

// RepayFull is Repay specialized so the target amount is exactly the
// remaining debt; no overpayment branch exists.
func (s *Service) RepayFull(ctx context.Context, userID int64, pin string) (*RepayResult, error) {
	if strings.TrimSpace(pin) == "" {
		return nil, fmt.Errorf("%w: PIN is required for repayment", common.ErrValidation)
	}

	loan, remaining, err := s.activeLoanWithDebt(ctx, userID)
	if err != nil {
		return nil, err
	}

	balance, err := s.repo.GetOrInitCreditBalance(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}

	creditUsed := min64(balance, remaining)
	transferNeeded := remaining - creditUsed
	if creditUsed > 0 {
		deducted, err := s.repo.DeductCreditBalance(ctx, userID, creditUsed)
		if err != nil {
			return nil, storage(err)
		}
		if !deducted {
			creditUsed = 0
			transferNeeded = remaining
		}
	}

	if transferNeeded > 0 {
		err := s.gateway.Transfer(ctx, formbar.TransferRequest{
			From:   userID,
			To:     s.lenderID,
			Amount: transferNeeded,
			PIN:    pin,
			Reason: fmt.Sprintf("FormBank loan full repayment: %d digipogs", transferNeeded),
		})
		if err != nil {
			s.refundCredit(ctx, userID, creditUsed, "full repayment")
			return nil, err
		}
	}

	paid, err := s.repo.ApplyLoanPayment(ctx, loan.ID, remaining)
	if err != nil {
		if transferNeeded == 0 {
			s.refundCredit(ctx, userID, creditUsed, "full repayment")
		} else {
			s.reconcile("full repayment not recorded",
				fmt.Sprintf("user %d transferred %d for loan %d but the payment write failed: %v", userID, transferNeeded, loan.ID, err))
		}
		return nil, storage(err)
	}

	result := &RepayResult{
		AmountApplied: remaining,
		CreditUsed:    creditUsed,
		Transferred:   transferNeeded,
		PaidOff:       paid,
	}
	s.applyLimitPolicy(ctx, userID, result)
	s.log.Infof("Loan %d fully repaid by user %d (credit used %d, transferred %d)",
		loan.ID, userID, creditUsed, transferNeeded)
	return result, nil
}

func (s *Service) activeLoanWithDebt(ctx context.Context, userID int64) (*models.Loan, int64, error) {
	loan, err := s.repo.FindActiveLoan(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: no active loan found", common.ErrStateConflict)
	}
	if err != nil {
		return nil, 0, storage(err)
	}
	remaining := loan.Remaining()
	if remaining <= 0 {
		return nil, 0, fmt.Errorf("%w: loan is already paid off", common.ErrStateConflict)
	}
	return loan, remaining, nil
}

// refundCredit undoes a balance debit after a later step failed
func (s *Service) refundCredit(ctx context.Context, userID, creditUsed int64, op string) {
	if creditUsed <= 0 {
		return
	}
	if err := s.repo.AddCreditBalance(ctx, userID, creditUsed); err != nil {
		s.reconcile(op+" compensation failed",
			fmt.Sprintf("user %d is owed a re-credit of %d that could not be written: %v", userID, creditUsed, err))
	}
}

// applyLimitPolicy runs the credit limit policy after a repayment; a policy
// failure is logged but never fails the repayment itself.
func (s *Service) applyLimitPolicy(ctx context.Context, userID int64, result *RepayResult) {
	limitRes, err := s.RecalculateLimit(ctx, userID)
	if err != nil {
		s.log.Errorf("Failed to update credit limit from repayments for user %d: %v", userID, err)
		return
	}
	result.LimitIncreased = limitRes.Increased
	result.NewLimit = limitRes.NewLimit
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
