// Package service holds the ledger-and-transfer orchestration logic: loan
// issuance and repayment, the credit limit policy, and check issuance and
// redemption. Orchestrators keep no state across requests; every cross-request
// race is resolved by the ledger store's conditional updates.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/config"
	"github.com/csmith1188/FormBank/internal/integrations/formbar"
	"github.com/csmith1188/FormBank/internal/models"
	"github.com/sirupsen/logrus"
)

// Ledger is the store of local financial state. Implemented by
// repository.Repository.
type Ledger interface {
	UpsertUser(ctx context.Context, userID int64, username string) error
	GetOrInitCreditLimit(ctx context.Context, userID int64) (*models.CreditLimit, error)
	SetCreditLimit(ctx context.Context, userID, newLimit int64, increaseCount int) error
	GetOrInitCreditBalance(ctx context.Context, userID int64) (int64, error)
	AddCreditBalance(ctx context.Context, userID, amount int64) error
	DeductCreditBalance(ctx context.Context, userID, amount int64) (bool, error)
	CreateLoan(ctx context.Context, loan *models.Loan) error
	DeleteLoan(ctx context.Context, loanID int64) error
	FindActiveLoan(ctx context.Context, userID int64) (*models.Loan, error)
	LoanHistory(ctx context.Context, userID int64) ([]models.Loan, error)
	TotalRepaid(ctx context.Context, userID int64) (int64, error)
	ApplyLoanPayment(ctx context.Context, loanID, amount int64) (bool, error)
	ListBorrowers(ctx context.Context) ([]models.BorrowerSummary, error)
	CreateCheck(ctx context.Context, check *models.Check) error
	FindCheckByID(ctx context.Context, checkID int64) (*models.Check, error)
	ChecksForUser(ctx context.Context, userID int64) ([]models.Check, error)
	ClaimCheck(ctx context.Context, checkID, receiverID int64) (bool, error)
	SetCheckStatus(ctx context.Context, checkID int64, status string) error
	ClearCheckSecret(ctx context.Context, checkID int64) error
	EnqueueTransferLeg(ctx context.Context, leg *models.TransferLeg) error
}

// TransferGateway moves digipogs on the external rail. Implemented by
// formbar.Client.
type TransferGateway interface {
	Transfer(ctx context.Context, req formbar.TransferRequest) error
}

// Alerter notifies the operator when local compensation fails and manual
// reconciliation is required.
type Alerter interface {
	SendReconciliationAlert(subject, detail string) error
}

// Service handles business logic
type Service struct {
	repo    Ledger
	gateway TransferGateway
	alerts  Alerter
	log     *logrus.Logger

	lenderID  int64
	lenderPIN string
	legDelay  time.Duration
	encKey    []byte
}

// NewService initializes a new service
func NewService(repo Ledger, gateway TransferGateway, alerts Alerter, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		alerts:    alerts,
		log:       log,
		lenderID:  cfg.LenderUserID,
		lenderPIN: cfg.LenderPIN,
		legDelay:  cfg.CheckLegDelay,
		encKey:    cfg.EncryptionKey,
	}
}

// IsLender reports whether the user is the house/lender identity
func (s *Service) IsLender(userID int64) bool {
	return userID == s.lenderID
}

// RegisterUser records a Formbar identity on first sign-in
func (s *Service) RegisterUser(ctx context.Context, userID int64, username string) error {
	if err := s.repo.UpsertUser(ctx, userID, username); err != nil {
		return storage(err)
	}
	return nil
}

// CreditOverview bundles everything the credit page shows
type CreditOverview struct {
	Limit      *models.CreditLimit `json:"limit"`
	Balance    int64               `json:"credit_balance"`
	ActiveLoan *models.Loan        `json:"active_loan,omitempty"`
	History    []models.Loan       `json:"loan_history"`
}

// GetCreditOverview loads limit, balance, active loan, and loan history
func (s *Service) GetCreditOverview(ctx context.Context, userID int64) (*CreditOverview, error) {
	limit, err := s.repo.GetOrInitCreditLimit(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}
	balance, err := s.repo.GetOrInitCreditBalance(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}
	loan, err := s.repo.FindActiveLoan(ctx, userID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, storage(err)
	}
	history, err := s.repo.LoanHistory(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}
	return &CreditOverview{Limit: limit, Balance: balance, ActiveLoan: loan, History: history}, nil
}

// Borrowers returns the lender's admin overview
func (s *Service) Borrowers(ctx context.Context) ([]models.BorrowerSummary, error) {
	out, err := s.repo.ListBorrowers(ctx)
	if err != nil {
		return nil, storage(err)
	}
	return out, nil
}

// reconcile logs a failed compensation and alerts the operator; never retried
func (s *Service) reconcile(subject, detail string) {
	s.log.WithField("detail", detail).Errorf("Manual reconciliation required: %s", subject)
	if s.alerts == nil {
		return
	}
	if err := s.alerts.SendReconciliationAlert(subject, detail); err != nil {
		s.log.Errorf("Failed to send reconciliation alert: %v", err)
	}
}

func storage(err error) error {
	return fmt.Errorf("%w: %v", common.ErrStorage, err)
}
