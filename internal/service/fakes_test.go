package service

import (
	"context"
	"io"
	"time"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/config"
	"github.com/csmith1188/FormBank/internal/integrations/formbar"
	"github.com/csmith1188/FormBank/internal/models"
	"github.com/sirupsen/logrus"
)

// fakeLedger is an in-memory Ledger with switches to force the conditional
// primitives to report a lost race.
type fakeLedger struct {
	limits   map[int64]*models.CreditLimit
	balances map[int64]int64
	loans    map[int64]*models.Loan
	checks   map[int64]*models.Check
	legs     []*models.TransferLeg
	users    map[int64]string

	nextID int64

	deductLoses bool
	claimLoses  bool
	applyErr    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		limits:   make(map[int64]*models.CreditLimit),
		balances: make(map[int64]int64),
		loans:    make(map[int64]*models.Loan),
		checks:   make(map[int64]*models.Check),
		users:    make(map[int64]string),
		nextID:   1,
	}
}

func (f *fakeLedger) id() int64 {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeLedger) UpsertUser(_ context.Context, userID int64, username string) error {
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = username
	}
	return nil
}

func (f *fakeLedger) GetOrInitCreditLimit(_ context.Context, userID int64) (*models.CreditLimit, error) {
	if limit, ok := f.limits[userID]; ok {
		return &models.CreditLimit{UserID: userID, CurrentLimit: limit.CurrentLimit, IncreaseCount: limit.IncreaseCount}, nil
	}
	f.limits[userID] = &models.CreditLimit{UserID: userID, CurrentLimit: 250}
	return &models.CreditLimit{UserID: userID, CurrentLimit: 250}, nil
}

func (f *fakeLedger) SetCreditLimit(_ context.Context, userID, newLimit int64, increaseCount int) error {
	f.limits[userID] = &models.CreditLimit{UserID: userID, CurrentLimit: newLimit, IncreaseCount: increaseCount}
	return nil
}

func (f *fakeLedger) GetOrInitCreditBalance(_ context.Context, userID int64) (int64, error) {
	return f.balances[userID], nil
}

func (f *fakeLedger) AddCreditBalance(_ context.Context, userID, amount int64) error {
	f.balances[userID] += amount
	return nil
}

func (f *fakeLedger) DeductCreditBalance(_ context.Context, userID, amount int64) (bool, error) {
	if f.deductLoses || f.balances[userID] < amount {
		return false, nil
	}
	f.balances[userID] -= amount
	return true, nil
}

func (f *fakeLedger) CreateLoan(_ context.Context, loan *models.Loan) error {
	loan.ID = f.id()
	loan.Status = models.LoanActive
	loan.CreatedAt = time.Now()
	stored := *loan
	f.loans[loan.ID] = &stored
	return nil
}

func (f *fakeLedger) DeleteLoan(_ context.Context, loanID int64) error {
	delete(f.loans, loanID)
	return nil
}

func (f *fakeLedger) FindActiveLoan(_ context.Context, userID int64) (*models.Loan, error) {
	for _, loan := range f.loans {
		if loan.UserID == userID && loan.Status == models.LoanActive {
			copy := *loan
			return &copy, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeLedger) LoanHistory(_ context.Context, userID int64) ([]models.Loan, error) {
	var out []models.Loan
	for _, loan := range f.loans {
		if loan.UserID == userID {
			out = append(out, *loan)
		}
	}
	return out, nil
}

func (f *fakeLedger) TotalRepaid(_ context.Context, userID int64) (int64, error) {
	var total int64
	for _, loan := range f.loans {
		if loan.UserID == userID {
			total += loan.AmountPaid
		}
	}
	return total, nil
}

func (f *fakeLedger) ApplyLoanPayment(_ context.Context, loanID, amount int64) (bool, error) {
	if f.applyErr != nil {
		return false, f.applyErr
	}
	loan := f.loans[loanID]
	loan.AmountPaid += amount
	if loan.AmountPaid >= loan.AmountOwed {
		loan.Status = models.LoanPaid
		now := time.Now()
		loan.PaidAt = &now
		return true, nil
	}
	return false, nil
}

func (f *fakeLedger) ListBorrowers(_ context.Context) ([]models.BorrowerSummary, error) {
	var out []models.BorrowerSummary
	for userID, limit := range f.limits {
		out = append(out, models.BorrowerSummary{UserID: userID, CurrentLimit: limit.CurrentLimit, CreditBalance: f.balances[userID]})
	}
	return out, nil
}

func (f *fakeLedger) CreateCheck(_ context.Context, check *models.Check) error {
	check.ID = f.id()
	check.CreatedAt = time.Now()
	stored := *check
	f.checks[check.ID] = &stored
	return nil
}

func (f *fakeLedger) FindCheckByID(_ context.Context, checkID int64) (*models.Check, error) {
	check, ok := f.checks[checkID]
	if !ok {
		return nil, common.ErrNotFound
	}
	copy := *check
	return &copy, nil
}

func (f *fakeLedger) ChecksForUser(_ context.Context, userID int64) ([]models.Check, error) {
	var out []models.Check
	for _, check := range f.checks {
		if check.SenderID == userID ||
			(check.ReceiverID != nil && *check.ReceiverID == userID && check.Status == models.CheckCompleted) {
			out = append(out, *check)
		}
	}
	return out, nil
}

func (f *fakeLedger) ClaimCheck(_ context.Context, checkID, receiverID int64) (bool, error) {
	check, ok := f.checks[checkID]
	if !ok || f.claimLoses || check.ReceiverID != nil {
		return false, nil
	}
	check.ReceiverID = &receiverID
	return true, nil
}

func (f *fakeLedger) SetCheckStatus(_ context.Context, checkID int64, status string) error {
	f.checks[checkID].Status = status
	return nil
}

func (f *fakeLedger) ClearCheckSecret(_ context.Context, checkID int64) error {
	f.checks[checkID].RedemptionSecret = nil
	return nil
}

func (f *fakeLedger) EnqueueTransferLeg(_ context.Context, leg *models.TransferLeg) error {
	leg.ID = f.id()
	leg.Status = models.LegPending
	stored := *leg
	f.legs = append(f.legs, &stored)
	return nil
}

// fakeGateway records transfer calls and pops scripted errors in order
type fakeGateway struct {
	calls []formbar.TransferRequest
	errs  []error
}

func (g *fakeGateway) Transfer(_ context.Context, req formbar.TransferRequest) error {
	g.calls = append(g.calls, req)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return err
	}
	return nil
}

type fakeAlerter struct {
	subjects []string
}

func (a *fakeAlerter) SendReconciliationAlert(subject, _ string) error {
	a.subjects = append(a.subjects, subject)
	return nil
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(repo *fakeLedger, gateway *fakeGateway) (*Service, *fakeAlerter) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	alerts := &fakeAlerter{}
	cfg := &config.Config{
		LenderUserID:  1,
		LenderPIN:     "3639",
		CheckLegDelay: 6 * time.Second,
		EncryptionKey: testKey,
	}
	return NewService(repo, gateway, alerts, log, cfg), alerts
}
