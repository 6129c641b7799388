package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/models"
)

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewRepository(db), mock, db
}

func TestGetOrInitCreditLimit_Initializes(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+credit_limits.*ON\s+CONFLICT.*DO\s+NOTHING`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)SELECT\s+current_limit,\s*increase_count\s+FROM\s+credit_limits`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"current_limit", "increase_count"}).AddRow(250, 0))

	limit, err := repo.GetOrInitCreditLimit(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetOrInitCreditLimit error: %v", err)
	}
	if limit.CurrentLimit != 250 || limit.IncreaseCount != 0 {
		t.Fatalf("unexpected limit: %+v", limit)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeductCreditBalance_GuardHolds(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+credit_balances\s+SET\s+credit_balance\s*=\s*credit_balance\s*-\s*\$1.*credit_balance\s*>=\s*\$1`).
		WithArgs(int64(30), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deducted, err := repo.DeductCreditBalance(context.Background(), 42, 30)
	if err != nil {
		t.Fatalf("DeductCreditBalance error: %v", err)
	}
	if !deducted {
		t.Fatal("expected deduction to succeed")
	}
}

func TestDeductCreditBalance_InsufficientBalance(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+credit_balances`).
		WithArgs(int64(500), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deducted, err := repo.DeductCreditBalance(context.Background(), 42, 500)
	if err != nil {
		t.Fatalf("DeductCreditBalance error: %v", err)
	}
	if deducted {
		t.Fatal("expected deduction to fail and leave the balance unchanged")
	}
}

func TestClaimCheck_FirstClaimWins(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+checks\s+SET\s+receiver_formbar_user_id\s*=\s*\$1.*receiver_formbar_user_id\s+IS\s+NULL`).
		WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.ClaimCheck(context.Background(), 3, 7)
	if err != nil {
		t.Fatalf("ClaimCheck error: %v", err)
	}
	if !claimed {
		t.Fatal("expected claim to succeed")
	}
}

func TestClaimCheck_AlreadyClaimed(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+checks\s+SET\s+receiver_formbar_user_id`).
		WithArgs(int64(8), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.ClaimCheck(context.Background(), 3, 8)
	if err != nil {
		t.Fatalf("ClaimCheck error: %v", err)
	}
	if claimed {
		t.Fatal("expected claim to lose")
	}
}

func TestApplyLoanPayment_MarksPaid(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)UPDATE\s+credit_loans\s+SET\s+amount_paid\s*=\s*amount_paid\s*\+\s*\$1.*RETURNING\s+status`).
		WithArgs(int64(40), int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.LoanPaid))

	paid, err := repo.ApplyLoanPayment(context.Background(), 9, 40)
	if err != nil {
		t.Fatalf("ApplyLoanPayment error: %v", err)
	}
	if !paid {
		t.Fatal("expected loan to be marked paid")
	}
}

func TestApplyLoanPayment_StillActive(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)UPDATE\s+credit_loans`).
		WithArgs(int64(10), int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.LoanActive))

	paid, err := repo.ApplyLoanPayment(context.Background(), 9, 10)
	if err != nil {
		t.Fatalf("ApplyLoanPayment error: %v", err)
	}
	if paid {
		t.Fatal("expected loan to stay active")
	}
}

func TestFindActiveLoan_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT.*FROM\s+credit_loans\s+WHERE`).
		WithArgs(int64(42), models.LoanActive).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveLoan(context.Background(), 42)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartTransferLeg_RunsOnce(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+transfer_legs\s+SET\s+status\s*=\s*\$1,\s*started_at\s*=\s*CURRENT_TIMESTAMP\s+WHERE\s+id\s*=\s*\$2\s+AND\s+status\s*=\s*\$3`).
		WithArgs(models.LegRunning, int64(5), models.LegPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)UPDATE\s+transfer_legs\s+SET\s+status`).
		WithArgs(models.LegRunning, int64(5), models.LegPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	started, err := repo.StartTransferLeg(context.Background(), 5)
	if err != nil || !started {
		t.Fatalf("expected first start to win, got started=%v err=%v", started, err)
	}
	started, err = repo.StartTransferLeg(context.Background(), 5)
	if err != nil || started {
		t.Fatalf("expected second start to lose, got started=%v err=%v", started, err)
	}
}

func TestStaleRunningLegs_SelectsOnlyOldClaims(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	cutoff := time.Now().Add(-time.Minute)
	startedAt := cutoff.Add(-9 * time.Minute)
	mock.ExpectQuery(`(?s)SELECT.*FROM\s+transfer_legs\s+WHERE\s+status\s*=\s*\$1\s+AND\s+started_at\s*<=\s*\$2`).
		WithArgs(models.LegRunning, cutoff).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "check_id", "from_id", "to_id", "amount", "reason", "run_at", "status", "started_at"}).
			AddRow(int64(9), int64(4), int64(42), int64(7), int64(100), "Check: 100 digipogs",
				time.Now().Add(-10*time.Minute), models.LegRunning, startedAt))

	legs, err := repo.StaleRunningLegs(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(legs) != 1 || legs[0].ID != 9 || legs[0].CheckID != 4 {
		t.Fatalf("unexpected legs: %+v", legs)
	}
	if legs[0].StartedAt == nil || !legs[0].StartedAt.Equal(startedAt) {
		t.Fatalf("expected started_at %v, got %v", startedAt, legs[0].StartedAt)
	}
}

func TestCreateCheck_NullableFields(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)INSERT\s+INTO\s+checks`).
		WithArgs(int64(42), nil, int64(80), int64(5), models.CheckUncashed, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), time.Now()))

	secret := "deadbeef"
	check := &models.Check{SenderID: 42, Amount: 80, Fee: 5, Status: models.CheckUncashed, RedemptionSecret: &secret}
	if err := repo.CreateCheck(context.Background(), check); err != nil {
		t.Fatalf("CreateCheck error: %v", err)
	}
	if check.ID != 3 {
		t.Fatalf("unexpected check id: %d", check.ID)
	}
}
