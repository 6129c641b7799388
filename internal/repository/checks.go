package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/models"
)

// CreateCheck inserts a check row
func (r *Repository) CreateCheck(ctx context.Context, check *models.Check) error {
	query := `
		INSERT INTO checks (sender_formbar_user_id, receiver_formbar_user_id, amount, fee_charged, status, memo, redemption_secret)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	var memo sql.NullString
	if check.Memo != "" {
		memo = sql.NullString{String: check.Memo, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query,
		check.SenderID, check.ReceiverID, check.Amount, check.Fee, check.Status, memo, check.RedemptionSecret).
		Scan(&check.ID, &check.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create check: %w", err)
	}
	return nil
}

// FindCheckByID returns a check or common.ErrNotFound
func (r *Repository) FindCheckByID(ctx context.Context, checkID int64) (*models.Check, error) {
	check := &models.Check{}
	var memo sql.NullString
	query := `
		SELECT id, sender_formbar_user_id, receiver_formbar_user_id, amount, fee_charged, status, created_at, memo, redemption_secret
		FROM checks
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, checkID).
		Scan(&check.ID, &check.SenderID, &check.ReceiverID, &check.Amount, &check.Fee,
			&check.Status, &check.CreatedAt, &memo, &check.RedemptionSecret)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find check: %w", err)
	}
	check.Memo = memo.String
	return check, nil
}

// ChecksForUser returns checks the user sent, plus completed checks the user
// received, newest first.
func (r *Repository) ChecksForUser(ctx context.Context, userID int64) ([]models.Check, error) {
	query := `
		SELECT id, sender_formbar_user_id, receiver_formbar_user_id, amount, fee_charged, status, created_at, memo
		FROM checks
		WHERE sender_formbar_user_id = $1 OR (receiver_formbar_user_id = $1 AND status = $2)
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID, models.CheckCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to load checks: %w", err)
	}
	defer rows.Close()

	var checks []models.Check
	for rows.Next() {
		var check models.Check
		var memo sql.NullString
		if err := rows.Scan(&check.ID, &check.SenderID, &check.ReceiverID, &check.Amount,
			&check.Fee, &check.Status, &check.CreatedAt, &memo); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		check.Memo = memo.String
		checks = append(checks, check)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load checks: %w", err)
	}
	return checks, nil
}

// ClaimCheck sets the receiver of a blank check only if it is still
// unclaimed. Returns false when another claimant got there first; of N
// simultaneous claims exactly one sees true.
func (r *Repository) ClaimCheck(ctx context.Context, checkID, receiverID int64) (bool, error) {
	query := `
		UPDATE checks
		SET receiver_formbar_user_id = $1
		WHERE id = $2 AND receiver_formbar_user_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, receiverID, checkID)
	if err != nil {
		return false, fmt.Errorf("failed to claim check: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim check: %w", err)
	}
	return n > 0, nil
}

// SetCheckStatus finalizes a check
func (r *Repository) SetCheckStatus(ctx context.Context, checkID int64, status string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE checks SET status = $1 WHERE id = $2`, status, checkID); err != nil {
		return fmt.Errorf("failed to set check status: %w", err)
	}
	return nil
}

// ClearCheckSecret wipes the stored redemption secret. Idempotent; safe to
// call on an already-cleared check.
func (r *Repository) ClearCheckSecret(ctx context.Context, checkID int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE checks SET redemption_secret = NULL WHERE id = $1`, checkID); err != nil {
		return fmt.Errorf("failed to clear check secret: %w", err)
	}
	return nil
}

// EnqueueTransferLeg persists a deferred principal transfer
func (r *Repository) EnqueueTransferLeg(ctx context.Context, leg *models.TransferLeg) error {
	query := `
		INSERT INTO transfer_legs (check_id, from_id, to_id, amount, secret, reason, run_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		leg.CheckID, leg.FromID, leg.ToID, leg.Amount, leg.Secret, leg.Reason, leg.RunAt, models.LegPending).
		Scan(&leg.ID)
	if err != nil {
		return fmt.Errorf("failed to enqueue transfer leg: %w", err)
	}
	leg.Status = models.LegPending
	return nil
}

// DueTransferLegs returns pending legs whose run_at has passed
func (r *Repository) DueTransferLegs(ctx context.Context, limit int) ([]models.TransferLeg, error) {
	query := `
		SELECT id, check_id, from_id, to_id, amount, secret, reason, run_at, status
		FROM transfer_legs
		WHERE status = $1 AND run_at <= CURRENT_TIMESTAMP
		ORDER BY run_at ASC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, models.LegPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due transfer legs: %w", err)
	}
	defer rows.Close()

	var legs []models.TransferLeg
	for rows.Next() {
		var leg models.TransferLeg
		if err := rows.Scan(&leg.ID, &leg.CheckID, &leg.FromID, &leg.ToID, &leg.Amount,
			&leg.Secret, &leg.Reason, &leg.RunAt, &leg.Status); err != nil {
			return nil, fmt.Errorf("failed to scan transfer leg: %w", err)
		}
		legs = append(legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load due transfer legs: %w", err)
	}
	return legs, nil
}

// StartTransferLeg flips a leg from pending to running; the guard makes sure
// a leg is executed at most once even with overlapping executor runs.
func (r *Repository) StartTransferLeg(ctx context.Context, legID int64) (bool, error) {
	query := `
		UPDATE transfer_legs
		SET status = $1, started_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, models.LegRunning, legID, models.LegPending)
	if err != nil {
		return false, fmt.Errorf("failed to start transfer leg: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to start transfer leg: %w", err)
	}
	return n > 0, nil
}

// StaleRunningLegs returns legs claimed before the cutoff and never
// finalized: a crash or dead context between the claim and the finalize
// writes. The pending-only due query never picks these up again, so they are
// surfaced for manual reconciliation instead of retried.
func (r *Repository) StaleRunningLegs(ctx context.Context, cutoff time.Time) ([]models.TransferLeg, error) {
	query := `
		SELECT id, check_id, from_id, to_id, amount, reason, run_at, status, started_at
		FROM transfer_legs
		WHERE status = $1 AND started_at <= $2
		ORDER BY started_at ASC`
	rows, err := r.db.QueryContext(ctx, query, models.LegRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to load stale transfer legs: %w", err)
	}
	defer rows.Close()

	var legs []models.TransferLeg
	for rows.Next() {
		var leg models.TransferLeg
		if err := rows.Scan(&leg.ID, &leg.CheckID, &leg.FromID, &leg.ToID, &leg.Amount,
			&leg.Reason, &leg.RunAt, &leg.Status, &leg.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer leg: %w", err)
		}
		legs = append(legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load stale transfer legs: %w", err)
	}
	return legs, nil
}

// FinishTransferLeg records a leg's terminal status and wipes its secret
func (r *Repository) FinishTransferLeg(ctx context.Context, legID int64, status string) error {
	query := `
		UPDATE transfer_legs
		SET status = $1, secret = ''
		WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, status, legID); err != nil {
		return fmt.Errorf("failed to finish transfer leg: %w", err)
	}
	return nil
}
