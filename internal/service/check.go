package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/integrations/formbar"
	"github.com/csmith1188/FormBank/internal/models"
	"github.com/csmith1188/FormBank/internal/utils"
)

// WriteCheckResult reports a recorded check
type WriteCheckResult struct {
	CheckID int64  `json:"check_id"`
	Status  string `json:"status"`
	Fee     int64  `json:"fee"`
}

// RedeemResult reports a redemption attempt. The claim succeeded either way;
// Success tells whether the digipogs actually moved.
type RedeemResult struct {
	Check      *models.Check `json:"check"`
	ReceiverID int64         `json:"receiver_id"`
	Success    bool          `json:"success"`
	Failure    string        `json:"failure,omitempty"`
}

// checkFee is max(ceil(amount * 0.05), 5)
func checkFee(amount int64) int64 {
	fee := (amount + 19) / 20
	if fee < 5 {
		fee = 5
	}
	return fee
}

// WriteCheck issues a check. A nil receiverID writes a blank check: only the
// fee moves at write time, and the sender's PIN is stored (encrypted) so
// whoever claims the check later can trigger the principal transfer. A
// targeted check runs its fee leg now and schedules the principal leg as a
// persisted deferred transfer. The lender pays no fee to itself.
func (s *Service) WriteCheck(ctx context.Context, senderID int64, receiverID *int64, amount int64, pin, memo string) (*WriteCheckResult, error) {
	if receiverID != nil && (*receiverID < 1 || *receiverID == senderID) {
		return nil, fmt.Errorf("%w: invalid receiver; use another user's Formbar user ID or leave blank for anyone", common.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: invalid amount", common.ErrValidation)
	}
	if strings.TrimSpace(pin) == "" {
		return nil, fmt.Errorf("%w: PIN is required for transfers", common.ErrValidation)
	}

	fee := checkFee(amount)
	if receiverID == nil {
		return s.writeBlankCheck(ctx, senderID, amount, fee, pin, memo)
	}
	return s.writeTargetedCheck(ctx, senderID, *receiverID, amount, fee, pin, memo)
}

func (s *Service) writeBlankCheck(ctx context.Context, senderID, amount, fee int64, pin, memo string) (*WriteCheckResult, error) {
	// Encrypt before anything moves; a failure here must not strand a paid fee
	secret, err := utils.EncryptSecret(pin, s.encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to protect redemption secret: %v", common.ErrStorage, err)
	}

	// The lender cannot pay a fee to itself; skip the fee leg entirely
	if !s.IsLender(senderID) {
		err := s.gateway.Transfer(ctx, formbar.TransferRequest{
			From:   senderID,
			To:     s.lenderID,
			Amount: fee,
			PIN:    pin,
			Reason: "Check fee",
		})
		if err != nil {
			s.recordFailedCheck(ctx, senderID, nil, amount, fee, memo)
			return nil, err
		}
	}

	check := &models.Check{
		SenderID:         senderID,
		Amount:           amount,
		Fee:              fee,
		Status:           models.CheckUncashed,
		Memo:             memo,
		RedemptionSecret: &secret,
	}
	if err := s.repo.CreateCheck(ctx, check); err != nil {
		if !s.IsLender(senderID) {
			s.reconcile("blank check not recorded",
				fmt.Sprintf("user %d paid a %d fee but the check write failed: %v", senderID, fee, err))
		}
		return nil, storage(err)
	}

	s.log.Infof("Blank check %d written by user %d for %d digipogs (fee %d)", check.ID, senderID, amount, fee)
	return &WriteCheckResult{CheckID: check.ID, Status: check.Status, Fee: fee}, nil
}

func (s *Service) writeTargetedCheck(ctx context.Context, senderID, receiverID, amount, fee int64, pin, memo string) (*WriteCheckResult, error) {
	reason := memo
	if reason == "" {
		reason = fmt.Sprintf("Check: %d digipogs", amount)
	}

	// The lender does a single direct transfer, no fee and no deferred leg
	if s.IsLender(senderID) {
		err := s.gateway.Transfer(ctx, formbar.TransferRequest{
			From:   senderID,
			To:     receiverID,
			Amount: amount,
			PIN:    pin,
			Reason: reason,
		})
		status := models.CheckCompleted
		if err != nil {
			status = models.CheckFailed
		}
		check := &models.Check{SenderID: senderID, ReceiverID: &receiverID, Amount: amount, Fee: fee, Status: status, Memo: memo}
		if createErr := s.repo.CreateCheck(ctx, check); createErr != nil {
			if err == nil {
				s.reconcile("check not recorded",
					fmt.Sprintf("lender transferred %d to user %d but the check write failed: %v", amount, receiverID, createErr))
			}
			return nil, storage(createErr)
		}
		if err != nil {
			return nil, err
		}
		return &WriteCheckResult{CheckID: check.ID, Status: check.Status, Fee: fee}, nil
	}

	// Encrypt before the fee moves; a failure here must not leave a paid-for
	// check that can never schedule its principal leg
	secret, err := utils.EncryptSecret(pin, s.encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to protect transfer secret: %v", common.ErrStorage, err)
	}

	err = s.gateway.Transfer(ctx, formbar.TransferRequest{
		From:   senderID,
		To:     s.lenderID,
		Amount: fee,
		PIN:    pin,
		Reason: "Check fee",
	})
	if err != nil {
		// Fee failed: record the check as failed, never touch the principal
		s.recordFailedCheck(ctx, senderID, &receiverID, amount, fee, memo)
		return nil, err
	}

	check := &models.Check{
		SenderID:   senderID,
		ReceiverID: &receiverID,
		Amount:     amount,
		Fee:        fee,
		Status:     models.CheckUncashed,
		Memo:       memo,
	}
	if err := s.repo.CreateCheck(ctx, check); err != nil {
		s.reconcile("targeted check not recorded",
			fmt.Sprintf("user %d paid a %d fee but the check write failed: %v", senderID, fee, err))
		return nil, storage(err)
	}

	// The principal leg survives a restart: persisted with its due time and
	// picked up by the leg executor once the grace interval passes.
	leg := &models.TransferLeg{
		CheckID: check.ID,
		FromID:  senderID,
		ToID:    receiverID,
		Amount:  amount,
		Secret:  secret,
		Reason:  reason,
		RunAt:   time.Now().Add(s.legDelay),
	}
	if err := s.repo.EnqueueTransferLeg(ctx, leg); err != nil {
		s.reconcile("check principal leg lost",
			fmt.Sprintf("check %d collected its fee but the principal leg could not be scheduled: %v", check.ID, err))
		return nil, storage(err)
	}

	s.log.Infof("Check %d written by user %d to user %d; principal leg due %s",
		check.ID, senderID, receiverID, leg.RunAt.Format(time.RFC3339))
	return &WriteCheckResult{CheckID: check.ID, Status: check.Status, Fee: fee}, nil
}

// recordFailedCheck writes the failed row after a fee decline, without a
// redemption secret; best effort.
func (s *Service) recordFailedCheck(ctx context.Context, senderID int64, receiverID *int64, amount, fee int64, memo string) {
	check := &models.Check{SenderID: senderID, ReceiverID: receiverID, Amount: amount, Fee: fee, Status: models.CheckFailed, Memo: memo}
	if err := s.repo.CreateCheck(ctx, check); err != nil {
		s.log.Errorf("Failed to record failed check for user %d: %v", senderID, err)
	}
}

// GetCheck loads one check
func (s *Service) GetCheck(ctx context.Context, checkID int64) (*models.Check, error) {
	return s.repo.FindCheckByID(ctx, checkID)
}

// ChecksForUser lists checks the user sent or successfully received
func (s *Service) ChecksForUser(ctx context.Context, userID int64) ([]models.Check, error) {
	checks, err := s.repo.ChecksForUser(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}
	return checks, nil
}

// RedeemCheck claims a blank check for the given receiver and, if the claim
// wins, moves the digipogs with the stored single-use secret. The conditional
// claim is the whole concurrency story here: of N simultaneous attempts
// exactly one proceeds, the rest get a state conflict. The secret is cleared
// whether or not the transfer succeeds.
func (s *Service) RedeemCheck(ctx context.Context, checkID, receiverID int64) (*RedeemResult, error) {
	if receiverID < 1 {
		return nil, fmt.Errorf("%w: invalid receiver ID", common.ErrValidation)
	}

	check, err := s.repo.FindCheckByID(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if !check.Blank() || check.Status != models.CheckUncashed {
		return nil, fmt.Errorf("%w: check is not redeemable", common.ErrStateConflict)
	}

	claimed, err := s.repo.ClaimCheck(ctx, checkID, receiverID)
	if err != nil {
		return nil, storage(err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: check already redeemed by someone else", common.ErrStateConflict)
	}

	if check.RedemptionSecret == nil || *check.RedemptionSecret == "" {
		return nil, fmt.Errorf("%w: sender PIN was not stored; ask the sender to write a new check", common.ErrStateConflict)
	}
	pin, err := utils.DecryptSecret(*check.RedemptionSecret, s.encKey)
	if err != nil {
		s.log.Errorf("Failed to decrypt redemption secret for check %d: %v", checkID, err)
		return nil, fmt.Errorf("%w: stored PIN could not be recovered; ask the sender to write a new check", common.ErrStateConflict)
	}

	reason := fmt.Sprintf("Check #%d redemption", checkID)
	if check.Memo != "" {
		reason = fmt.Sprintf("Check #%d: %s", checkID, check.Memo)
	}
	transferErr := s.gateway.Transfer(ctx, formbar.TransferRequest{
		From:   check.SenderID,
		To:     receiverID,
		Amount: check.Amount,
		PIN:    pin,
		Reason: reason,
	})

	// Single use: wipe the secret no matter how the transfer went
	if err := s.repo.ClearCheckSecret(ctx, checkID); err != nil {
		s.log.Errorf("Failed to clear secret for check %d: %v", checkID, err)
	}
	status := models.CheckCompleted
	if transferErr != nil {
		status = models.CheckFailed
	}
	if err := s.repo.SetCheckStatus(ctx, checkID, status); err != nil {
		s.log.Errorf("Failed to set status for check %d: %v", checkID, err)
	}

	check.ReceiverID = &receiverID
	check.Status = status
	check.RedemptionSecret = nil

	result := &RedeemResult{Check: check, ReceiverID: receiverID, Success: transferErr == nil}
	if transferErr != nil {
		result.Failure = transferErr.Error()
		s.log.Warnf("Check %d claimed by user %d but the transfer failed: %v", checkID, receiverID, transferErr)
	} else {
		s.log.Infof("Check %d redeemed by user %d for %d digipogs", checkID, receiverID, check.Amount)
	}
	return result, nil
}
