// internal/services/dispute_service.go
package services

import (
	"errors"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/database"
	"github.com/javajoker/escrowpay/internal/escrow"
	"github.com/javajoker/escrowpay/internal/models"
	"github.com/javajoker/escrowpay/internal/payments"
)

// DisputeService runs the secondary state machine attached to an escrow
// transaction. Opening a dispute transitions the parent to disputed
// atomically with dispute creation; resolution is a single terminal
// operation.
type DisputeService struct {
	db       *gorm.DB
	config   *config.Config
	provider payments.Provider
	clock    escrow.Clock
	storage  *StorageService
	notifier *NotificationService
}

type OpenDisputeRequest struct {
	Reason      models.DisputeReason `json:"reason" validate:"required"`
	Description string               `json:"description" validate:"required"`
	Evidence    []string             `json:"evidence,omitempty"`
}

type ResolveDisputeRequest struct {
	Outcome      models.ResolutionOutcome `json:"outcome" validate:"required"`
	Notes        string                   `json:"notes"`
	RefundAmount *int64                   `json:"refund_amount,omitempty"`
}

func NewDisputeService(db *gorm.DB, cfg *config.Config, provider payments.Provider, clock escrow.Clock, storage *StorageService, notifier *NotificationService) *DisputeService {
	return &DisputeService{
		db:       db,
		config:   cfg,
		provider: provider,
		clock:    clock,
		storage:  storage,
		notifier: notifier,
	}
}

func (s *DisputeService) Get(disputeID uuid.UUID) (*models.EscrowDispute, error) {
	var dispute models.EscrowDispute
	if err := s.db.Preload("Escrow").First(&dispute, "id = ?", disputeID).Error; err != nil {
		return nil, fmt.Errorf("dispute not found: %w", err)
	}
	return &dispute, nil
}

// OpenDispute creates the dispute and moves the parent to disputed in one
// database transaction: both succeed or both fail.
func (s *DisputeService) OpenDispute(transactionID, openerID uuid.UUID, req *OpenDisputeRequest) (*models.EscrowDispute, error) {
	var tx models.EscrowTransaction
	if err := s.db.First(&tx, "id = ?", transactionID).Error; err != nil {
		return nil, fmt.Errorf("transaction not found: %w", err)
	}

	if tx.Party(openerID) == "" {
		return nil, errors.New("only the buyer or seller can open a dispute")
	}
	if !models.ValidDisputeReason(req.Reason) {
		return nil, fmt.Errorf("unknown dispute reason %q", req.Reason)
	}

	now := s.clock.Now()
	if e := escrow.CanDispute(tx.Snapshot(), s.config.Escrow.DisputeWindowDays, now); !e.Allowed {
		return nil, &escrow.NotEligibleError{Action: "dispute", Reason: e.Reason}
	}

	dispute := &models.EscrowDispute{
		EscrowID:    tx.ID,
		OpenedBy:    openerID,
		Reason:      req.Reason,
		Description: req.Description,
		Evidence:    models.StringList(req.Evidence),
		Status:      models.DisputeStatusOpen,
	}
	dispute.ID = uuid.New()

	err := database.WithTransaction(s.db, func(dbtx *gorm.DB) error {
		// payout_claimed_at guards the release window: once a payout is in
		// flight the dispute loses the race instead of refunding on top of
		// a completed transfer
		result := dbtx.Model(&models.EscrowTransaction{}).
			Where("id = ? AND status = ? AND payout_claimed_at IS NULL", tx.ID, tx.Status).
			Updates(map[string]interface{}{
				"status":      escrow.StatusDisputed,
				"disputed_at": now,
				"dispute_id":  dispute.ID,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update transaction: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return escrow.ErrConcurrentModification
		}
		return dbtx.Create(dispute).Error
	})
	if err != nil {
		return nil, err
	}

	s.notifier.DisputeOpened(&tx, dispute)
	return dispute, nil
}

// StartReview moves an open dispute under review.
func (s *DisputeService) StartReview(disputeID, reviewerID uuid.UUID) (*models.EscrowDispute, error) {
	dispute, err := s.Get(disputeID)
	if err != nil {
		return nil, err
	}

	if dispute.Resolved() {
		return nil, escrow.ErrAlreadyResolved
	}
	if dispute.Status == models.DisputeStatusUnderReview {
		return dispute, nil
	}

	result := s.db.Model(&models.EscrowDispute{}).
		Where("id = ? AND status = ?", disputeID, models.DisputeStatusOpen).
		Updates(map[string]interface{}{
			"status":      models.DisputeStatusUnderReview,
			"reviewed_by": reviewerID,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, escrow.ErrConcurrentModification
	}

	return s.Get(disputeID)
}

// AddEvidence uploads a file to evidence storage and appends its key to the
// dispute. Only participants may add evidence, and only before resolution.
func (s *DisputeService) AddEvidence(disputeID, uploaderID uuid.UUID, file multipart.File, header *multipart.FileHeader) (*models.EscrowDispute, error) {
	dispute, err := s.Get(disputeID)
	if err != nil {
		return nil, err
	}

	if dispute.Resolved() {
		return nil, escrow.ErrAlreadyResolved
	}
	if dispute.Escrow == nil || dispute.Escrow.Party(uploaderID) == "" {
		return nil, errors.New("only the buyer or seller can add evidence")
	}

	upload, err := s.storage.UploadEvidence(disputeID, file, header)
	if err != nil {
		return nil, err
	}

	evidence := append(dispute.Evidence, upload.Key)
	result := s.db.Model(&models.EscrowDispute{}).
		Where("id = ? AND status = ?", disputeID, dispute.Status).
		Update("evidence", evidence)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, escrow.ErrConcurrentModification
	}

	return s.Get(disputeID)
}

// ResolveDispute applies the terminal verdict in three steps: claim the
// dispute for this resolver, move the money under idempotency keys tied to
// the escrow id, then commit the dispute and its parent together. The claim
// is what keeps two admins from both passing the resolved pre-check and
// issuing opposite disbursements; the loser fails before any provider call.
// A crash after the claim is safe: the same resolver retries and the keys
// dedupe the movement.
func (s *DisputeService) ResolveDispute(disputeID, resolverID uuid.UUID, req *ResolveDisputeRequest) (*models.EscrowTransaction, error) {
	dispute, err := s.Get(disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Resolved() {
		return nil, escrow.ErrAlreadyResolved
	}
	if dispute.Escrow == nil {
		return nil, errors.New("dispute has no parent transaction")
	}

	tx := dispute.Escrow
	if tx.Status != escrow.StatusDisputed {
		return nil, &escrow.InvalidTransitionError{From: tx.Status, To: escrow.StatusDisputed}
	}

	disputeStatus, ok := req.Outcome.DisputeStatus()
	if !ok {
		return nil, fmt.Errorf("unknown resolution outcome %q", req.Outcome)
	}

	var sellerShare int64
	if req.Outcome == models.ResolutionSplit {
		if req.RefundAmount == nil {
			return nil, fmt.Errorf("%w: split resolution requires a refund amount", escrow.ErrInvalidResolution)
		}
		share, err := escrow.SplitPayout(tx.TotalAmount, *req.RefundAmount, tx.PlatformFee)
		if err != nil {
			return nil, err
		}
		sellerShare = share
	}

	now := s.clock.Now()
	if err := s.claimResolution(disputeID, resolverID, now); err != nil {
		return nil, err
	}

	disputeUpdates := map[string]interface{}{
		"status":           disputeStatus,
		"resolved_by":      resolverID,
		"resolution_notes": req.Notes,
		"resolved_at":      now,
	}
	parentUpdates := map[string]interface{}{}

	switch req.Outcome {
	case models.ResolutionFavorBuyer:
		// full total returned to the buyer
		if _, err := s.provider.Refund(tx.ChargeReference, tx.TotalAmount, disputeRefundKey(tx.ID)); err != nil {
			return nil, err
		}
		parentUpdates["status"] = escrow.StatusRefunded
		parentUpdates["refunded_at"] = now

	case models.ResolutionFavorSeller:
		// full seller payout transferred
		transferRef, err := s.provider.Transfer(tx.SellerID, tx.SellerPayout, tx.ChargeReference, disputeTransferKey(tx.ID))
		if err != nil {
			return nil, err
		}
		parentUpdates["status"] = escrow.StatusReleased
		parentUpdates["released_at"] = now
		parentUpdates["transfer_reference"] = transferRef

	case models.ResolutionSplit:
		if _, err := s.provider.Refund(tx.ChargeReference, *req.RefundAmount, disputeRefundKey(tx.ID)); err != nil {
			return nil, err
		}
		if sellerShare > 0 {
			transferRef, err := s.provider.Transfer(tx.SellerID, sellerShare, tx.ChargeReference, disputeTransferKey(tx.ID))
			if err != nil {
				return nil, err
			}
			parentUpdates["transfer_reference"] = transferRef
		}

		disputeUpdates["refund_amount"] = *req.RefundAmount
		parentUpdates["status"] = escrow.StatusReleased
		parentUpdates["released_at"] = now
	}

	err = database.WithTransaction(s.db, func(dbtx *gorm.DB) error {
		result := dbtx.Model(&models.EscrowTransaction{}).
			Where("id = ? AND status = ?", tx.ID, escrow.StatusDisputed).
			Updates(parentUpdates)
		if result.Error != nil {
			return fmt.Errorf("failed to update transaction: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return escrow.ErrConcurrentModification
		}

		result = dbtx.Model(&models.EscrowDispute{}).
			Where("id = ? AND status IN ?", disputeID, []models.DisputeStatus{models.DisputeStatusOpen, models.DisputeStatusUnderReview}).
			Updates(disputeUpdates)
		if result.Error != nil {
			return fmt.Errorf("failed to update dispute: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return escrow.ErrAlreadyResolved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var updated models.EscrowTransaction
	if err := s.db.First(&updated, "id = ?", tx.ID).Error; err != nil {
		return nil, fmt.Errorf("transaction not found: %w", err)
	}
	s.notifier.DisputeResolved(&updated, dispute, disputeStatus)
	return &updated, nil
}

// claimResolution stamps the resolver on an unresolved, unclaimed dispute.
// The guard admits a retry by the same resolver, so a crash between claim and
// commit stays recoverable, but a competing resolver fails here with nothing
// disbursed.
func (s *DisputeService) claimResolution(disputeID, resolverID uuid.UUID, now time.Time) error {
	result := s.db.Model(&models.EscrowDispute{}).
		Where("id = ? AND status IN ? AND (resolution_claimed_at IS NULL OR resolution_claimed_by = ?)",
			disputeID, []models.DisputeStatus{models.DisputeStatusOpen, models.DisputeStatusUnderReview}, resolverID).
		Updates(map[string]interface{}{
			"resolution_claimed_by": resolverID,
			"resolution_claimed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to claim dispute: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		current, err := s.Get(disputeID)
		if err == nil && current.Resolved() {
			return escrow.ErrAlreadyResolved
		}
		return escrow.ErrConcurrentModification
	}
	return nil
}

func disputeRefundKey(id uuid.UUID) string   { return "dispute_refund_" + id.String() }
func disputeTransferKey(id uuid.UUID) string { return "dispute_transfer_" + id.String() }
