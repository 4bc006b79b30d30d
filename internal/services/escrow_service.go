// internal/services/escrow_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/escrow"
	"github.com/javajoker/escrowpay/internal/models"
	"github.com/javajoker/escrowpay/internal/payments"
	"github.com/javajoker/escrowpay/internal/utils"
)

// EscrowService owns the EscrowTransaction records. Every transition is a
// single status-guarded write: "update only if the current status still
// equals the expected prior status". A concurrent writer observes its
// precondition fail and gets ErrConcurrentModification instead of silently
// overwriting another actor's change.
type EscrowService struct {
	db       *gorm.DB
	config   *config.Config
	provider payments.Provider
	clock    escrow.Clock
	notifier *NotificationService
}

type CreateEscrowRequest struct {
	OrderID        uuid.UUID         `json:"order_id" validate:"required"`
	SellerID       uuid.UUID         `json:"seller_id" validate:"required"`
	ItemAmount     int64             `json:"item_amount" validate:"min=0"`
	ShippingAmount int64             `json:"shipping_amount" validate:"min=0"`
	SellerTier     escrow.SellerTier `json:"seller_tier" validate:"required,seller_tier"`
}

// TransitionMetadata is the closed set of per-transition fields: shipping
// requires a tracking reference, cancellation requires the acting party.
type TransitionMetadata struct {
	ActorID     uuid.UUID
	TrackingRef string
}

// EligibilityReport bundles the three checker verdicts for one snapshot.
type EligibilityReport struct {
	CanRelease escrow.Eligibility `json:"can_release"`
	CanDispute escrow.Eligibility `json:"can_dispute"`
	CanCancel  escrow.Eligibility `json:"can_cancel"`
}

func NewEscrowService(db *gorm.DB, cfg *config.Config, provider payments.Provider, clock escrow.Clock, notifier *NotificationService) *EscrowService {
	return &EscrowService{
		db:       db,
		config:   cfg,
		provider: provider,
		clock:    clock,
		notifier: notifier,
	}
}

// CreateEscrow opens a transaction for a committed purchase. The fee
// breakdown and the hold period are computed exactly once here and persisted;
// later policy changes never alter existing orders.
func (s *EscrowService) CreateEscrow(buyerID uuid.UUID, req *CreateEscrowRequest) (*models.EscrowTransaction, error) {
	if buyerID == req.SellerID {
		return nil, errors.New("buyer and seller must be different users")
	}
	if !escrow.ValidTier(req.SellerTier) {
		return nil, fmt.Errorf("unknown seller tier %q", req.SellerTier)
	}

	breakdown, err := escrow.CalculateFees(req.ItemAmount, req.ShippingAmount, s.config.Escrow.FeePolicy())
	if err != nil {
		return nil, err
	}

	tx := &models.EscrowTransaction{
		OrderID:        req.OrderID,
		BuyerID:        buyerID,
		SellerID:       req.SellerID,
		ItemAmount:     breakdown.ItemAmount,
		ShippingAmount: breakdown.ShippingAmount,
		PlatformFee:    breakdown.PlatformFee,
		TotalAmount:    breakdown.TotalAmount,
		SellerPayout:   breakdown.SellerPayout,
		Status:         escrow.StatusPendingPayment,
		SellerTier:     req.SellerTier,
		EscrowDays:     s.config.Escrow.HoldPeriods().Days(req.SellerTier),
	}
	// stamp from the injected clock so the timeline orders correctly even
	// under a frozen test clock
	tx.CreatedAt = s.clock.Now()

	if err := s.db.Create(tx).Error; err != nil {
		return nil, fmt.Errorf("failed to create escrow transaction: %w", err)
	}

	return tx, nil
}

func (s *EscrowService) Get(transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	var tx models.EscrowTransaction
	if err := s.db.First(&tx, "id = ?", transactionID).Error; err != nil {
		return nil, fmt.Errorf("transaction not found: %w", err)
	}
	return &tx, nil
}

func (s *EscrowService) List(userID uuid.UUID, params utils.PaginationParams) ([]models.EscrowTransaction, int64, error) {
	query := s.db.Model(&models.EscrowTransaction{}).
		Where("buyer_id = ? OR seller_id = ?", userID, userID)

	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	allowedSortFields := []string{"created_at", "total_amount", "status"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var txs []models.EscrowTransaction
	if err := query.Find(&txs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	return txs, total, nil
}

// Eligibility evaluates all three checkers against the current snapshot.
func (s *EscrowService) Eligibility(tx *models.EscrowTransaction, actor escrow.Actor) EligibilityReport {
	snap := tx.Snapshot()
	now := s.clock.Now()
	return EligibilityReport{
		CanRelease: escrow.CanRelease(snap, now),
		CanDispute: escrow.CanDispute(snap, s.config.Escrow.DisputeWindowDays, now),
		CanCancel:  escrow.CanCancel(snap, actor),
	}
}

// GetTimeline projects the transaction's audit history.
func (s *EscrowService) GetTimeline(transactionID uuid.UUID) ([]escrow.Event, error) {
	tx, err := s.Get(transactionID)
	if err != nil {
		return nil, err
	}
	return escrow.Timeline(tx.Snapshot()), nil
}

// Transition applies a requested target status with its metadata. Opening a
// dispute goes through DisputeService instead so the dispute record is
// created atomically with the parent transition.
func (s *EscrowService) Transition(transactionID uuid.UUID, target escrow.Status, meta TransitionMetadata) (*models.EscrowTransaction, error) {
	switch target {
	case escrow.StatusPaymentHeld:
		return s.Pay(transactionID)
	case escrow.StatusShipped:
		return s.MarkShipped(transactionID, meta.ActorID, meta.TrackingRef)
	case escrow.StatusDelivered:
		return s.ConfirmDelivery(transactionID)
	case escrow.StatusReleased:
		return s.Release(transactionID)
	case escrow.StatusCancelled:
		return s.Cancel(transactionID, meta.ActorID)
	case escrow.StatusRefunded:
		return s.RefundHeld(transactionID)
	default:
		tx, err := s.Get(transactionID)
		if err != nil {
			return nil, err
		}
		return nil, &escrow.InvalidTransitionError{From: tx.Status, To: target}
	}
}

// Pay captures the buyer's payment and moves the transaction to
// payment_held. Replaying a "payment succeeded" event against a transaction
// already in payment_held is a no-op, because processors retry on timeout.
func (s *EscrowService) Pay(transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	tx, err := s.Get(transactionID)
	if err != nil {
		return nil, err
	}

	if tx.Status == escrow.StatusPaymentHeld {
		return tx, nil
	}
	if err := escrow.CheckTransition(tx.Status, escrow.StatusPaymentHeld); err != nil {
		return nil, err
	}

	chargeRef, err := s.provider.Charge(tx.BuyerID, tx.TotalAmount, chargeKey(tx.ID))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.casUpdate(tx.ID, escrow.StatusPendingPayment, map[string]interface{}{
		"status":           escrow.StatusPaymentHeld,
		"paid_at":          now,
		"charge_reference": chargeRef,
	})
	if err != nil {
		if errors.Is(err, escrow.ErrConcurrentModification) {
			return s.reconcileLostCharge(tx.ID, chargeRef, err)
		}
		return nil, err
	}

	updated, err := s.Get(tx.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.PaymentHeld(updated)
	return updated, nil
}

// reconcileLostCharge handles a captured charge whose status commit lost the
// race out of pending_payment. A replayed payment that committed payment_held
// holds the same idempotent charge, so the call succeeded. A cancel that won
// means the buyer was charged after the order died: the charge reference is
// persisted for the audit trail and the funds returned under the
// transaction's refund key, so nothing is stranded.
func (s *EscrowService) reconcileLostCharge(transactionID uuid.UUID, chargeRef string, casErr error) (*models.EscrowTransaction, error) {
	current, err := s.Get(transactionID)
	if err != nil {
		return nil, casErr
	}

	switch current.Status {
	case escrow.StatusPaymentHeld:
		return current, nil
	case escrow.StatusCancelled:
		if uerr := s.db.Model(&models.EscrowTransaction{}).
			Where("id = ?", transactionID).
			Update("charge_reference", chargeRef).Error; uerr != nil {
			return nil, fmt.Errorf("failed to record charge reference: %w", uerr)
		}
		if _, rerr := s.provider.Refund(chargeRef, current.TotalAmount, refundKey(transactionID)); rerr != nil {
			return nil, rerr
		}
		s.notifier.Refunded(current)
	}
	return nil, casErr
}

// MarkShipped records the seller's shipment. The tracking reference is a
// required transition field, not open metadata.
func (s *EscrowService) MarkShipped(transactionID, sellerID uuid.UUID, trackingRef string) (*models.EscrowTransaction, error) {
	tx, err := s.Get(transactionID)
	if err != nil {
		return nil, err
	}

	if tx.SellerID != sellerID {
		return nil, errors.New("only the seller can mark an order shipped")
	}
	if tx.Status == escrow.StatusShipped {
		return tx, nil
	}
	if err := escrow.CheckTransition(tx.Status, escrow.StatusShipped); err != nil {
		return nil, err
	}
	if trackingRef == "" {
		return nil, errors.New("tracking reference is required to mark shipped")
	}

	err = s.casUpdate(tx.ID, tx.Status, map[string]interface{}{
		"status":             escrow.StatusShipped,
		"shipped_at":         s.clock.Now(),
		"tracking_reference": trackingRef,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.Get(tx.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Shipped(updated)
	return updated, nil
}

// ConfirmDelivery records delivery and starts the escrow clock: the
// expiration is computed exactly once, here. When the hold period is zero
// the expiration stays null, signaling immediate release eligibility.
// Re-confirmation is a no-op to tolerate duplicate delivery webhooks.
func (s *EscrowService) ConfirmDelivery(transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	tx, err := s.Get(transactionID)
	if err != nil {
		return nil, err
	}

	if tx.Status == escrow.StatusDelivered {
		return tx, nil
	}
	if err := escrow.CheckTransition(tx.Status, escrow.StatusDelivered); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updates := map[string]interface{}{
		"status":       escrow.StatusDelivered,
		"delivered_at": now,
	}
	if tx.EscrowDays > 0 {
		updates["escrow_expires_at"] = now.Add(time.Duration(tx.EscrowDays) * 24 * time.Hour)
	}

	if err := s.casUpdate(tx.ID, tx.Status, updates); err != nil {
		return nil, err
	}

	updated, err := s.Get(tx.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Delivered(updated)
	return updated, nil
}

// Release pays out the seller once the hold period has elapsed, in three
// steps: mark intent, call out, commit. The payout claim is a status-guarded
// write that dispute opening checks, so a dispute cannot slip in between the
// transfer and the status commit. The transfer carries an idempotency key
// tied to the transaction id: a crash after the claim leaves the record in
// delivered, and the next attempt re-claims and retries the transfer safely.
func (s *EscrowService) Release(transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	tx, err := s.Get(transactionID)
	if err != nil {
		return nil, err
	}

	if e := escrow.CanRelease(tx.Snapshot(), s.clock.Now()); !e.Allowed {
		return nil, &escrow.NotEligibleError{Action: "release", Reason: e.Reason}
	}

	err = s.casUpdate(tx.ID, escrow.StatusDelivered, map[string]interface{}{
		"payout_claimed_at": s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	transferRef, err := s.provider.Transfer(tx.SellerID, tx.SellerPayout, tx.ChargeReference, transferKey(tx.ID))
	if err != nil {
		return nil, err
	}

	err = s.casUpdate(tx.ID, escrow.StatusDelivered, map[string]interface{}{
		"status":             escrow.StatusReleased,
		"released_at":        s.clock.Now(),
		"transfer_reference": transferRef,
	})
	if err != nil {
		if errors.Is(err, escrow.ErrConcurrentModification) {
			// past the claim the only way out of delivered is another
			// release committing the same idempotent transfer
			current, gerr := s.Get(tx.ID)
			if gerr == nil && current.Status == escrow.StatusReleased {
				return current, nil
			}
		}
		return nil, err
	}

	updated, err := s.Get(tx.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Released(updated)
	return updated, nil
}

// Cancel voids the transaction for the requesting party. Before payment
// capture this is a pure status change; after capture the charge is refunded
// in full. A buyer cancelling a shipped order is recorded as a refund, since
// the money (not the parcel) is what this engine tracks.
func (s *EscrowService) Cancel(transactionID, requestorID uuid.UUID) (*models.EscrowTransaction, error) {
	tx, err := s.Get(transactionID)
	if err != nil {
		return nil, err
	}

	actor := tx.Party(requestorID)
	if actor == "" {
		return nil, errors.New("only the buyer or seller can cancel")
	}
	if e := escrow.CanCancel(tx.Snapshot(), actor); !e.Allowed {
		return nil, &escrow.NotEligibleError{Action: "cancel", Reason: e.Reason}
	}

	now := s.clock.Now()
	switch tx.Status {
	case escrow.StatusPendingPayment:
		err = s.casUpdate(tx.ID, tx.Status, map[string]interface{}{
			"status":       escrow.StatusCancelled,
			"cancelled_at": now,
		})
	case escrow.StatusPaymentHeld:
		if _, rerr := s.provider.Refund(tx.ChargeReference, tx.TotalAmount, refundKey(tx.ID)); rerr != nil {
			return nil, rerr
		}
		err = s.casUpdate(tx.ID, tx.Status, map[string]interface{}{
			"status":       escrow.StatusCancelled,
			"cancelled_at": now,
		})
	case escrow.StatusShipped:
		// adjacency has no shipped -> cancelled edge; the buyer's remedy
		// is a full refund
		if _, rerr := s.provider.Refund(tx.ChargeReference, tx.TotalAmount, refundKey(tx.ID)); rerr != nil {
			return nil, rerr
		}
		err = s.casUpdate(tx.ID, tx.Status, map[string]interface{}{
			"status":      escrow.StatusRefunded,
			"refunded_at": now,
		})
	default:
		return nil, &escrow.InvalidTransitionError{From: tx.Status, To: escrow.StatusCancelled}
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.Get(tx.ID)
	if err != nil {
		return nil, err
	}
	if updated.Status == escrow.StatusRefunded {
		s.notifier.Refunded(updated)
	} else {
		s.notifier.Cancelled(updated)
	}
	return updated, nil
}

// RefundHeld returns the full amount to the buyer before delivery, the
// operator-driven remedy for a transaction stuck in payment_held or shipped.
func (s *EscrowService) RefundHeld(transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	tx, err := s.Get(transactionID)
	if err != nil {
		return nil, err
	}

	if tx.Status == escrow.StatusRefunded {
		return tx, nil
	}
	if err := escrow.CheckTransition(tx.Status, escrow.StatusRefunded); err != nil {
		return nil, err
	}
	if tx.Status == escrow.StatusDisputed {
		return nil, errors.New("disputed transactions are refunded through dispute resolution")
	}

	if _, err := s.provider.Refund(tx.ChargeReference, tx.TotalAmount, refundKey(tx.ID)); err != nil {
		return nil, err
	}

	err = s.casUpdate(tx.ID, tx.Status, map[string]interface{}{
		"status":      escrow.StatusRefunded,
		"refunded_at": s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.Get(tx.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Refunded(updated)
	return updated, nil
}

// casUpdate is the optimistic-concurrency write every transition goes
// through: it succeeds only if the stored status still equals expected.
func (s *EscrowService) casUpdate(transactionID uuid.UUID, expected escrow.Status, updates map[string]interface{}) error {
	result := s.db.Model(&models.EscrowTransaction{}).
		Where("id = ? AND status = ?", transactionID, expected).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update transaction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return escrow.ErrConcurrentModification
	}
	return nil
}

// Idempotency keys tied to the transaction id, so retried provider calls are
// applied at most once.
func chargeKey(id uuid.UUID) string   { return "escrow_charge_" + id.String() }
func transferKey(id uuid.UUID) string { return "escrow_transfer_" + id.String() }
func refundKey(id uuid.UUID) string   { return "escrow_refund_" + id.String() }
