// internal/services/notification_service.go
package services

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/models"
)

// NotificationService records escrow lifecycle events for delivery by the
// platform's notification system. Recording is best-effort and asynchronous;
// it never blocks or fails a transition.
type NotificationService struct {
	db     *gorm.DB
	config *config.Config
}

func NewNotificationService(db *gorm.DB, cfg *config.Config) *NotificationService {
	return &NotificationService{
		db:     db,
		config: cfg,
	}
}

func (s *NotificationService) record(recipientID uuid.UUID, tx *models.EscrowTransaction, eventType, title, message string) {
	notification := &models.EscrowNotification{
		RecipientID: recipientID,
		EscrowID:    tx.ID,
		Type:        eventType,
		Title:       title,
		Message:     message,
		Data: models.JSONB{
			"order_id":     tx.OrderID.String(),
			"total_amount": tx.TotalAmount,
			"status":       string(tx.Status),
		},
	}

	go func() {
		if err := s.db.Create(notification).Error; err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"recipient_id": recipientID,
				"type":         eventType,
			}).Error("Failed to record escrow notification")
		}
	}()
}

func (s *NotificationService) PaymentHeld(tx *models.EscrowTransaction) {
	s.record(tx.SellerID, tx, "escrow.payment_held", "Payment received",
		fmt.Sprintf("Payment of %d cents is held in escrow for order %s. Ship the order to proceed.", tx.TotalAmount, tx.OrderID))
}

func (s *NotificationService) Shipped(tx *models.EscrowTransaction) {
	s.record(tx.BuyerID, tx, "escrow.shipped", "Order shipped",
		fmt.Sprintf("Your order %s has shipped (tracking %s).", tx.OrderID, tx.TrackingReference))
}

func (s *NotificationService) Delivered(tx *models.EscrowTransaction) {
	if tx.EscrowDays > 0 {
		s.record(tx.BuyerID, tx, "escrow.delivered", "Delivery confirmed",
			fmt.Sprintf("Order %s delivered. Funds release to the seller in %d day(s) unless you open a dispute.", tx.OrderID, tx.EscrowDays))
	} else {
		s.record(tx.BuyerID, tx, "escrow.delivered", "Delivery confirmed",
			fmt.Sprintf("Order %s delivered. Funds are eligible for release.", tx.OrderID))
	}
	s.record(tx.SellerID, tx, "escrow.delivered", "Delivery confirmed",
		fmt.Sprintf("Order %s was delivered to the buyer.", tx.OrderID))
}

func (s *NotificationService) Released(tx *models.EscrowTransaction) {
	s.record(tx.SellerID, tx, "escrow.released", "Funds released",
		fmt.Sprintf("Payout of %d cents for order %s has been released.", tx.SellerPayout, tx.OrderID))
}

func (s *NotificationService) Refunded(tx *models.EscrowTransaction) {
	s.record(tx.BuyerID, tx, "escrow.refunded", "Refund issued",
		fmt.Sprintf("Your payment for order %s has been refunded.", tx.OrderID))
}

func (s *NotificationService) Cancelled(tx *models.EscrowTransaction) {
	s.record(tx.BuyerID, tx, "escrow.cancelled", "Order cancelled",
		fmt.Sprintf("Order %s was cancelled.", tx.OrderID))
	s.record(tx.SellerID, tx, "escrow.cancelled", "Order cancelled",
		fmt.Sprintf("Order %s was cancelled.", tx.OrderID))
}

func (s *NotificationService) DisputeOpened(tx *models.EscrowTransaction, dispute *models.EscrowDispute) {
	other := tx.SellerID
	if dispute.OpenedBy == tx.SellerID {
		other = tx.BuyerID
	}
	s.record(other, tx, "escrow.dispute_opened", "Dispute opened",
		fmt.Sprintf("A dispute (%s) was opened on order %s.", dispute.Reason, tx.OrderID))
}

func (s *NotificationService) DisputeResolved(tx *models.EscrowTransaction, dispute *models.EscrowDispute, outcome models.DisputeStatus) {
	message := fmt.Sprintf("The dispute on order %s was resolved: %s.", tx.OrderID, outcome)
	s.record(tx.BuyerID, tx, "escrow.dispute_resolved", "Dispute resolved", message)
	s.record(tx.SellerID, tx, "escrow.dispute_resolved", "Dispute resolved", message)
}
