// internal/models/escrow.go
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/escrowpay/internal/escrow"
)

// EscrowTransaction is the canonical record of one held payment, one per
// order. Money fields are integer cents; total_amount == item + shipping and
// seller_payout == item - platform_fee always hold. It is mutated only
// through status-guarded transitions and becomes immutable in a terminal
// state.
type EscrowTransaction struct {
	BaseModel
	OrderID  uuid.UUID `json:"order_id" gorm:"type:uuid;not null;index"`
	BuyerID  uuid.UUID `json:"buyer_id" gorm:"type:uuid;not null;index"`
	SellerID uuid.UUID `json:"seller_id" gorm:"type:uuid;not null;index"`

	ItemAmount     int64 `json:"item_amount" gorm:"not null"`
	ShippingAmount int64 `json:"shipping_amount" gorm:"not null"`
	PlatformFee    int64 `json:"platform_fee" gorm:"not null"`
	TotalAmount    int64 `json:"total_amount" gorm:"not null"`
	SellerPayout   int64 `json:"seller_payout" gorm:"not null"`

	Status escrow.Status `json:"status" gorm:"type:varchar(20);not null;default:'pending_payment';index"`

	// EscrowDays is resolved once from the seller tier at creation and never
	// changed. EscrowExpiresAt is set upon delivery confirmation; it stays
	// null when EscrowDays is zero, signaling immediate eligibility.
	SellerTier      escrow.SellerTier `json:"seller_tier" gorm:"type:varchar(20);not null"`
	EscrowDays      int               `json:"escrow_days" gorm:"not null"`
	EscrowExpiresAt *time.Time        `json:"escrow_expires_at" gorm:"index"`

	ChargeReference   string `json:"charge_reference,omitempty" gorm:"size:255"`
	TransferReference string `json:"transfer_reference,omitempty" gorm:"size:255"`
	TrackingReference string `json:"tracking_reference,omitempty" gorm:"size:255"`

	// PayoutClaimedAt marks a payout in flight: stamped before the transfer
	// call, and checked by dispute opening so the two cannot interleave.
	PayoutClaimedAt *time.Time `json:"payout_claimed_at,omitempty"`

	// Lifecycle timestamps: set when the corresponding event occurs, never
	// cleared. This is the audit trail the timeline is built from.
	PaidAt      *time.Time `json:"paid_at"`
	ShippedAt   *time.Time `json:"shipped_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	DisputedAt  *time.Time `json:"disputed_at"`
	ReleasedAt  *time.Time `json:"released_at"`
	RefundedAt  *time.Time `json:"refunded_at"`
	CancelledAt *time.Time `json:"cancelled_at"`

	DisputeID *uuid.UUID `json:"dispute_id,omitempty" gorm:"type:uuid"`
}

func (EscrowTransaction) TableName() string {
	return "escrow_transactions"
}

// Snapshot projects the record into the read-only view the pure checkers and
// the timeline builder consume.
func (t *EscrowTransaction) Snapshot() escrow.Snapshot {
	return escrow.Snapshot{
		Status:          t.Status,
		EscrowDays:      t.EscrowDays,
		EscrowExpiresAt: t.EscrowExpiresAt,
		CreatedAt:       t.CreatedAt,
		PaidAt:          t.PaidAt,
		ShippedAt:       t.ShippedAt,
		DeliveredAt:     t.DeliveredAt,
		DisputedAt:      t.DisputedAt,
		ReleasedAt:      t.ReleasedAt,
		RefundedAt:      t.RefundedAt,
		CancelledAt:     t.CancelledAt,
	}
}

// Party classifies a user against this transaction, or "" for outsiders.
func (t *EscrowTransaction) Party(userID uuid.UUID) escrow.Actor {
	switch userID {
	case t.BuyerID:
		return escrow.ActorBuyer
	case t.SellerID:
		return escrow.ActorSeller
	}
	return ""
}
