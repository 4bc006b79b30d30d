// internal/models/dispute.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type DisputeReason string

const (
	DisputeReasonNotReceived    DisputeReason = "not_received"
	DisputeReasonNotAsDescribed DisputeReason = "not_as_described"
	DisputeReasonDamaged        DisputeReason = "damaged"
	DisputeReasonCounterfeit    DisputeReason = "counterfeit"
	DisputeReasonWrongItem      DisputeReason = "wrong_item"
	DisputeReasonOther          DisputeReason = "other"
)

func ValidDisputeReason(r DisputeReason) bool {
	switch r {
	case DisputeReasonNotReceived, DisputeReasonNotAsDescribed, DisputeReasonDamaged,
		DisputeReasonCounterfeit, DisputeReasonWrongItem, DisputeReasonOther:
		return true
	}
	return false
}

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusFavorBuyer  DisputeStatus = "resolved_favor_buyer"
	DisputeStatusFavorSeller DisputeStatus = "resolved_favor_seller"
	DisputeStatusSplit       DisputeStatus = "resolved_split"
)

// ResolutionOutcome is the terminal verdict of a dispute.
type ResolutionOutcome string

const (
	ResolutionFavorBuyer  ResolutionOutcome = "favor_buyer"
	ResolutionFavorSeller ResolutionOutcome = "favor_seller"
	ResolutionSplit       ResolutionOutcome = "split"
)

// DisputeStatus maps an outcome to the dispute's terminal status.
func (o ResolutionOutcome) DisputeStatus() (DisputeStatus, bool) {
	switch o {
	case ResolutionFavorBuyer:
		return DisputeStatusFavorBuyer, true
	case ResolutionFavorSeller:
		return DisputeStatusFavorSeller, true
	case ResolutionSplit:
		return DisputeStatusSplit, true
	}
	return "", false
}

// EscrowDispute is the secondary state machine attached to an escrow
// transaction: zero or one per transaction, resolved exactly once.
type EscrowDispute struct {
	BaseModel
	EscrowID uuid.UUID `json:"escrow_id" gorm:"type:uuid;not null;uniqueIndex"`
	OpenedBy uuid.UUID `json:"opened_by" gorm:"type:uuid;not null"`

	Reason      DisputeReason `json:"reason" gorm:"type:varchar(20);not null"`
	Description string        `json:"description" gorm:"type:text"`
	Evidence    StringList    `json:"evidence" gorm:"type:text"`

	Status DisputeStatus `json:"status" gorm:"type:varchar(30);not null;default:'open';index"`

	// ReviewedBy is the admin who took the dispute under review. The resolver
	// is recorded separately when a verdict lands.
	ReviewedBy *uuid.UUID `json:"reviewed_by,omitempty" gorm:"type:uuid"`

	// Resolution claim, stamped before any money moves so a competing
	// resolver fails its claim instead of issuing a second disbursement.
	ResolutionClaimedBy *uuid.UUID `json:"resolution_claimed_by,omitempty" gorm:"type:uuid"`
	ResolutionClaimedAt *time.Time `json:"resolution_claimed_at,omitempty"`

	// Resolution fields, set exactly once. RefundAmount is only present for
	// the split outcome and is strictly between 0 and the parent's total.
	ResolvedBy      *uuid.UUID `json:"resolved_by,omitempty" gorm:"type:uuid"`
	ResolutionNotes string     `json:"resolution_notes,omitempty" gorm:"type:text"`
	RefundAmount    *int64     `json:"refund_amount,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`

	Escrow *EscrowTransaction `json:"escrow,omitempty" gorm:"foreignKey:EscrowID"`
}

func (EscrowDispute) TableName() string {
	return "escrow_disputes"
}

// Resolved reports whether the dispute has reached a terminal status.
func (d *EscrowDispute) Resolved() bool {
	switch d.Status {
	case DisputeStatusFavorBuyer, DisputeStatusFavorSeller, DisputeStatusSplit:
		return true
	}
	return false
}

// EscrowNotification records a lifecycle event for delivery by the external
// notification collaborator. Recording never blocks a transition.
type EscrowNotification struct {
	BaseModel
	RecipientID uuid.UUID  `json:"recipient_id" gorm:"type:uuid;not null;index"`
	EscrowID    uuid.UUID  `json:"escrow_id" gorm:"type:uuid;not null;index"`
	Type        string     `json:"type" gorm:"size:50;not null"`
	Title       string     `json:"title" gorm:"size:255;not null"`
	Message     string     `json:"message" gorm:"type:text"`
	Data        JSONB      `json:"data,omitempty" gorm:"type:text"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

func (EscrowNotification) TableName() string {
	return "escrow_notifications"
}
