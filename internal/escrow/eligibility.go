// internal/escrow/eligibility.go
package escrow

import (
	"fmt"
	"math"
	"time"
)

// Snapshot is a read-only view of one escrow transaction, sufficient for the
// eligibility checkers and the timeline builder. Checkers consult only the
// snapshot and the arguments passed in, never hidden global state.
type Snapshot struct {
	Status          Status
	EscrowDays      int
	EscrowExpiresAt *time.Time

	CreatedAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	DisputedAt  *time.Time
	ReleasedAt  *time.Time
	RefundedAt  *time.Time
	CancelledAt *time.Time
}

// Actor identifies which party is requesting an action.
type Actor string

const (
	ActorBuyer  Actor = "buyer"
	ActorSeller Actor = "seller"
)

// Eligibility is a checker verdict plus a human-readable reason when false.
type Eligibility struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allowed() Eligibility {
	return Eligibility{Allowed: true}
}

func blocked(format string, args ...interface{}) Eligibility {
	return Eligibility{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// CanRelease reports whether funds may be released to the seller right now.
func CanRelease(s Snapshot, now time.Time) Eligibility {
	switch s.Status {
	case StatusReleased:
		return blocked("funds have already been released")
	case StatusRefunded:
		return blocked("transaction was refunded")
	case StatusCancelled:
		return blocked("transaction was cancelled")
	case StatusDisputed:
		return blocked("an open dispute blocks release")
	}
	if s.Status != StatusDelivered {
		return blocked("delivery has not been confirmed (status %s)", s.Status)
	}
	if s.EscrowExpiresAt != nil && s.EscrowExpiresAt.After(now) {
		return blocked("escrow period: %s", remainingString(*s.EscrowExpiresAt, now))
	}
	return allowed()
}

// CanDispute reports whether a dispute may still be opened. After delivery
// the buyer has disputeWindowDays to contest before the window closes.
func CanDispute(s Snapshot, disputeWindowDays int, now time.Time) Eligibility {
	switch s.Status {
	case StatusReleased:
		return blocked("funds have already been released")
	case StatusRefunded:
		return blocked("transaction was refunded")
	case StatusCancelled:
		return blocked("transaction was cancelled")
	case StatusDisputed:
		return blocked("a dispute is already open")
	case StatusPendingPayment:
		return blocked("payment has not been captured yet")
	}
	if s.Status == StatusDelivered && s.DeliveredAt != nil {
		deadline := s.DeliveredAt.Add(time.Duration(disputeWindowDays) * 24 * time.Hour)
		if now.After(deadline) {
			return blocked("dispute window of %d day(s) after delivery has passed", disputeWindowDays)
		}
	}
	return allowed()
}

// CanCancel reports whether actor may cancel. Sellers may not cancel once the
// order has shipped; buyers retain other remedies via dispute.
func CanCancel(s Snapshot, actor Actor) Eligibility {
	switch s.Status {
	case StatusDelivered:
		return blocked("order has been delivered")
	case StatusReleased:
		return blocked("funds have already been released")
	case StatusRefunded:
		return blocked("transaction was refunded")
	case StatusCancelled:
		return blocked("transaction was already cancelled")
	case StatusDisputed:
		return blocked("an open dispute blocks cancellation")
	}
	if s.Status == StatusShipped && actor == ActorSeller {
		return blocked("sellers may not cancel after shipping")
	}
	return allowed()
}

// remainingString renders the time left until the given instant, in hours
// when under a day and in whole days (rounded up from hours) otherwise.
func remainingString(until, now time.Time) string {
	hours := int(math.Ceil(until.Sub(now).Hours()))
	if hours < 1 {
		hours = 1
	}
	if hours < 24 {
		return fmt.Sprintf("%d hour(s) remaining", hours)
	}
	days := (hours + 23) / 24
	return fmt.Sprintf("%d day(s) remaining", days)
}
