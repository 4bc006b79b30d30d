// internal/escrow/timeline.go
package escrow

import (
	"fmt"
	"sort"
	"time"
)

// Event is one entry in a transaction's audit timeline.
type Event struct {
	Name        string    `json:"event"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// Timeline assembles the chronologically ordered history of a transaction
// from its timestamp fields. It is a pure projection: it never mutates the
// snapshot and may be called any number of times.
func Timeline(s Snapshot) []Event {
	events := []Event{{
		Name:        "created",
		Timestamp:   s.CreatedAt,
		Description: "escrow transaction created, awaiting payment",
	}}

	add := func(ts *time.Time, name, description string) {
		if ts != nil {
			events = append(events, Event{Name: name, Timestamp: *ts, Description: description})
		}
	}

	add(s.PaidAt, "payment_held", "buyer's payment captured and held in escrow")
	add(s.ShippedAt, "shipped", "seller marked the order as shipped")
	add(s.DeliveredAt, "delivered", "delivery confirmed")
	if s.DeliveredAt != nil && s.EscrowDays > 0 {
		add(s.DeliveredAt, "escrow_started",
			fmt.Sprintf("funds held for %d day(s) before release", s.EscrowDays))
	}
	add(s.DisputedAt, "disputed", "a dispute was opened")
	add(s.ReleasedAt, "released", "funds released to the seller")
	add(s.RefundedAt, "refunded", "funds returned to the buyer")
	add(s.CancelledAt, "cancelled", "transaction cancelled")

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}
