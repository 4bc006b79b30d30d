// internal/escrow/status.go
package escrow

// Status is the lifecycle state of an escrow transaction.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaymentHeld    Status = "payment_held"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusDisputed       Status = "disputed"
	StatusReleased       Status = "released"
	StatusRefunded       Status = "refunded"
	StatusCancelled      Status = "cancelled"
)

// transitions is the full adjacency table. A transition not present here is
// rejected with InvalidTransitionError and leaves the record unchanged.
var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusPaymentHeld, StatusCancelled},
	StatusPaymentHeld:    {StatusShipped, StatusRefunded, StatusDisputed, StatusCancelled},
	StatusShipped:        {StatusDelivered, StatusDisputed, StatusRefunded},
	StatusDelivered:      {StatusReleased, StatusDisputed},
	StatusDisputed:       {StatusRefunded, StatusReleased},
	StatusReleased:       {},
	StatusRefunded:       {},
	StatusCancelled:      {},
}

// CanTransition reports whether target is reachable from current.
func CanTransition(current, target Status) bool {
	for _, s := range transitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// CheckTransition validates a requested transition against the table.
func CheckTransition(current, target Status) error {
	if !CanTransition(current, target) {
		return &InvalidTransitionError{From: current, To: target}
	}
	return nil
}

// IsTerminal reports whether no further transition can succeed from s.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// ValidStatus reports whether s is one of the enumerated states.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// Statuses returns all enumerated states, useful for validation messages.
func Statuses() []Status {
	out := make([]Status, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	return out
}
