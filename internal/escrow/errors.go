// internal/escrow/errors.go
package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects negative monetary input before any state change.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrConcurrentModification means the optimistic-concurrency precondition
	// failed; the caller must reload the transaction and retry.
	ErrConcurrentModification = errors.New("transaction was modified concurrently")

	// ErrInvalidResolution rejects a split refund amount outside (0, total).
	ErrInvalidResolution = errors.New("resolution amount out of range")

	// ErrAlreadyResolved rejects a second resolution of the same dispute.
	ErrAlreadyResolved = errors.New("dispute already resolved")
)

// InvalidTransitionError is returned when the target status is not reachable
// from the current status. The stored record is left unchanged.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// NotEligibleError carries the human-readable reason an eligibility checker
// returned false, so the UI can explain the wait instead of a generic failure.
type NotEligibleError struct {
	Action string
	Reason string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("%s not allowed: %s", e.Action, e.Reason)
}

// ProviderError wraps a failed call to the external payment processor with the
// idempotency key used, so the caller can retry the same operation safely.
type ProviderError struct {
	Op             string
	IdempotencyKey string
	Err            error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s failed (idempotency key %s): %v", e.Op, e.IdempotencyKey, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
