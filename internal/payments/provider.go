// internal/payments/provider.go
package payments

import "github.com/google/uuid"

// Provider is the opaque charge/transfer/refund capability implemented by the
// external payment processor. All amounts are integer cents. Every call takes
// an idempotency key tied to the transaction id so the caller can retry a
// timed-out call without double-moving money.
type Provider interface {
	// Charge authorizes and captures the buyer's payment, returning the
	// processor's reference for the charge.
	Charge(buyerID uuid.UUID, amount int64, idempotencyKey string) (string, error)

	// Transfer pays out the seller's share of a captured charge, returning
	// the processor's reference for the transfer.
	Transfer(sellerID uuid.UUID, amount int64, chargeRef, idempotencyKey string) (string, error)

	// Refund returns funds (full or partial) to the buyer against a prior
	// charge, returning the processor's reference for the refund.
	Refund(chargeRef string, amount int64, idempotencyKey string) (string, error)
}
