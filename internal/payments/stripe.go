// internal/payments/stripe.go
package payments

import (
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"
	"github.com/stripe/stripe-go/v74/transfer"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/escrow"
)

// StripeProvider moves money through Stripe: PaymentIntents for buyer
// charges, Transfers for seller payouts, Refunds for returns.
type StripeProvider struct {
	config *config.Config
}

func NewStripeProvider(cfg *config.Config) *StripeProvider {
	// Initialize Stripe
	stripe.Key = cfg.Payment.StripeSecretKey

	return &StripeProvider{config: cfg}
}

func (p *StripeProvider) Charge(buyerID uuid.UUID, amount int64, idempotencyKey string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:                    stripe.Int64(amount),
		Currency:                  stripe.String(string(stripe.CurrencyUSD)),
		Confirm:                   stripe.Bool(true),
		StatementDescriptorSuffix: stripe.String(p.config.Payment.StatementLabel),
	}
	params.AddMetadata("buyer_id", buyerID.String())
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", &escrow.ProviderError{Op: "charge", IdempotencyKey: idempotencyKey, Err: err}
	}

	return pi.ID, nil
}

func (p *StripeProvider) Transfer(sellerID uuid.UUID, amount int64, chargeRef, idempotencyKey string) (string, error) {
	params := &stripe.TransferParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		// Sellers are onboarded as connected accounts keyed by their
		// platform user id.
		Destination: stripe.String(sellerID.String()),
	}
	params.AddMetadata("charge_reference", chargeRef)
	params.SetIdempotencyKey(idempotencyKey)

	tr, err := transfer.New(params)
	if err != nil {
		return "", &escrow.ProviderError{Op: "transfer", IdempotencyKey: idempotencyKey, Err: err}
	}

	return tr.ID, nil
}

func (p *StripeProvider) Refund(chargeRef string, amount int64, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(chargeRef),
		Amount:        stripe.Int64(amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.SetIdempotencyKey(idempotencyKey)

	r, err := refund.New(params)
	if err != nil {
		return "", &escrow.ProviderError{Op: "refund", IdempotencyKey: idempotencyKey, Err: err}
	}

	return r.ID, nil
}
