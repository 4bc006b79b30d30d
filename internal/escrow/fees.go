// internal/escrow/fees.go
package escrow

import (
	"fmt"
	"math"
)

// FeePolicy is the platform's fee schedule. All absolute amounts are integer
// minor-currency units (cents).
type FeePolicy struct {
	Percent float64
	MinFee  int64
	MaxFee  int64
}

// FeeBreakdown is the persisted money split for one transaction. It is
// computed exactly once at creation time; later policy changes never
// retroactively alter existing orders.
type FeeBreakdown struct {
	ItemAmount     int64 `json:"item_amount"`
	ShippingAmount int64 `json:"shipping_amount"`
	PlatformFee    int64 `json:"platform_fee"`
	TotalAmount    int64 `json:"total_amount"`
	SellerPayout   int64 `json:"seller_payout"`
}

// CalculateFees converts an item price and shipping cost into a platform fee
// and seller payout. Shipping is never subject to the platform fee. A zero
// item amount (gift/giveaway listing) forces the fee to zero regardless of
// the policy minimum.
func CalculateFees(itemAmount, shippingAmount int64, policy FeePolicy) (FeeBreakdown, error) {
	if itemAmount < 0 {
		return FeeBreakdown{}, fmt.Errorf("%w: item amount %d", ErrInvalidAmount, itemAmount)
	}
	if shippingAmount < 0 {
		return FeeBreakdown{}, fmt.Errorf("%w: shipping amount %d", ErrInvalidAmount, shippingAmount)
	}

	var fee int64
	if itemAmount > 0 {
		fee = int64(math.Round(float64(itemAmount) * policy.Percent / 100))
		if fee < policy.MinFee {
			fee = policy.MinFee
		}
		if fee > policy.MaxFee {
			fee = policy.MaxFee
		}
	}

	return FeeBreakdown{
		ItemAmount:     itemAmount,
		ShippingAmount: shippingAmount,
		PlatformFee:    fee,
		TotalAmount:    itemAmount + shippingAmount,
		SellerPayout:   itemAmount - fee,
	}, nil
}

// SplitPayout computes the seller's share of a split dispute resolution: the
// remainder after the partial refund, net of the already-deducted platform
// fee, floored at zero. The refund must be strictly between 0 and total.
func SplitPayout(total, refund, platformFee int64) (int64, error) {
	if refund <= 0 || refund >= total {
		return 0, fmt.Errorf("%w: refund %d must be strictly between 0 and %d", ErrInvalidResolution, refund, total)
	}
	payout := total - refund - platformFee
	if payout < 0 {
		payout = 0
	}
	return payout, nil
}
