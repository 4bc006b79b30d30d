// internal/escrow/tiers.go
package escrow

// SellerTier is a seller's trust level. Higher trust means a shorter hold
// on funds after delivery.
type SellerTier string

const (
	TierUnverified SellerTier = "unverified"
	TierBasic      SellerTier = "basic"
	TierVerified   SellerTier = "verified"
	TierTrusted    SellerTier = "trusted"
)

// HoldPeriods maps seller tiers to the number of days funds stay held after
// delivery confirmation. Trusted sellers hold for zero days: release is
// eligible immediately upon delivery.
type HoldPeriods map[SellerTier]int

// DefaultHoldPeriods is the standard tier table.
func DefaultHoldPeriods() HoldPeriods {
	return HoldPeriods{
		TierUnverified: 14,
		TierBasic:      7,
		TierVerified:   3,
		TierTrusted:    0,
	}
}

// Days resolves the hold period for a tier. Unknown tiers fall back to the
// unverified (longest) hold.
func (p HoldPeriods) Days(tier SellerTier) int {
	if days, ok := p[tier]; ok {
		return days
	}
	return p[TierUnverified]
}

// ValidTier reports whether tier is one of the four known trust tiers.
func ValidTier(tier SellerTier) bool {
	switch tier {
	case TierUnverified, TierBasic, TierVerified, TierTrusted:
		return true
	}
	return false
}
