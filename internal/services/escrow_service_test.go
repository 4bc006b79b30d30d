// internal/services/escrow_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/escrowpay/internal/escrow"
	"github.com/javajoker/escrowpay/internal/models"
	"github.com/javajoker/escrowpay/internal/utils"
)

func utilsParams(status string) utils.PaginationParams {
	return utils.PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc", Status: status}
}

func TestCreateEscrowComputesFeeBreakdown(t *testing.T) {
	env := newTestEnv(t)

	tx := env.createEscrow(t, escrow.TierBasic)

	assert.Equal(t, escrow.StatusPendingPayment, tx.Status)
	assert.Equal(t, int64(10000), tx.ItemAmount)
	assert.Equal(t, int64(1000), tx.ShippingAmount)
	assert.Equal(t, int64(1000), tx.PlatformFee)
	assert.Equal(t, int64(11000), tx.TotalAmount)
	assert.Equal(t, int64(9000), tx.SellerPayout)
	assert.Equal(t, 7, tx.EscrowDays)
	assert.Nil(t, tx.EscrowExpiresAt)
}

func TestCreateEscrowRejectsSelfDealing(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.escrows.CreateEscrow(env.buyerID, &CreateEscrowRequest{
		OrderID:        uuid.New(),
		SellerID:       env.buyerID,
		ItemAmount:     5000,
		ShippingAmount: 0,
		SellerTier:     escrow.TierBasic,
	})
	require.Error(t, err)
}

func TestCreateEscrowRejectsUnknownTier(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.escrows.CreateEscrow(env.buyerID, &CreateEscrowRequest{
		OrderID:        uuid.New(),
		SellerID:       env.sellerID,
		ItemAmount:     5000,
		ShippingAmount: 0,
		SellerTier:     "platinum",
	})
	require.Error(t, err)
}

func TestCreateEscrowRejectsNegativeAmount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.escrows.CreateEscrow(env.buyerID, &CreateEscrowRequest{
		OrderID:        uuid.New(),
		SellerID:       env.sellerID,
		ItemAmount:     -1,
		ShippingAmount: 0,
		SellerTier:     escrow.TierBasic,
	})
	require.ErrorIs(t, err, escrow.ErrInvalidAmount)
}

func TestPayChargesOnceAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)

	paid, err := env.escrows.Pay(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusPaymentHeld, paid.Status)
	assert.NotNil(t, paid.PaidAt)
	assert.NotEmpty(t, paid.ChargeReference)

	// duplicate webhook delivery
	again, err := env.escrows.Pay(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusPaymentHeld, again.Status)
	assert.Equal(t, paid.ChargeReference, again.ChargeReference)

	charges := env.provider.CallsFor("charge")
	require.Len(t, charges, 1)
	assert.Equal(t, int64(11000), charges[0].Amount)
}

func TestPayRejectedAfterShipment(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)

	_, err := env.escrows.Pay(tx.ID)
	require.NoError(t, err)
	_, err = env.escrows.MarkShipped(tx.ID, env.sellerID, "TRACK-1")
	require.NoError(t, err)

	// cannot walk backwards
	_, err = env.escrows.Pay(tx.ID)
	var ite *escrow.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, escrow.StatusShipped, ite.From)
}

func TestPayRefundsChargeWhenCancelWinsRace(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)

	// the buyer's cancel commits while the payment webhook is mid-charge
	env.provider.ChargeHook = func() {
		env.provider.ChargeHook = nil
		_, cerr := env.escrows.Cancel(tx.ID, env.buyerID)
		require.NoError(t, cerr)
	}

	_, err := env.escrows.Pay(tx.ID)
	require.ErrorIs(t, err, escrow.ErrConcurrentModification)

	// the captured charge is returned in full, with the reference on record
	charges := env.provider.CallsFor("charge")
	require.Len(t, charges, 1)
	assert.Equal(t, int64(11000), charges[0].Amount)

	refunds := env.provider.CallsFor("refund")
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(11000), refunds[0].Amount)

	current := env.reload(t, tx.ID)
	assert.Equal(t, escrow.StatusCancelled, current.Status)
	assert.NotEmpty(t, current.ChargeReference)

	// a later replay of the webhook stays rejected without a second charge
	_, err = env.escrows.Pay(tx.ID)
	require.Error(t, err)
	assert.Len(t, env.provider.CallsFor("charge"), 1)
	assert.Len(t, env.provider.CallsFor("refund"), 1)
}

func TestMarkShippedRequiresSellerAndTracking(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)
	_, err := env.escrows.Pay(tx.ID)
	require.NoError(t, err)

	_, err = env.escrows.MarkShipped(tx.ID, env.buyerID, "TRACK-1")
	require.Error(t, err)

	_, err = env.escrows.MarkShipped(tx.ID, env.sellerID, "")
	require.Error(t, err)

	shipped, err := env.escrows.MarkShipped(tx.ID, env.sellerID, "TRACK-1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusShipped, shipped.Status)
	assert.Equal(t, "TRACK-1", shipped.TrackingReference)
}

func TestConfirmDeliveryStartsEscrowClock(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierBasic)

	require.NotNil(t, tx.DeliveredAt)
	require.NotNil(t, tx.EscrowExpiresAt)
	assert.Equal(t, tx.DeliveredAt.Add(7*24*time.Hour).Unix(), tx.EscrowExpiresAt.Unix())

	// replayed carrier confirmation is a no-op
	again, err := env.escrows.ConfirmDelivery(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.EscrowExpiresAt.Unix(), again.EscrowExpiresAt.Unix())
}

func TestConfirmDeliveryTrustedTierSkipsHold(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierTrusted)

	assert.Equal(t, 0, tx.EscrowDays)
	assert.Nil(t, tx.EscrowExpiresAt)

	// immediately eligible
	released, err := env.escrows.Release(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, released.Status)
}

func TestReleaseBlockedDuringHoldPeriod(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierUnverified) // 14 day hold

	env.advance(10 * 24 * time.Hour)
	_, err := env.escrows.Release(tx.ID)
	var ne *escrow.NotEligibleError
	require.ErrorAs(t, err, &ne)
	assert.Contains(t, ne.Reason, "4 day(s) remaining")
	assert.Empty(t, env.provider.CallsFor("transfer"))

	env.advance(5 * 24 * time.Hour)
	released, err := env.escrows.Release(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, released.Status)
	assert.NotNil(t, released.ReleasedAt)
	assert.NotEmpty(t, released.TransferReference)

	transfers := env.provider.CallsFor("transfer")
	require.Len(t, transfers, 1)
	assert.Equal(t, tx.SellerPayout, transfers[0].Amount)
}

func TestReleaseRetryAfterCrashMovesMoneyOnce(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierTrusted)

	_, err := env.escrows.Release(tx.ID)
	require.NoError(t, err)

	// simulate a crash after the transfer but before the status commit: the
	// record is still delivered, and the retry reuses the idempotency key
	err = env.db.Model(&models.EscrowTransaction{}).
		Where("id = ?", tx.ID).
		Updates(map[string]interface{}{"status": escrow.StatusDelivered, "released_at": nil}).Error
	require.NoError(t, err)

	released, err := env.escrows.Release(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, released.Status)
	assert.Len(t, env.provider.CallsFor("transfer"), 1)
}

func TestReleaseClaimBlocksConcurrentDispute(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierTrusted)

	// the buyer opens a dispute while the payout transfer is in flight: the
	// payout claim makes the dispute lose the race instead of setting up a
	// refund on top of the transfer
	env.provider.TransferHook = func() {
		env.provider.TransferHook = nil
		_, derr := env.disputes.OpenDispute(tx.ID, env.buyerID, &OpenDisputeRequest{
			Reason:      models.DisputeReasonNotAsDescribed,
			Description: "item does not match the listing",
		})
		require.ErrorIs(t, derr, escrow.ErrConcurrentModification)
	}

	released, err := env.escrows.Release(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, released.Status)

	// exactly one disbursement, and no orphan dispute row
	assert.Len(t, env.provider.CallsFor("transfer"), 1)
	assert.Empty(t, env.provider.CallsFor("refund"))

	var disputes int64
	require.NoError(t, env.db.Model(&models.EscrowDispute{}).
		Where("escrow_id = ?", tx.ID).Count(&disputes).Error)
	assert.Zero(t, disputes)
}

func TestCancelBeforePaymentMovesNoMoney(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)

	cancelled, err := env.escrows.Cancel(tx.ID, env.sellerID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Empty(t, env.provider.Calls())
}

func TestCancelAfterPaymentRefundsInFull(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)
	_, err := env.escrows.Pay(tx.ID)
	require.NoError(t, err)

	cancelled, err := env.escrows.Cancel(tx.ID, env.buyerID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCancelled, cancelled.Status)

	refunds := env.provider.CallsFor("refund")
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(11000), refunds[0].Amount)
}

func TestSellerCannotCancelAfterShipping(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)
	_, err := env.escrows.Pay(tx.ID)
	require.NoError(t, err)
	_, err = env.escrows.MarkShipped(tx.ID, env.sellerID, "TRACK-1")
	require.NoError(t, err)

	_, err = env.escrows.Cancel(tx.ID, env.sellerID)
	var ne *escrow.NotEligibleError
	require.ErrorAs(t, err, &ne)
	assert.Contains(t, ne.Reason, "sellers may not cancel after shipping")
}

func TestBuyerCancelAfterShippingBecomesRefund(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)
	_, err := env.escrows.Pay(tx.ID)
	require.NoError(t, err)
	_, err = env.escrows.MarkShipped(tx.ID, env.sellerID, "TRACK-1")
	require.NoError(t, err)

	cancelled, err := env.escrows.Cancel(tx.ID, env.buyerID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, cancelled.Status)
	assert.NotNil(t, cancelled.RefundedAt)

	refunds := env.provider.CallsFor("refund")
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(11000), refunds[0].Amount)
}

func TestCancelByOutsiderRejected(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)

	_, err := env.escrows.Cancel(tx.ID, uuid.New())
	require.Error(t, err)
}

func TestCasUpdateDetectsConcurrentModification(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierBasic)

	// a competing writer moves the record first
	_, err := env.escrows.Pay(tx.ID)
	require.NoError(t, err)

	// a stale writer holding the pre-payment status loses the race
	err = env.escrows.casUpdate(tx.ID, escrow.StatusPendingPayment, map[string]interface{}{
		"status": escrow.StatusCancelled,
	})
	require.ErrorIs(t, err, escrow.ErrConcurrentModification)

	// the record is untouched
	assert.Equal(t, escrow.StatusPaymentHeld, env.reload(t, tx.ID).Status)
}

func TestTransitionDispatchesByTarget(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createEscrow(t, escrow.TierTrusted)

	steps := []struct {
		target escrow.Status
		meta   TransitionMetadata
	}{
		{escrow.StatusPaymentHeld, TransitionMetadata{}},
		{escrow.StatusShipped, TransitionMetadata{ActorID: env.sellerID, TrackingRef: "TRACK-1"}},
		{escrow.StatusDelivered, TransitionMetadata{}},
		{escrow.StatusReleased, TransitionMetadata{}},
	}
	for _, step := range steps {
		updated, err := env.escrows.Transition(tx.ID, step.target, step.meta)
		require.NoError(t, err)
		assert.Equal(t, step.target, updated.Status)
	}

	// terminal: nothing transitions out of released
	_, err := env.escrows.Transition(tx.ID, escrow.StatusRefunded, TransitionMetadata{})
	require.Error(t, err)

	// unknown targets are rejected without touching the record
	_, err = env.escrows.Transition(tx.ID, "archived", TransitionMetadata{})
	var ite *escrow.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, escrow.StatusReleased, env.reload(t, tx.ID).Status)
}

func TestEligibilityReportReflectsState(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierBasic)

	report := env.escrows.Eligibility(tx, escrow.ActorBuyer)
	assert.False(t, report.CanRelease.Allowed)
	assert.True(t, report.CanDispute.Allowed)
	assert.False(t, report.CanCancel.Allowed)

	env.advance(8 * 24 * time.Hour)
	report = env.escrows.Eligibility(tx, escrow.ActorBuyer)
	assert.True(t, report.CanRelease.Allowed)
	assert.False(t, report.CanDispute.Allowed)
}

func TestTimelineTracksLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierBasic)

	events, err := env.escrows.GetTimeline(tx.ID)
	require.NoError(t, err)

	var names []string
	for _, e := range events {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"created", "payment_held", "shipped", "delivered", "escrow_started"}, names)
}

func TestListFiltersByParticipantAndStatus(t *testing.T) {
	env := newTestEnv(t)
	first := env.createEscrow(t, escrow.TierBasic)
	_, err := env.escrows.Pay(first.ID)
	require.NoError(t, err)
	env.createEscrow(t, escrow.TierBasic)

	// an unrelated user sees nothing
	txs, total, err := env.escrows.List(uuid.New(), utilsParams(""))
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, txs)

	txs, total, err = env.escrows.List(env.buyerID, utilsParams(""))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, txs, 2)

	txs, total, err = env.escrows.List(env.sellerID, utilsParams("payment_held"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, txs, 1)
	assert.Equal(t, first.ID, txs[0].ID)
}
