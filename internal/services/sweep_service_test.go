// internal/services/sweep_service_test.go
package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/escrowpay/internal/escrow"
)

func TestSweepReleasesExpiredHolds(t *testing.T) {
	env := newTestEnv(t)

	expired := env.deliveredEscrow(t, escrow.TierVerified) // 3 day hold
	immediate := env.deliveredEscrow(t, escrow.TierTrusted)
	pending := env.createEscrow(t, escrow.TierBasic)

	env.advance(4 * 24 * time.Hour)
	waiting := env.deliveredEscrow(t, escrow.TierUnverified) // fresh 14 day hold

	summary := env.sweep.Run()
	assert.Equal(t, 2, summary.Released)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)

	assert.Equal(t, escrow.StatusReleased, env.reload(t, expired.ID).Status)
	assert.Equal(t, escrow.StatusReleased, env.reload(t, immediate.ID).Status)
	assert.Equal(t, escrow.StatusDelivered, env.reload(t, waiting.ID).Status)
	assert.Equal(t, escrow.StatusPendingPayment, env.reload(t, pending.ID).Status)

	transfers := env.provider.CallsFor("transfer")
	assert.Len(t, transfers, 2)
}

func TestSweepObservesHoldPeriodDayByDay(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierUnverified) // 14 days

	env.advance(10 * 24 * time.Hour)
	summary := env.sweep.Run()
	assert.Zero(t, summary.Released)
	assert.Equal(t, escrow.StatusDelivered, env.reload(t, tx.ID).Status)

	env.advance(5 * 24 * time.Hour) // day 15
	summary = env.sweep.Run()
	assert.Equal(t, 1, summary.Released)
	assert.Equal(t, escrow.StatusReleased, env.reload(t, tx.ID).Status)
}

func TestSweepIdempotentAcrossRuns(t *testing.T) {
	env := newTestEnv(t)
	env.deliveredEscrow(t, escrow.TierTrusted)

	first := env.sweep.Run()
	assert.Equal(t, 1, first.Released)

	second := env.sweep.Run()
	assert.Zero(t, second.Released)
	assert.Zero(t, second.Skipped)
	assert.Len(t, env.provider.CallsFor("transfer"), 1)
}

func TestSweepSkipsDisputedTransactions(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierVerified)

	env.advance(2 * 24 * time.Hour)
	openDispute(t, env, tx.ID)

	env.advance(5 * 24 * time.Hour) // hold long expired, but disputed
	summary := env.sweep.Run()
	assert.Zero(t, summary.Released)
	assert.Equal(t, escrow.StatusDisputed, env.reload(t, tx.ID).Status)
}

func TestSweepCountsProviderFailures(t *testing.T) {
	env := newTestEnv(t)
	tx := env.deliveredEscrow(t, escrow.TierTrusted)

	env.provider.TransferErr = errors.New("provider unavailable")
	summary := env.sweep.Run()
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Released)

	// the record stays delivered and the next sweep retries it
	assert.Equal(t, escrow.StatusDelivered, env.reload(t, tx.ID).Status)

	env.provider.TransferErr = nil
	summary = env.sweep.Run()
	assert.Equal(t, 1, summary.Released)
}

func TestSweepDisabledByConfig(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Escrow.AutoReleaseEnabled = false
	env.deliveredEscrow(t, escrow.TierTrusted)

	summary := env.sweep.Run()
	assert.Zero(t, summary.Released)
	assert.Empty(t, env.provider.CallsFor("transfer"))
}

func TestSweepStartStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Escrow.SweepInterval = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.sweep.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.Fail(t, "sweep loop did not stop on context cancellation")
	}
}
