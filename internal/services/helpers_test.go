// internal/services/helpers_test.go
package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/escrow"
	"github.com/javajoker/escrowpay/internal/models"
	"github.com/javajoker/escrowpay/internal/payments"
)

// testEnv wires the services against an in-memory database, a fake payment
// provider, and a controllable clock.
type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	provider *payments.FakeProvider
	now      time.Time

	escrows  *EscrowService
	disputes *DisputeService
	sweep    *SweepService

	buyerID  uuid.UUID
	sellerID uuid.UUID
	adminID  uuid.UUID
}

func newTestConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Escrow: config.EscrowConfig{
			FeePercent:         10.0,
			MinFee:             100,
			MaxFee:             10000,
			AutoReleaseEnabled: true,
			DisputeWindowDays:  3,
			SweepInterval:      300,
			UnverifiedHoldDays: 14,
			BasicHoldDays:      7,
			VerifiedHoldDays:   3,
			TrustedHoldDays:    0,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.EscrowTransaction{},
		&models.EscrowDispute{},
		&models.EscrowNotification{},
	))

	env := &testEnv{
		db:       db,
		cfg:      newTestConfig(),
		provider: payments.NewFakeProvider(),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		buyerID:  uuid.New(),
		sellerID: uuid.New(),
		adminID:  uuid.New(),
	}

	clock := escrow.ClockFunc(func() time.Time { return env.now })
	notifier := NewNotificationService(db, env.cfg)
	storage, err := NewStorageService(env.cfg)
	require.NoError(t, err)

	env.escrows = NewEscrowService(db, env.cfg, env.provider, clock, notifier)
	env.disputes = NewDisputeService(db, env.cfg, env.provider, clock, storage, notifier)
	env.sweep = NewSweepService(db, env.cfg, env.escrows, clock)

	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

// createEscrow opens a transaction with the default scenario amounts:
// 10000 item + 1000 shipping at a 10% fee.
func (e *testEnv) createEscrow(t *testing.T, tier escrow.SellerTier) *models.EscrowTransaction {
	t.Helper()
	tx, err := e.escrows.CreateEscrow(e.buyerID, &CreateEscrowRequest{
		OrderID:        uuid.New(),
		SellerID:       e.sellerID,
		ItemAmount:     10000,
		ShippingAmount: 1000,
		SellerTier:     tier,
	})
	require.NoError(t, err)
	return tx
}

// deliveredEscrow walks a fresh transaction through pay, ship, and delivery.
func (e *testEnv) deliveredEscrow(t *testing.T, tier escrow.SellerTier) *models.EscrowTransaction {
	t.Helper()
	tx := e.createEscrow(t, tier)

	_, err := e.escrows.Pay(tx.ID)
	require.NoError(t, err)
	_, err = e.escrows.MarkShipped(tx.ID, e.sellerID, "TRACK-123")
	require.NoError(t, err)
	delivered, err := e.escrows.ConfirmDelivery(tx.ID)
	require.NoError(t, err)

	return delivered
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *models.EscrowTransaction {
	t.Helper()
	tx, err := e.escrows.Get(id)
	require.NoError(t, err)
	return tx
}
