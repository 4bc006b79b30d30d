// internal/services/sweep_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/escrow"
	"github.com/javajoker/escrowpay/internal/models"
)

// SweepService is the reconciliation sweep: the only component that
// initiates transitions without a direct user action. It scans delivered
// transactions whose hold period has elapsed and releases them one at a
// time, tolerating individual failures without aborting the batch.
type SweepService struct {
	db      *gorm.DB
	config  *config.Config
	escrows *EscrowService
	clock   escrow.Clock
}

// SweepSummary is the operator-facing result of one sweep run.
type SweepSummary struct {
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func NewSweepService(db *gorm.DB, cfg *config.Config, escrows *EscrowService, clock escrow.Clock) *SweepService {
	return &SweepService{
		db:      db,
		config:  cfg,
		escrows: escrows,
		clock:   clock,
	}
}

// Run executes one sweep. Each transaction is released through the same
// status-guarded path as user-driven releases, so two sweep instances (or a
// sweep racing a buyer) settle a transaction at most once: the loser's
// precondition fails and it is counted as skipped.
func (s *SweepService) Run() SweepSummary {
	var summary SweepSummary

	if !s.config.Escrow.AutoReleaseEnabled {
		logrus.Debug("Reconciliation sweep disabled by configuration")
		return summary
	}

	start := time.Now()
	sweepRunsTotal.Inc()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.clock.Now()
	var candidates []models.EscrowTransaction
	err := s.db.
		Where("status = ? AND (escrow_expires_at IS NULL OR escrow_expires_at <= ?)", escrow.StatusDelivered, now).
		Order("escrow_expires_at ASC").
		Find(&candidates).Error
	if err != nil {
		logrus.WithError(err).Error("Reconciliation sweep query failed")
		return summary
	}

	for _, tx := range candidates {
		if e := escrow.CanRelease(tx.Snapshot(), now); !e.Allowed {
			summary.Skipped++
			sweepOutcomes.WithLabelValues("skipped").Inc()
			continue
		}

		_, err := s.escrows.Release(tx.ID)
		switch {
		case err == nil:
			summary.Released++
			sweepOutcomes.WithLabelValues("released").Inc()
			logrus.WithField("transaction_id", tx.ID).Info("Escrow auto-released")
		case errors.Is(err, escrow.ErrConcurrentModification):
			// another actor settled it first
			summary.Skipped++
			sweepOutcomes.WithLabelValues("skipped").Inc()
		default:
			// surfaced for manual follow-up, never silently swallowed
			summary.Failed++
			sweepOutcomes.WithLabelValues("failed").Inc()
			logrus.WithError(err).WithField("transaction_id", tx.ID).Error("Escrow auto-release failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"released": summary.Released,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
	}).Info("Reconciliation sweep completed")

	return summary
}

// Start runs the sweep on a fixed interval until ctx is cancelled.
func (s *SweepService) Start(ctx context.Context) {
	interval := time.Duration(s.config.Escrow.SweepInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.WithField("interval", interval).Info("Reconciliation sweep started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Reconciliation sweep stopped")
			return
		case <-ticker.C:
			s.Run()
		}
	}
}
