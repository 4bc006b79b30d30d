// internal/services/metrics.go
package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_sweep_runs_total",
		Help: "Number of reconciliation sweep runs.",
	})

	sweepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_sweep_transactions_total",
		Help: "Transactions processed by the reconciliation sweep, by outcome.",
	}, []string{"outcome"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_sweep_duration_seconds",
		Help:    "Duration of one reconciliation sweep.",
		Buckets: prometheus.DefBuckets,
	})
)
