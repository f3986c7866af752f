package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WalletMetrics records outcomes and latency for ledger operations.
type WalletMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewWalletMetrics registers the wallet metrics on the provided registerer.
func NewWalletMetrics(reg prometheus.Registerer) *WalletMetrics {
	if reg == nil {
		return &WalletMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_operations_total",
		Help: "Ledger operations by type and outcome.",
	}, []string{"op", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_operation_seconds",
		Help:    "Duration of ledger operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reg.MustRegister(operations, duration)
	return &WalletMetrics{
		operations: operations,
		duration:   duration,
	}
}

// IncOutcome increments the counter for the named operation and outcome.
func (w *WalletMetrics) IncOutcome(op, outcome string) {
	if w == nil || w.operations == nil {
		return
	}
	w.operations.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

// ObserveDuration records the duration for the named operation.
func (w *WalletMetrics) ObserveDuration(op string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}
