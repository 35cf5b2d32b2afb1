// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine records.
type Metrics struct {
	PaymentsStarted   *prometheus.CounterVec
	PaymentsSucceeded *prometheus.CounterVec
	PaymentsFailed    *prometheus.CounterVec
	PaymentsReplayed  prometheus.Counter
	GatewayLatency    *prometheus.HistogramVec
	RefundsIssued     prometheus.Counter
	SweepReconciled   prometheus.Counter
	StaleAttempts     prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_started_total",
			Help: "Payment attempts that passed validation and reserved an idempotency key.",
		}, []string{"gateway"}),
		PaymentsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_succeeded_total",
			Help: "Payment attempts that settled an invoice.",
		}, []string{"gateway"}),
		PaymentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_failed_total",
			Help: "Payment attempts that finished in a failed state.",
		}, []string{"gateway", "kind"}),
		PaymentsReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_replayed_total",
			Help: "Requests answered from the idempotency ledger without a gateway call.",
		}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Latency of charge/verify/refund calls per gateway.",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway", "op"}),
		RefundsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_compensating_refunds_total",
			Help: "Refunds issued after losing an invoice race.",
		}),
		SweepReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciliation_finalized_total",
			Help: "Attempts finalized by the reconciliation sweep.",
		}),
		StaleAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciliation_stale_attempts",
			Help: "Attempts found stale by the most recent sweep.",
		}),
	}
	reg.MustRegister(
		m.PaymentsStarted, m.PaymentsSucceeded, m.PaymentsFailed, m.PaymentsReplayed,
		m.GatewayLatency, m.RefundsIssued, m.SweepReconciled, m.StaleAttempts,
	)
	return m
}

// NewUnregistered creates collectors on a private registry, for tests that
// do not care about scraping.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
