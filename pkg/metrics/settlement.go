package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts reconciliation and payout outcomes and times
// gateway calls.
type SettlementMetrics struct {
	reconciliation *prometheus.CounterVec
	payouts        *prometheus.CounterVec
	gateway        *prometheus.HistogramVec
}

func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	reconciliation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeline_reconciliation_events_total",
		Help: "Gateway payment events by reconciliation outcome and matching tier.",
	}, []string{"outcome", "tier"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeline_payout_outcomes_total",
		Help: "Payout attempts by outcome.",
	}, []string{"outcome"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeline_gateway_call_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "outcome"})
	reg.MustRegister(reconciliation, payouts, gateway)
	return &SettlementMetrics{
		reconciliation: reconciliation,
		payouts:        payouts,
		gateway:        gateway,
	}
}

func (s *SettlementMetrics) ObserveReconciliation(outcome, tier string) {
	if s == nil || s.reconciliation == nil {
		return
	}
	s.reconciliation.WithLabelValues(normalizeLabel(outcome), normalizeLabel(tier)).Inc()
}

func (s *SettlementMetrics) ObservePayout(outcome string) {
	if s == nil || s.payouts == nil {
		return
	}
	s.payouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveGatewayCall satisfies paystack.Observer.
func (s *SettlementMetrics) ObserveGatewayCall(op, outcome string, elapsed time.Duration) {
	if s == nil || s.gateway == nil {
		return
	}
	s.gateway.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Observe(elapsed.Seconds())
}
