package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconciliationMetrics counts payment event outcomes. The unfulfillable
// counter backs the paid-but-no-key alert.
type ReconciliationMetrics struct {
	outcomes      *prometheus.CounterVec
	unfulfillable prometheus.Counter
	mismatches    prometheus.Counter
}

func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	m := &ReconciliationMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment gateway events by reconciliation outcome.",
		}, []string{"outcome"}),
		unfulfillable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_unfulfillable_total",
			Help:      "Orders paid while no license key could be assigned.",
		}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_amount_mismatch_total",
			Help:      "Payment events whose amount did not match the order.",
		}),
	}
	reg.MustRegister(m.outcomes, m.unfulfillable, m.mismatches)
	return m
}

func (m *ReconciliationMetrics) Observe(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *ReconciliationMetrics) IncUnfulfillable() {
	if m == nil || m.unfulfillable == nil {
		return
	}
	m.unfulfillable.Inc()
}

func (m *ReconciliationMetrics) IncAmountMismatch() {
	if m == nil || m.mismatches == nil {
		return
	}
	m.mismatches.Inc()
}
