package metrics

import "github.com/prometheus/client_golang/prometheus"

// AllocatorMetrics tracks license key assignment.
type AllocatorMetrics struct {
	assignments *prometheus.CounterVec
	added       prometheus.Counter
	expired     prometheus.Counter
}

const (
	AssignResultAssigned   = "assigned"
	AssignResultOutOfStock = "out_of_stock"
)

func NewAllocatorMetrics(reg prometheus.Registerer) *AllocatorMetrics {
	if reg == nil {
		return &AllocatorMetrics{}
	}
	m := &AllocatorMetrics{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_assignments_total",
			Help:      "License key assignment attempts by result.",
		}, []string{"result"}),
		added: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_keys_added_total",
			Help:      "License keys imported by sellers.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_keys_expired_total",
			Help:      "License keys deactivated past their expiry.",
		}),
	}
	reg.MustRegister(m.assignments, m.added, m.expired)
	return m
}

func (m *AllocatorMetrics) IncAssign(result string) {
	if m == nil || m.assignments == nil {
		return
	}
	m.assignments.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *AllocatorMetrics) AddImported(n int) {
	if m == nil || m.added == nil || n <= 0 {
		return
	}
	m.added.Add(float64(n))
}

func (m *AllocatorMetrics) AddExpired(n int64) {
	if m == nil || m.expired == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}
