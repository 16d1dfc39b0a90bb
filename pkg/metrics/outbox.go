package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	OutboxResultPublished    = "published"
	OutboxResultRetry        = "retry"
	OutboxResultDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks delivery results per topic.
type OutboxMetrics struct {
	results *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by topic and result.",
		}, []string{"topic", "result"}),
	}
	reg.MustRegister(m.results)
	return m
}

func (m *OutboxMetrics) Observe(topic, result string) {
	if m == nil || m.results == nil {
		return
	}
	if topic == "" {
		topic = "unresolved"
	}
	m.results.WithLabelValues(topic, normalizeLabel(result)).Inc()
}
