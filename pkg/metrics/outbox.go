package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox dispatch outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics counts audit outbox rows by dispatch outcome.
type OutboxMetrics struct {
	events *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(events)
	return &OutboxMetrics{events: events}
}

func (m *OutboxMetrics) Observe(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}
