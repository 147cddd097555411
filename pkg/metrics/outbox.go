package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	RelayPublished    = "published"
	RelayRetried      = "retried"
	RelayDeadLettered = "dead_lettered"
)

// OutboxMetrics counts relay outcomes per event type.
type OutboxMetrics struct {
	relayed *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	relayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevault_outbox_relay_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(relayed)
	return &OutboxMetrics{relayed: relayed}
}

func (o *OutboxMetrics) IncRelay(eventType, outcome string) {
	if o == nil || o.relayed == nil {
		return
	}
	o.relayed.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}
