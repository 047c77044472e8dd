package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics counts what the publisher did with each outbox row.
type OutboxMetrics struct {
	events  *prometheus.CounterVec
	backlog prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeline_outbox_events_total",
		Help: "Outbox rows handled by the publisher, by event type and result.",
	}, []string{"event_type", "result"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradeline_outbox_last_batch_size",
		Help: "Rows claimed by the most recent publish batch.",
	})
	reg.MustRegister(events, backlog)
	return &OutboxMetrics{events: events, backlog: backlog}
}

// ObserveEvent records result (published, retry, dead_lettered) for one row.
func (o *OutboxMetrics) ObserveEvent(eventType, result string) {
	if o == nil || o.events == nil {
		return
	}
	o.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (o *OutboxMetrics) ObserveBatch(size int) {
	if o == nil || o.backlog == nil {
		return
	}
	o.backlog.Set(float64(size))
}
