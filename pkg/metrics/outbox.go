package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded per relayed outbox row.
const (
	OutboxPublished    = "published"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
	OutboxHeld         = "held"
)

// OutboxMetrics tracks how the outbox publisher drains the feed.
type OutboxMetrics struct {
	rows    *prometheus.CounterVec
	latency *prometheus.HistogramVec
	lag     prometheus.Histogram
}

// NewOutboxMetrics registers the relay metrics on reg. A nil registerer yields
// a no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buttonbid_outbox_rows_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buttonbid_outbox_publish_seconds",
		Help:    "Time spent waiting on Pub/Sub publish acknowledgements.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "buttonbid_outbox_delivery_lag_seconds",
		Help:    "Delay between an outbox row commit and its publish.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
	})
	reg.MustRegister(rows, latency, lag)
	return &OutboxMetrics{rows: rows, latency: latency, lag: lag}
}

// Row counts one outcome for an event type.
func (m *OutboxMetrics) Row(eventType, outcome string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

// ObservePublish records the acknowledgement wait for topic.
func (m *OutboxMetrics) ObservePublish(topic string, d time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.WithLabelValues(normalizeLabel(topic)).Observe(d.Seconds())
}

// ObserveLag records how long a row waited in the outbox.
func (m *OutboxMetrics) ObserveLag(d time.Duration) {
	if m == nil || m.lag == nil || d < 0 {
		return
	}
	m.lag.Observe(d.Seconds())
}
