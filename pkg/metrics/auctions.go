package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AuctionMetrics counts bid and settlement outcomes per auction kind.
type AuctionMetrics struct {
	bids        *prometheus.CounterVec
	bidLatency  *prometheus.HistogramVec
	settlements *prometheus.CounterVec
}

// NewAuctionMetrics registers the auction metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewAuctionMetrics(reg prometheus.Registerer) *AuctionMetrics {
	if reg == nil {
		return &AuctionMetrics{}
	}
	bids := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buttonbid_bids_total",
		Help: "Bid attempts by auction kind and outcome.",
	}, []string{"kind", "outcome"})
	bidLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buttonbid_bid_duration_seconds",
		Help:    "Time spent processing a bid, including the transaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buttonbid_settlements_total",
		Help: "Settlement attempts by auction kind and outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(bids, bidLatency, settlements)
	return &AuctionMetrics{
		bids:        bids,
		bidLatency:  bidLatency,
		settlements: settlements,
	}
}

// ObserveBid records one bid attempt.
func (m *AuctionMetrics) ObserveBid(kind, outcome string, duration time.Duration) {
	if m == nil || m.bids == nil {
		return
	}
	m.bids.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
	m.bidLatency.WithLabelValues(normalizeLabel(kind)).Observe(duration.Seconds())
}

// IncSettlement records one settlement attempt.
func (m *AuctionMetrics) IncSettlement(kind, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}
