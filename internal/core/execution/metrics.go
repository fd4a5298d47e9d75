package execution

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the execution engine.
type Metrics struct {
	ExecutionsTotal *prometheus.CounterVec
	VenueAttempts   *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	Latency         prometheus.Histogram
}

// NewMetrics registers the execution collectors on reg. Pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "execution",
			Name:      "executions_total",
			Help:      "Order executions by final result.",
		}, []string{"result"}),
		VenueAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "execution",
			Name:      "venue_attempts_total",
			Help:      "Per-venue placement attempts by outcome.",
		}, []string{"venue", "outcome"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "execution",
			Name:      "retry_rounds_total",
			Help:      "Retry rounds entered after a fully failed round.",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Subsystem: "execution",
			Name:      "latency_seconds",
			Help:      "End-to-end execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ExecutionsTotal, m.VenueAttempts, m.RetriesTotal, m.Latency)
	}
	return m
}
