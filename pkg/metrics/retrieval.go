package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initRetrievalMetrics initializes retrieval-path metrics.
func (m *Manager) initRetrievalMetrics(cfg Config) {
	m.retrievals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrievals_total",
			Help: "Total number of retrievals by strategy and status",
		},
		[]string{"strategy", "status"},
	)

	m.retrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_duration_seconds",
			Help:    "Retrieval duration in seconds by strategy",
			Buckets: cfg.RetrievalDurationBuckets,
		},
		[]string{"strategy"},
	)

	m.retrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_results",
			Help:    "Number of results returned per retrieval",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"strategy"},
	)

	m.registry.MustRegister(m.retrievals)
	m.registry.MustRegister(m.retrievalDuration)
	m.registry.MustRegister(m.retrievalResults)
}

// RecordRetrieval records a completed retrieval.
func (m *Manager) RecordRetrieval(strategy, status string, duration time.Duration, results int) {
	if !m.enabled {
		return
	}
	m.retrievals.WithLabelValues(strategy, status).Inc()
	m.retrievalDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	m.retrievalResults.WithLabelValues(strategy).Observe(float64(results))
}
