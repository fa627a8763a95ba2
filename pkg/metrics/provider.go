package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initProviderMetrics initializes embedding and LLM provider metrics.
func (m *Manager) initProviderMetrics(cfg Config) {
	m.providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Total number of provider calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	m.providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: cfg.ProviderDurationBuckets,
		},
		[]string{"provider"},
	)

	m.embeddingCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(m.providerCalls)
	m.registry.MustRegister(m.providerDuration)
	m.registry.MustRegister(m.embeddingCache)
}

// RecordProviderCall records a provider call outcome and latency.
func (m *Manager) RecordProviderCall(provider, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.providerCalls.WithLabelValues(provider, status).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordEmbeddingCacheHit records an embedding cache hit.
func (m *Manager) RecordEmbeddingCacheHit() {
	if !m.enabled {
		return
	}
	m.embeddingCache.WithLabelValues("hit").Inc()
}

// RecordEmbeddingCacheMiss records an embedding cache miss.
func (m *Manager) RecordEmbeddingCacheMiss() {
	if !m.enabled {
		return
	}
	m.embeddingCache.WithLabelValues("miss").Inc()
}
