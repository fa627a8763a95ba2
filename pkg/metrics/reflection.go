package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// initReflectionMetrics initializes reflection-engine metrics.
func (m *Manager) initReflectionMetrics(cfg Config) {
	m.reflectionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflection_runs_total",
			Help: "Total number of reflection runs by status",
		},
		[]string{"status"},
	)

	m.reflectionInsights = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reflection_insights_total",
			Help: "Total number of insights generated by reflection",
		},
	)

	m.reflectionPotential = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reflection_accumulated_importance",
			Help: "Accumulated importance since the last reflection",
		},
	)

	m.registry.MustRegister(m.reflectionRuns)
	m.registry.MustRegister(m.reflectionInsights)
	m.registry.MustRegister(m.reflectionPotential)
}

// RecordReflectionRun records a reflection run outcome.
func (m *Manager) RecordReflectionRun(status string, insights int) {
	if !m.enabled {
		return
	}
	m.reflectionRuns.WithLabelValues(status).Inc()
	m.reflectionInsights.Add(float64(insights))
}

// SetAccumulatedImportance records the reflection counter value.
func (m *Manager) SetAccumulatedImportance(value int64) {
	if !m.enabled {
		return
	}
	m.reflectionPotential.Set(float64(value))
}
