package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// initMemoryMetrics initializes memory write-path metrics.
func (m *Manager) initMemoryMetrics(cfg Config) {
	m.memoryWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_writes_total",
			Help: "Total number of memory writes by tier and status",
		},
		[]string{"tier", "status"},
	)

	m.memoryDeletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_deletes_total",
			Help: "Total number of memory deletions by tier",
		},
		[]string{"tier"},
	)

	m.memoryImportance = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_importance",
			Help:    "Importance scores assigned to stored memories",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		[]string{"tier"},
	)

	m.stmWindowSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stm_window_entries",
			Help: "Current number of entries in a short-term memory window",
		},
		[]string{"session"},
	)

	m.registry.MustRegister(m.memoryWrites)
	m.registry.MustRegister(m.memoryDeletes)
	m.registry.MustRegister(m.memoryImportance)
	m.registry.MustRegister(m.stmWindowSize)
}

// RecordMemoryWrite records a memory write outcome for a tier.
func (m *Manager) RecordMemoryWrite(tier, status string) {
	if !m.enabled {
		return
	}
	m.memoryWrites.WithLabelValues(tier, status).Inc()
}

// RecordMemoryDelete records a memory deletion for a tier.
func (m *Manager) RecordMemoryDelete(tier string) {
	if !m.enabled {
		return
	}
	m.memoryDeletes.WithLabelValues(tier).Inc()
}

// RecordImportance records the importance assigned to a stored memory.
func (m *Manager) RecordImportance(tier string, importance int) {
	if !m.enabled {
		return
	}
	m.memoryImportance.WithLabelValues(tier).Observe(float64(importance))
}

// SetSTMWindowEntries records the current entry count of a session window.
func (m *Manager) SetSTMWindowEntries(session string, entries int) {
	if !m.enabled {
		return
	}
	m.stmWindowSize.WithLabelValues(session).Set(float64(entries))
}
