package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the storage backend selection layer.
var (
	BackendType = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "data_capture",
			Subsystem: "storage",
			Name:      "backend_type",
			Help:      "Active storage backend (1=sqlite, 2=postgres)",
		},
		[]string{"backend"},
	)

	InitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "data_capture",
			Subsystem: "storage",
			Name:      "init_duration_seconds",
			Help:      "Time to initialize the storage gateway",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"backend"},
	)

	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "data_capture",
			Subsystem: "storage",
			Name:      "health_status",
			Help:      "Storage health status (0=unhealthy, 1=healthy)",
		},
		[]string{"backend"},
	)

	SQLiteFileSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "data_capture",
			Subsystem: "storage",
			Name:      "sqlite_file_size_bytes",
			Help:      "SQLite database file size in bytes (lite profile only)",
		},
	)
)

// SetBackendType records which backend is active. value is 1 for sqlite, 2 for postgres.
func SetBackendType(backend string, value float64) {
	BackendType.WithLabelValues(backend).Set(value)
}

// SetHealthStatus records whether the active backend answered a health check.
func SetHealthStatus(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	HealthStatus.WithLabelValues(backend).Set(v)
}
