// Package metrics provides centralized Prometheus metrics management for
// the Data Capture Engine.
//
// All metrics follow the naming convention:
// data_capture_infra_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Infra().DB.ConnectionsActive.Set(42)
package metrics

import (
	"sync"
)

// MetricsRegistry is the central registry for all Prometheus metrics.
//
// Thread-safe: All Prometheus metrics are thread-safe by design.
// Singleton: Use DefaultRegistry() to get the global instance.
type MetricsRegistry struct {
	namespace string

	infra     *InfraMetrics
	infraOnce sync.Once
}

var (
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
// Safe for concurrent use. Initialized once on first call.
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("data_capture")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the specified
// namespace. For most use cases, use DefaultRegistry() instead.
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "data_capture"
	}
	return &MetricsRegistry{namespace: namespace}
}

// Infra returns the Infrastructure metrics manager (database, cache,
// repository), lazy-initialized on first access.
func (r *MetricsRegistry) Infra() *InfraMetrics {
	r.infraOnce.Do(func() {
		r.infra = NewInfraMetrics(r.namespace)
	})
	return r.infra
}

// Namespace returns the configured namespace for this registry.
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}
