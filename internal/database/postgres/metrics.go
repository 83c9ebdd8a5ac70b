package postgres

import (
	"sync/atomic"
	"time"
)

// PoolMetrics tracks connection pool activity with lock-free counters.
type PoolMetrics struct {
	ActiveConnections atomic.Int32
	IdleConnections   atomic.Int32
	TotalConnections  atomic.Int64

	ConnectionWaitTime atomic.Int64 // nanoseconds, cumulative

	ConnectionErrors atomic.Int64

	LastHealthCheck     atomic.Int64 // unix timestamp
	HealthCheckFailures atomic.Int64
	IsHealthy           atomic.Bool

	SuccessfulConnections atomic.Int64
	FailedConnections     atomic.Int64
}

// PoolStats is an immutable snapshot of PoolMetrics for reporting.
type PoolStats struct {
	ActiveConnections     int32
	IdleConnections       int32
	TotalConnections      int64
	ConnectionWaitTime    time.Duration
	ConnectionErrors      int64
	LastHealthCheck       time.Time
	HealthCheckFailures   int64
	IsHealthy             bool
	SuccessfulConnections int64
	FailedConnections     int64
}

// NewPoolMetrics builds a metrics struct initialized to a healthy state.
func NewPoolMetrics() *PoolMetrics {
	m := &PoolMetrics{}
	m.LastHealthCheck.Store(time.Now().Unix())
	m.IsHealthy.Store(true)
	return m
}

// Snapshot returns the current metrics as a plain struct.
func (m *PoolMetrics) Snapshot() PoolStats {
	return PoolStats{
		ActiveConnections:     m.ActiveConnections.Load(),
		IdleConnections:       m.IdleConnections.Load(),
		TotalConnections:      m.TotalConnections.Load(),
		ConnectionWaitTime:    time.Duration(m.ConnectionWaitTime.Load()),
		ConnectionErrors:      m.ConnectionErrors.Load(),
		LastHealthCheck:       time.Unix(m.LastHealthCheck.Load(), 0),
		HealthCheckFailures:   m.HealthCheckFailures.Load(),
		IsHealthy:             m.IsHealthy.Load(),
		SuccessfulConnections: m.SuccessfulConnections.Load(),
		FailedConnections:     m.FailedConnections.Load(),
	}
}

// RecordConnectionWait adds duration to the cumulative connection wait time.
func (m *PoolMetrics) RecordConnectionWait(duration time.Duration) {
	m.ConnectionWaitTime.Add(duration.Nanoseconds())
}

// RecordConnectionError increments the connection error and failure counters.
func (m *PoolMetrics) RecordConnectionError() {
	m.ConnectionErrors.Add(1)
	m.FailedConnections.Add(1)
}

// RecordSuccessfulConnection increments the successful connection counter.
func (m *PoolMetrics) RecordSuccessfulConnection() {
	m.SuccessfulConnections.Add(1)
}

// UpdateConnectionStats overwrites the current connection gauges.
func (m *PoolMetrics) UpdateConnectionStats(active, idle int32, total int64) {
	m.ActiveConnections.Store(active)
	m.IdleConnections.Store(idle)
	m.TotalConnections.Store(total)
}

// RecordHealthCheck records the outcome of a health check.
func (m *PoolMetrics) RecordHealthCheck(success bool) {
	m.LastHealthCheck.Store(time.Now().Unix())
	if !success {
		m.HealthCheckFailures.Add(1)
	}
	m.IsHealthy.Store(success)
}
