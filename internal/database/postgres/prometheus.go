package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/data-capture/pkg/metrics"
)

// PoolStatsProvider decouples PrometheusExporter from the concrete
// PostgresPool type for testing.
type PoolStatsProvider interface {
	Stats() PoolStats
}

// PrometheusExporter periodically copies PostgresPool's lock-free atomic
// counters into Prometheus gauges/counters, bridging the pool's internal
// metrics with the scrapable ones in pkg/metrics.
type PrometheusExporter struct {
	pool       PoolStatsProvider
	dbMetrics  *metrics.DatabaseMetrics
	logger     *slog.Logger
	cancelFunc context.CancelFunc
}

// NewPrometheusExporter builds an exporter reading from pool into dbMetrics.
func NewPrometheusExporter(pool PoolStatsProvider, dbMetrics *metrics.DatabaseMetrics) *PrometheusExporter {
	return &PrometheusExporter{pool: pool, dbMetrics: dbMetrics, logger: slog.Default()}
}

// Start exports once immediately, then on every tick of interval until ctx
// is done or Stop is called.
func (e *PrometheusExporter) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.exportMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.exportMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the export loop and runs one final export.
func (e *PrometheusExporter) Stop() {
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.exportMetrics()
}

func (e *PrometheusExporter) exportMetrics() {
	if e.pool == nil || e.dbMetrics == nil {
		e.logger.Warn("prometheus exporter not fully initialized, skipping export")
		return
	}

	stats := e.pool.Stats()

	e.dbMetrics.ConnectionsActive.Set(float64(stats.ActiveConnections))
	e.dbMetrics.ConnectionsIdle.Set(float64(stats.IdleConnections))

	if stats.ConnectionErrors > 0 {
		e.dbMetrics.ErrorsTotal.WithLabelValues("connection").Add(float64(stats.ConnectionErrors))
	}
}

// RecordConnectionWait records the time spent waiting for a connection to
// be acquired from the pool.
func (e *PrometheusExporter) RecordConnectionWait(duration time.Duration) {
	e.dbMetrics.ConnectionWaitDurationSeconds.Observe(duration.Seconds())
}

// RecordQuery records a single query's outcome and duration.
func (e *PrometheusExporter) RecordQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.dbMetrics.QueryDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
	e.dbMetrics.QueriesTotal.WithLabelValues(operation, status).Inc()
}
