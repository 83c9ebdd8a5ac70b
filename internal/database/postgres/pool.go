package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPool wraps a pgxpool.Pool with connection lifecycle management,
// periodic health checks, and metrics the rest of the engine doesn't have
// to reimplement each time it opens a Postgres connection. Query execution
// itself goes straight through the pgxpool.Pool returned by Pool(); this
// wrapper covers connect/disconnect/health/metrics only.
type PostgresPool struct {
	pool     *pgxpool.Pool
	config   *PostgresConfig
	logger   *slog.Logger
	metrics  *PoolMetrics
	health   HealthChecker
	isClosed atomic.Bool
	closeCh  chan struct{}
}

// NewPostgresPool builds a pool wrapper; call Connect to open it.
func NewPostgresPool(config *PostgresConfig, logger *slog.Logger) *PostgresPool {
	if logger == nil {
		logger = slog.Default()
	}

	pool := &PostgresPool{
		config:  config,
		logger:  logger,
		metrics: NewPoolMetrics(),
		closeCh: make(chan struct{}),
	}
	pool.health = NewHealthChecker(pool)

	return pool
}

// Connect opens the underlying pgxpool.Pool and starts periodic health
// checks against it.
func (p *PostgresPool) Connect(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	if err := p.config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p.logger.Info("connecting to postgres",
		"host", p.config.Host,
		"port", p.config.Port,
		"database", p.config.Database,
		"max_conns", p.config.MaxConns,
		"min_conns", p.config.MinConns)

	poolConfig, err := pgxpool.ParseConfig(p.config.DSN())
	if err != nil {
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	poolConfig.MaxConns = p.config.MaxConns
	poolConfig.MinConns = p.config.MinConns
	poolConfig.MaxConnLifetime = p.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = p.config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = p.config.HealthCheckPeriod

	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	p.pool = pool
	connectionTime := time.Since(start)
	p.metrics.RecordConnectionWait(connectionTime)
	p.metrics.RecordSuccessfulConnection()

	p.logger.Info("connected to postgres", "connection_time", connectionTime)

	if checker, ok := p.health.(*DefaultHealthChecker); ok {
		periodic := NewPeriodicHealthChecker(checker, p.config.HealthCheckPeriod)
		go periodic.Start(ctx)
	}

	return nil
}

// Disconnect closes the pool.
func (p *PostgresPool) Disconnect(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	p.logger.Info("disconnecting from postgres")

	select {
	case p.closeCh <- struct{}{}:
	default:
	}

	p.pool.Close()
	p.isClosed.Store(true)
	return nil
}

// IsConnected reports whether the pool currently has live connections.
func (p *PostgresPool) IsConnected() bool {
	if p.isClosed.Load() || p.pool == nil {
		return false
	}
	return p.pool.Stat().TotalConns() > 0
}

// Health runs the pool's health checker.
func (p *PostgresPool) Health(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}
	if p.pool == nil {
		return ErrNotConnected
	}
	return p.health.CheckHealth(ctx)
}

// Stats returns a snapshot of the pool's connection metrics.
func (p *PostgresPool) Stats() PoolStats {
	if p.pool == nil {
		return PoolStats{}
	}

	poolStats := p.pool.Stat()
	totalConns := int64(poolStats.TotalConns())
	p.metrics.UpdateConnectionStats(poolStats.AcquiredConns(), poolStats.IdleConns(), totalConns)

	return p.metrics.Snapshot()
}

// Close disconnects the pool; it satisfies io.Closer.
func (p *PostgresPool) Close() error {
	return p.Disconnect(context.Background())
}

// Pool returns the underlying pgxpool.Pool so callers (the capture
// Gateway) can run queries directly without going through this wrapper.
func (p *PostgresPool) Pool() *pgxpool.Pool {
	return p.pool
}
