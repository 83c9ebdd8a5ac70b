package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vitaliisemenov/data-capture/internal/capture"
	capturestorage "github.com/vitaliisemenov/data-capture/internal/capture/storage"
	"github.com/vitaliisemenov/data-capture/internal/config"
	"github.com/vitaliisemenov/data-capture/internal/database/postgres"
	"github.com/vitaliisemenov/data-capture/pkg/metrics"
)

// NewGateway builds the capture.Gateway appropriate for cfg's deployment
// profile: an embedded SQLite database for the lite profile, or a pgx
// connection pool for the standard profile. Calling the returned close
// function (non-nil whenever err is nil) releases the underlying
// connection(s).
func NewGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (capture.Gateway, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, &ErrInvalidProfile{Profile: string(cfg.Profile), Cause: err}
	}

	start := time.Now()

	switch {
	case cfg.IsLiteProfile():
		gw, closeFn, err := newSQLiteGateway(cfg, logger)
		if err != nil {
			return nil, nil, &ErrGatewayInitFailed{Backend: "sqlite", Profile: string(cfg.Profile), Cause: err}
		}
		InitDuration.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
		SetBackendType("sqlite", 1)
		SetHealthStatus("sqlite", true)
		return gw, closeFn, nil

	case cfg.IsStandardProfile():
		gw, closeFn, err := newPostgresGateway(ctx, cfg, logger)
		if err != nil {
			return nil, nil, &ErrGatewayInitFailed{Backend: "postgres", Profile: string(cfg.Profile), Cause: err}
		}
		InitDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
		SetBackendType("postgres", 2)
		SetHealthStatus("postgres", true)
		return gw, closeFn, nil

	default:
		return nil, nil, &ErrInvalidProfile{Profile: string(cfg.Profile), Cause: fmt.Errorf("unknown deployment profile")}
	}
}

func newSQLiteGateway(cfg *config.Config, logger *slog.Logger) (capture.Gateway, func() error, error) {
	path := cfg.Storage.FilesystemPath
	if path == "" {
		return nil, nil, &ErrInvalidFilePath{Path: path, Reason: "empty"}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create sqlite data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer semantics; reads and writes share one connection

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if fi, err := os.Stat(path); err == nil {
		SQLiteFileSizeBytes.Set(float64(fi.Size()))
	}

	logger.Info("sqlite gateway ready", "path", path)
	return capturestorage.NewSQLiteGateway(db), db.Close, nil
}

// newPostgresGateway connects through postgres.PostgresPool so the engine
// gets that wrapper's health checker and Prometheus connection metrics for
// free, then hands the underlying *pgxpool.Pool to capturestorage for the
// actual capture.Gateway implementation.
func newPostgresGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (capture.Gateway, func() error, error) {
	pgCfg := &postgres.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.Username,
		Password:          cfg.Database.Password,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          int32(cfg.Database.MaxConnections),
		MinConns:          int32(cfg.Database.MinConnections),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}
	if pgCfg.MaxConns == 0 {
		pgCfg.MaxConns = 20
	}
	if pgCfg.MinConns == 0 {
		pgCfg.MinConns = 2
	}

	pool := postgres.NewPostgresPool(pgCfg, logger)
	if err := pool.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect postgres pool: %w", err)
	}

	stats := pool.Stats()
	logger.Info("postgres gateway ready",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database,
		"total_conns", stats.TotalConnections,
	)

	exporter := postgres.NewPrometheusExporter(pool, metrics.DefaultRegistry().Infra().DB)
	exporter.Start(ctx, 15*time.Second)

	closeFn := func() error {
		exporter.Stop()
		return pool.Disconnect(context.Background())
	}
	return capturestorage.NewPostgresGateway(pool.Pool()), closeFn, nil
}
