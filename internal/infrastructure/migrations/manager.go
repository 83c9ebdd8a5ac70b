package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

// MigrationConfig configures the goose-based migration runner.
type MigrationConfig struct {
	Driver  string
	DSN     string
	Dialect string

	Dir   string
	Table string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// Logger is not populated from env.
	Logger *slog.Logger
}

// MigrationManager drives goose against the capture schema's migration
// directory.
type MigrationManager struct {
	config *MigrationConfig
	db     *sql.DB
	logger *slog.Logger
}

// NewMigrationManager opens the migration DB connection and prepares a
// runner for it.
func NewMigrationManager(config *MigrationConfig) (*MigrationManager, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}

	return &MigrationManager{config: config, db: db, logger: logger}, nil
}

// DB exposes the underlying connection so collaborators (the health
// checker) can run their own queries against the same database without
// opening a second connection.
func (mm *MigrationManager) DB() *sql.DB {
	return mm.db
}

// Connect verifies the database is reachable.
func (mm *MigrationManager) Connect(ctx context.Context) error {
	if err := mm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	mm.logger.Info("connected to database for migrations", "driver", mm.config.Driver, "dialect", mm.config.Dialect)
	return nil
}

// Disconnect closes the database connection.
func (mm *MigrationManager) Disconnect(ctx context.Context) error {
	if mm.db == nil {
		return nil
	}
	if err := mm.db.Close(); err != nil {
		return fmt.Errorf("close database connection: %w", err)
	}
	mm.logger.Info("disconnected from database")
	return nil
}

func (mm *MigrationManager) setDialect() error {
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Up applies every pending migration.
func (mm *MigrationManager) Up(ctx context.Context) error {
	if err := mm.setDialect(); err != nil {
		return err
	}
	start := time.Now()
	if err := goose.Up(mm.db, mm.config.Dir); err != nil {
		version, _ := goose.GetDBVersion(mm.db)
		return &MigrationError{Operation: "up", Version: version, Cause: err, Timestamp: time.Now()}
	}
	mm.logger.Info("migrations applied", "duration", time.Since(start))
	return nil
}

// Down rolls back every applied migration.
func (mm *MigrationManager) Down(ctx context.Context) error {
	if err := mm.setDialect(); err != nil {
		return err
	}
	start := time.Now()
	if err := goose.Reset(mm.db, mm.config.Dir); err != nil {
		version, _ := goose.GetDBVersion(mm.db)
		return &MigrationError{Operation: "down", Version: version, Cause: err, Timestamp: time.Now()}
	}
	mm.logger.Info("migrations rolled back", "duration", time.Since(start))
	return nil
}

// Version returns the current goose schema version.
func (mm *MigrationManager) Version(ctx context.Context) (int64, error) {
	if err := mm.setDialect(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersion(mm.db)
	if err != nil {
		return 0, fmt.Errorf("get migration version: %w", err)
	}
	return version, nil
}

// Status prints goose's own migration status report to stdout; goose
// does not expose a structured form of this report.
func (mm *MigrationManager) Status(ctx context.Context) error {
	if err := mm.setDialect(); err != nil {
		return err
	}
	if err := goose.Status(mm.db, mm.config.Dir); err != nil {
		return fmt.Errorf("get migration status: %w", err)
	}
	return nil
}
