package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// HealthChecker runs sanity checks against the migration database before
// and after a migration run.
type HealthChecker struct {
	db     *sql.DB
	config *HealthConfig
	logger *slog.Logger
	dbType string
}

// HealthConfig configures health-check behavior.
type HealthConfig struct {
	Enabled    bool
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// HealthCheck is a single named health probe.
type HealthCheck func(ctx context.Context) error

// NewHealthChecker builds a health checker against db, auto-detecting
// whether it is talking to Postgres or SQLite.
func NewHealthChecker(db *sql.DB, config *HealthConfig, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}

	hc := &HealthChecker{db: db, config: config, logger: logger}

	if err := hc.detectDatabaseType(context.Background()); err != nil {
		logger.Warn("failed to detect database type", "error", err)
	}

	return hc
}

// PreMigrationCheck verifies the database is reachable and its migration
// bookkeeping is internally consistent before applying new migrations.
func (hc *HealthChecker) PreMigrationCheck(ctx context.Context) error {
	if !hc.config.Enabled {
		hc.logger.Info("health checks disabled")
		return nil
	}

	hc.logger.Info("running pre-migration health checks")

	checks := []struct {
		name string
		fn   HealthCheck
	}{
		{"database_connectivity", hc.checkDatabaseConnectivity},
		{"existing_migrations", hc.checkExistingMigrations},
		{"foreign_keys", hc.checkForeignKeys},
	}

	for _, check := range checks {
		if err := hc.executeCheck(ctx, check.name, check.fn); err != nil {
			return fmt.Errorf("pre-migration health check %q failed: %w", check.name, err)
		}
	}

	hc.logger.Info("all pre-migration health checks passed")
	return nil
}

// PostMigrationCheck verifies the schema and data are consistent after
// applying migrations.
func (hc *HealthChecker) PostMigrationCheck(ctx context.Context) error {
	if !hc.config.Enabled {
		hc.logger.Info("health checks disabled")
		return nil
	}

	hc.logger.Info("running post-migration health checks")

	checks := []struct {
		name string
		fn   HealthCheck
	}{
		{"database_connectivity", hc.checkDatabaseConnectivity},
		{"schema_integrity", hc.checkSchemaIntegrity},
		{"data_consistency", hc.checkDataConsistency},
		{"foreign_keys", hc.checkForeignKeys},
	}

	for _, check := range checks {
		if err := hc.executeCheck(ctx, check.name, check.fn); err != nil {
			return fmt.Errorf("post-migration health check %q failed: %w", check.name, err)
		}
	}

	hc.logger.Info("all post-migration health checks passed")
	return nil
}

func (hc *HealthChecker) executeCheck(ctx context.Context, name string, check HealthCheck) error {
	checkCtx, cancel := context.WithTimeout(ctx, hc.config.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < hc.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(hc.config.RetryDelay):
			case <-checkCtx.Done():
				return checkCtx.Err()
			}
		}

		if err := check(checkCtx); err != nil {
			lastErr = err
			hc.logger.Warn("health check failed, retrying", "check", name, "attempt", attempt+1, "error", err)
			continue
		}
		return nil
	}

	return fmt.Errorf("health check %q failed after %d attempts: %w", name, hc.config.RetryCount, lastErr)
}

func (hc *HealthChecker) checkDatabaseConnectivity(ctx context.Context) error {
	if err := hc.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	return nil
}

// checkExistingMigrations confirms the goose bookkeeping table has no gaps
// in its applied-version sequence.
func (hc *HealthChecker) checkExistingMigrations(ctx context.Context) error {
	var exists bool
	if hc.dbType == "postgres" {
		query := "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'goose_db_version')"
		if err := hc.db.QueryRowContext(ctx, query).Scan(&exists); err != nil || !exists {
			return nil
		}
	} else {
		query := "SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name='goose_db_version'"
		if err := hc.db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
			return fmt.Errorf("check migration table: %w", err)
		}
		if !exists {
			return nil
		}
	}

	rows, err := hc.db.QueryContext(ctx, "SELECT version_id, is_applied FROM goose_db_version ORDER BY version_id")
	if err != nil {
		return fmt.Errorf("query migration status: %w", err)
	}
	defer rows.Close()

	var lastVersion int64
	for rows.Next() {
		var versionID int64
		var isApplied bool
		if err := rows.Scan(&versionID, &isApplied); err != nil {
			return fmt.Errorf("scan migration status: %w", err)
		}
		if isApplied && versionID > lastVersion+1 {
			return fmt.Errorf("missing migration between %d and %d", lastVersion, versionID)
		}
		if isApplied {
			lastVersion = versionID
		}
	}
	return nil
}

// checkForeignKeys runs PRAGMA foreign_key_check on SQLite; Postgres
// enforces foreign keys inline so there is nothing to detect after the
// fact.
func (hc *HealthChecker) checkForeignKeys(ctx context.Context) error {
	if hc.dbType != "sqlite" {
		return nil
	}

	rows, err := hc.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	defer rows.Close()

	violations := 0
	for rows.Next() {
		violations++
		var table, rowid, parent, fkid string
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("scan foreign key violation: %w", err)
		}
		hc.logger.Warn("foreign key violation detected", "table", table, "rowid", rowid, "parent", parent, "fkid", fkid)
	}
	if violations > 0 {
		return fmt.Errorf("found %d foreign key violations", violations)
	}
	return nil
}

// checkSchemaIntegrity verifies every table this engine depends on exists.
func (hc *HealthChecker) checkSchemaIntegrity(ctx context.Context) error {
	expectedTables := []string{
		"field_definition",
		"field_definition_version",
		"context_group",
		"context_group_item",
		"capture_data",
		"capture_data_version",
		"audit_event",
		"goose_db_version",
	}

	for _, table := range expectedTables {
		var exists bool
		if hc.dbType == "postgres" {
			query := "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)"
			if err := hc.db.QueryRowContext(ctx, query, table).Scan(&exists); err != nil {
				return fmt.Errorf("check table existence for %s: %w", table, err)
			}
		} else {
			query := "SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?"
			if err := hc.db.QueryRowContext(ctx, query, table).Scan(&exists); err != nil {
				return fmt.Errorf("check table existence for %s: %w", table, err)
			}
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// checkDataConsistency looks for capture_data rows whose context group was
// deleted out from under them.
func (hc *HealthChecker) checkDataConsistency(ctx context.Context) error {
	var orphanedCount int
	query := `
		SELECT COUNT(*)
		FROM capture_data d
		LEFT JOIN context_group g ON d.context_group_id = g.id
		WHERE g.id IS NULL`
	if err := hc.db.QueryRowContext(ctx, query).Scan(&orphanedCount); err != nil {
		return fmt.Errorf("check orphaned capture_data rows: %w", err)
	}

	if orphanedCount > 0 {
		hc.logger.Warn("found orphaned capture_data records", "count", orphanedCount)
	}
	return nil
}

func (hc *HealthChecker) detectDatabaseType(ctx context.Context) error {
	var sqliteResult string
	if err := hc.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&sqliteResult); err == nil {
		hc.dbType = "sqlite"
		return nil
	}

	var pgResult int
	if err := hc.db.QueryRowContext(ctx, "SELECT 1").Scan(&pgResult); err == nil {
		hc.dbType = "postgres"
		return nil
	}

	hc.dbType = "unknown"
	return fmt.Errorf("unable to determine database type")
}

// GetDatabaseType returns the database flavor this checker detected.
func (hc *HealthChecker) GetDatabaseType() string {
	return hc.dbType
}
