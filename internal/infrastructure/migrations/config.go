package migrations

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// LoadConfig loads the migration runner's configuration from environment
// variables.
func LoadConfig() (*MigrationConfig, error) {
	config := &MigrationConfig{
		Driver:     getEnvString("MIGRATION_DRIVER", "postgres"),
		DSN:        getEnvString("MIGRATION_DSN", ""),
		Dir:        getEnvString("MIGRATION_DIR", "migrations"),
		Table:      getEnvString("MIGRATION_TABLE", "goose_db_version"),
		Timeout:    getEnvDuration("MIGRATION_TIMEOUT", 5*time.Minute),
		MaxRetries: getEnvInt("MIGRATION_MAX_RETRIES", 3),
		RetryDelay: getEnvDuration("MIGRATION_RETRY_DELAY", 5*time.Second),
	}
	config.Dialect = getEnvString("MIGRATION_DIALECT", config.Driver)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration configuration: %w", err)
	}

	return config, nil
}

// Validate checks that config has everything the goose runner needs.
func (c *MigrationConfig) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("database driver cannot be empty")
	}
	if c.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.Dir == "" {
		return fmt.Errorf("migration directory cannot be empty")
	}
	if c.Table == "" {
		return fmt.Errorf("migration table name cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	return nil
}

// LoadHealthConfig loads health-check settings from environment variables.
func LoadHealthConfig() (*HealthConfig, error) {
	config := &HealthConfig{
		Enabled:    getEnvBool("HEALTH_ENABLED", true),
		Timeout:    getEnvDuration("HEALTH_TIMEOUT", 30*time.Second),
		RetryCount: getEnvInt("HEALTH_RETRY_COUNT", 3),
		RetryDelay: getEnvDuration("HEALTH_RETRY_DELAY", 5*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid health configuration: %w", err)
	}

	return config, nil
}

// Validate checks health-check settings.
func (hc *HealthConfig) Validate() error {
	if hc.Timeout <= 0 {
		return fmt.Errorf("health timeout must be positive")
	}
	if hc.RetryCount < 0 {
		return fmt.Errorf("retry count cannot be negative")
	}
	if hc.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// PrintConfig logs the resolved configuration at startup.
func (c *MigrationConfig) PrintConfig(logger *slog.Logger) {
	logger.Info("migration configuration",
		"driver", c.Driver,
		"dialect", c.Dialect,
		"dir", c.Dir,
		"table", c.Table,
		"timeout", c.Timeout,
	)
}
