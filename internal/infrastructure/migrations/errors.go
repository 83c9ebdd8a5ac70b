package migrations

import (
	"fmt"
	"time"
)

// MigrationError wraps a goose failure with the operation and version it
// occurred at, so callers can log structured context instead of a bare
// driver error.
type MigrationError struct {
	Operation string
	Version   int64
	Cause     error
	Timestamp time.Time
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed at version %d: %v", e.Operation, e.Version, e.Cause)
}

func (e *MigrationError) Unwrap() error {
	return e.Cause
}
