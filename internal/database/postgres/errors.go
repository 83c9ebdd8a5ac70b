package postgres

import "errors"

// Sentinel errors returned by PostgresPool.
var (
	ErrNotConnected      = errors.New("database pool is not connected")
	ErrConnectionFailed  = errors.New("failed to connect to database")
	ErrConnectionClosed  = errors.New("database connection pool is closed")
	ErrHealthCheckFailed = errors.New("database health check failed")
	ErrInvalidConfig     = errors.New("invalid database configuration")
)
