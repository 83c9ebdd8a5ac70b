package capture

import (
	"context"
	"time"
)

// Clock supplies monotonic wall timestamps for every write. Injected so
// tests can pin time and so the core never calls time.Now() directly.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the runtime wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ActorSource resolves the acting principal when a caller does not supply
// one explicitly. Most operations take an actor id as an argument; this
// hook exists for collaborators (CLI, job runners) that want a single
// point of identity resolution instead of threading it through every call.
type ActorSource interface {
	Actor(ctx context.Context) (string, error)
}

// StaticActorSource always resolves to the same configured actor id.
// Useful for CLIs and batch jobs run under a fixed service identity.
type StaticActorSource string

func (a StaticActorSource) Actor(context.Context) (string, error) {
	return string(a), nil
}

// Row scans a single result row. Mirrors pgx.Row / *sql.Row so both
// backends can be driven through the same call sites.
type Row interface {
	Scan(dest ...any) error
}

// Rows iterates a multi-row result set.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Result reports the effect of a parameterized write.
type Result interface {
	RowsAffected() (int64, error)
}

// Querier is the read/write surface shared by the Gateway itself and by
// an open Tx, so repository code can be written once against either.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Exec(ctx context.Context, query string, args ...any) (Result, error)
}

// Tx is an open transaction. A transaction must not escape the facade
// call that opened it; every query issued against it uses the same
// underlying connection.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Dialect names the SQL dialect a Gateway speaks, for the handful of
// statements (row-locking reads, upsert syntax) that are not portable.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Gateway is the thin, transactional abstraction over a relational store
// that every other component depends on: begin/commit/rollback,
// parameterized reads and writes, and enough dialect awareness for the
// Value Versioner's row-locking read. It is satisfied by both the
// PostgreSQL-backed and the SQLite-backed implementations in
// internal/capture/storage, so the rest of the core is storage-agnostic.
type Gateway interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Dialect() Dialect
}
