// Package storage implements the capture.Gateway contract over the two
// supported backends: PostgreSQL via pgx, and an embedded SQLite database
// via modernc.org/sqlite's pure-Go driver through database/sql.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/data-capture/internal/capture"
)

// NewPostgresGateway wraps an existing pgxpool.Pool as a capture.Gateway.
func NewPostgresGateway(pool *pgxpool.Pool) capture.Gateway {
	return &gateway{pg: pool, dialect: capture.DialectPostgres}
}

// NewSQLiteGateway wraps an existing *sql.DB (opened against
// modernc.org/sqlite) as a capture.Gateway.
func NewSQLiteGateway(db *sql.DB) capture.Gateway {
	return &gateway{sqldb: db, dialect: capture.DialectSQLite}
}

type gateway struct {
	pg      *pgxpool.Pool
	sqldb   *sql.DB
	dialect capture.Dialect
}

func (g *gateway) Dialect() capture.Dialect { return g.dialect }

func (g *gateway) QueryRow(ctx context.Context, query string, args ...any) capture.Row {
	if g.pg != nil {
		return &pgxRow{g.pg.QueryRow(ctx, query, args...)}
	}
	return &sqlRow{g.sqldb.QueryRowContext(ctx, query, args...)}
}

func (g *gateway) Query(ctx context.Context, query string, args ...any) (capture.Rows, error) {
	if g.pg != nil {
		rows, err := g.pg.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return &pgxRows{rows}, nil
	}
	rows, err := g.sqldb.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows}, nil
}

func (g *gateway) Exec(ctx context.Context, query string, args ...any) (capture.Result, error) {
	if g.pg != nil {
		tag, err := g.pg.Exec(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return &pgxResult{tag}, nil
	}
	res, err := g.sqldb.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlResult{res}, nil
}

func (g *gateway) Begin(ctx context.Context) (capture.Tx, error) {
	if g.pg != nil {
		tx, err := g.pg.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return &pgxTx{tx}, nil
	}
	// modernc.org/sqlite allows only one writer at a time and the *sql.DB
	// that internal/storage hands to NewSQLiteGateway is capped at a single
	// connection, so every transaction on this gateway already runs fully
	// serialized against the others; there is no separate row-lock
	// statement needed to match Postgres's FOR UPDATE here. busy_timeout
	// bounds how long a statement waits on a database lock held by another
	// connection to the same file before giving up.
	if _, err := g.sqldb.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	tx, err := g.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx}, nil
}

// ---- pgx adapters ----

type pgxRow struct{ row pgx.Row }

func (r *pgxRow) Scan(dest ...any) error { return r.row.Scan(dest...) }

type pgxRows struct{ rows pgx.Rows }

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Close() error           { r.rows.Close(); return nil }
func (r *pgxRows) Err() error             { return r.rows.Err() }

type pgxResult struct{ tag pgconn.CommandTag }

func (r *pgxResult) RowsAffected() (int64, error) { return r.tag.RowsAffected(), nil }

type pgxTx struct{ tx pgx.Tx }

func (t *pgxTx) QueryRow(ctx context.Context, query string, args ...any) capture.Row {
	return &pgxRow{t.tx.QueryRow(ctx, query, args...)}
}

func (t *pgxTx) Query(ctx context.Context, query string, args ...any) (capture.Rows, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows}, nil
}

func (t *pgxTx) Exec(ctx context.Context, query string, args ...any) (capture.Result, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgxResult{tag}, nil
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// ---- database/sql adapters (SQLite) ----

type sqlRow struct{ row *sql.Row }

func (r *sqlRow) Scan(dest ...any) error { return r.row.Scan(dest...) }

type sqlRows struct{ rows *sql.Rows }

func (r *sqlRows) Next() bool             { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *sqlRows) Close() error           { return r.rows.Close() }
func (r *sqlRows) Err() error             { return r.rows.Err() }

type sqlResult struct{ result sql.Result }

func (r *sqlResult) RowsAffected() (int64, error) { return r.result.RowsAffected() }

type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...any) capture.Row {
	return &sqlRow{t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (capture.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows}, nil
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (capture.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlResult{res}, nil
}

func (t *sqlTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// IsNoRows reports whether err is the "no matching row" sentinel from
// either backend's Scan path.
func IsNoRows(err error) bool {
	return err == pgx.ErrNoRows || err == sql.ErrNoRows
}
