// Package db provides the connection-pool abstraction, bulk-load helpers,
// schema migrations, and the Repository implementations (Postgres and
// sqlite) backing Entity/FilingSearch/DownloadedFiling/TaxonomyLibrary
// access. Every write that claims on-disk state first passes through
// internal/acquire's verification steps; this package never writes a
// "completed" row on its own initiative.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of *pgxpool.Pool this module depends on. Declaring it
// as an interface (rather than importing *pgxpool.Pool everywhere) lets
// tests substitute pgxmock, and lets the sqlite-backed Repository share the
// same migration/bulk-load helpers where semantics line up.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}
