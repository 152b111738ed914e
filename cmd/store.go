package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-acquirer/internal/db"
)

// initRepository opens the configured backend (postgres or sqlite),
// running migrations for postgres (sqlite applies its schema on open).
// Mirrors the teacher's driver-switch initStore pattern.
func initRepository(ctx context.Context) (db.Repository, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "filings.db"
		}
		repo, err := db.OpenSQLite(dsn)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: create connection pool")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, eris.Wrap(err, "store: ping database")
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, eris.Wrap(err, "store: run migrations")
		}
		repo := db.NewPostgresRepository(pool)
		return repo, func() { pool.Close() }, nil

	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
