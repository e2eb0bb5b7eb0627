// Package postgres is the production Store backend: native list-partitioned
// tables, a single process-wide global sequence, and per-stream advisory
// locks for optimistic-concurrency safety under concurrent writers.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/migrate"
	"github.com/eventedge/eventstore/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store implements eventstore.Store against Postgres.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	attached map[string]bool // best-effort cache of partitions already attached
}

var _ eventstore.Store = (*Store)(nil)

// Open opens a Postgres connection pool at dsn, runs the core schema
// migrations, and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(ctx, db)
}

// New wraps an already-open *sql.DB, running the core schema migrations.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	migrator := migrate.New(db, "postgres")
	if err := migrator.AutoMigrate(ctx, migrations.PostgresFS, "postgres"); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{db: db, attached: make(map[string]bool)}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection pool for projection handlers, which
// need to run their own statements against the same database the consumer
// reads events from.
func (s *Store) DB() *sql.DB { return s.db }
