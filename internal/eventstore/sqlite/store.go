// Package sqlite is the embedded/dev/test Store backend. It speaks the same
// eventstore.Store contract as the postgres package but keeps everything in
// a single file (or :memory:) with no physical partitioning and no advisory
// locks; a mutex plays their role instead.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/migrate"
	"github.com/eventedge/eventstore/migrations"

	_ "modernc.org/sqlite"
)

// Store implements eventstore.Store against SQLite.
type Store struct {
	db *sql.DB

	// SQLite serializes writers at the connection level anyway, but a single
	// logical lock keeps the read-current-position / write-next-position
	// sequence atomic across the two statements that make it up, mirroring
	// what the Postgres backend gets for free from advisory locks.
	mu sync.Mutex
}

var _ eventstore.Store = (*Store)(nil)

// Open opens (or creates) the SQLite database file at path, or an in-memory
// database for path == ":memory:", and runs the core schema migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// The embedded driver does not handle concurrent writers across
	// connections gracefully; a single connection plus our own mutex keeps
	// behavior predictable for the dev/test backend.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return New(ctx, db)
}

// New wraps an already-open *sql.DB, running the core schema migrations.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	migrator := migrate.New(db, "sqlite")
	if err := migrator.AutoMigrate(ctx, migrations.SQLiteFS, "sqlite"); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection for projection handlers.
func (s *Store) DB() *sql.DB { return s.db }

// EnsurePartition is a no-op: SQLite has no declarative partitioning, so
// "partition" is carried as a plain filter column present from the first
// migration onward.
func (s *Store) EnsurePartition(ctx context.Context, partition string) error { return nil }
