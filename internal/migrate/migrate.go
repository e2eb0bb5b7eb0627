// Package migrate applies versioned SQL migrations to either backend,
// tracking what has already run in a schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// Migrator applies .sql files from an embedded filesystem in lexical order,
// recording each one in schema_migrations so AutoMigrate is idempotent.
type Migrator struct {
	db      *sql.DB
	dialect string // "postgres" or "sqlite"
}

// New creates a Migrator for the given dialect ("postgres" or "sqlite").
func New(db *sql.DB, dialect string) *Migrator {
	return &Migrator{db: db, dialect: dialect}
}

type migration struct {
	name    string
	content string
}

// AutoMigrate ensures the schema_migrations bookkeeping table exists, then
// applies every migration under dir in fsys that has not already run.
func (m *Migrator) AutoMigrate(ctx context.Context, fsys embed.FS, dir string) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	migrations, err := loadMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("migrate: load migrations from %s: %w", dir, err)
	}
	if len(migrations) == 0 {
		return nil
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("migrate: list applied migrations: %w", err)
	}

	for _, mig := range migrations {
		if applied[mig.name] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", mig.name, err)
		}
	}
	return nil
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	createSQL := `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at BIGINT NOT NULL)`
	if m.dialect == "sqlite" {
		createSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`
	}
	_, err := m.db.ExecContext(ctx, createSQL)
	return err
}

func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(mig.content) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", mig.name, err)
		}
	}

	insertSQL := "INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)"
	if m.dialect == "sqlite" {
		insertSQL = "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"
	}
	if _, err := tx.ExecContext(ctx, insertSQL, mig.name, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func loadMigrations(fsys embed.FS, dir string) ([]migration, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fsys.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, migration{name: entry.Name(), content: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].name < migrations[j].name })
	return migrations, nil
}

// splitStatements splits a migration file on statement-terminating
// semicolons. It is intentionally naive (no string-literal awareness)
// because migration files are authored by us, not by end users, and never
// embed a literal ";".
func splitStatements(content string) []string {
	parts := strings.Split(content, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		stmts = append(stmts, p)
	}
	return stmts
}

// ApplyTemplate replaces {{KEY}} placeholders in content with vars[KEY]. Used
// by the Postgres backend to name-substitute a tenant's partition suffix.
func ApplyTemplate(content string, vars map[string]string) string {
	result := content
	for key, value := range vars {
		result = strings.ReplaceAll(result, fmt.Sprintf("{{%s}}", key), value)
	}
	return result
}

// SanitizeIdentifier restricts name to characters safe for use as a bare SQL
// identifier fragment (alphanumeric and underscore), replacing everything
// else with underscore.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_':
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
