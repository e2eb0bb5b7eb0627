package migrate

import (
	"context"
	"database/sql"
	"embed"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

//go:embed testdata
var testFS embed.FS

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAutoMigrateCreatesMigrationsTable(t *testing.T) {
	db := setupTestDB(t)
	migrator := New(db, "sqlite")

	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'`).Scan(&name)
	require.Error(t, err, "schema_migrations should not exist yet")

	require.NoError(t, migrator.AutoMigrate(context.Background(), testFS, "testdata"))

	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "schema_migrations", name)
}

func TestAutoMigrateAppliesPendingMigrations(t *testing.T) {
	db := setupTestDB(t)
	migrator := New(db, "sqlite")

	require.NoError(t, migrator.AutoMigrate(context.Background(), testFS, "testdata"))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	require.Greater(t, count, 0)

	var tableName string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='widgets'`).Scan(&tableName)
	require.NoError(t, err, "migration's table should exist after AutoMigrate")
}

func TestAutoMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	migrator := New(db, "sqlite")

	require.NoError(t, migrator.AutoMigrate(context.Background(), testFS, "testdata"))
	var first int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&first))

	require.NoError(t, migrator.AutoMigrate(context.Background(), testFS, "testdata"))
	var second int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&second))

	require.Equal(t, first, second)
}

func TestAutoMigrateRecordsVersionAndTimestamp(t *testing.T) {
	db := setupTestDB(t)
	migrator := New(db, "sqlite")
	require.NoError(t, migrator.AutoMigrate(context.Background(), testFS, "testdata"))

	var version string
	var appliedAt int64
	require.NoError(t, db.QueryRow(`SELECT version, applied_at FROM schema_migrations LIMIT 1`).Scan(&version, &appliedAt))
	require.NotEmpty(t, version)
	require.NotZero(t, appliedAt)
}

func TestApplyTemplateSubstitutesPlaceholders(t *testing.T) {
	content := "CREATE TABLE streams_{{SUFFIX}} PARTITION OF streams FOR VALUES IN ('{{PARTITION}}');"
	got := ApplyTemplate(content, map[string]string{"SUFFIX": "t1", "PARTITION": "T1"})
	require.Equal(t, "CREATE TABLE streams_t1 PARTITION OF streams FOR VALUES IN ('T1');", got)
}

func TestSanitizeIdentifierReplacesUnsafeCharacters(t *testing.T) {
	require.Equal(t, "tenant_a_1", SanitizeIdentifier("tenant-a.1"))
}
