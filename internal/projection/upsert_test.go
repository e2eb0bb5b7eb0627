package projection_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/projection"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openUpsertTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE widgets (
		stream_id TEXT NOT NULL,
		partition TEXT NOT NULL,
		name TEXT,
		last_stream_position INTEGER NOT NULL DEFAULT -1,
		last_global_position INTEGER NOT NULL DEFAULT -1,
		PRIMARY KEY (stream_id, partition)
	)`)
	require.NoError(t, err)
	return db
}

func applyName(name string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO widgets (stream_id, partition, name) VALUES (?, ?, ?)
			ON CONFLICT (stream_id, partition) DO UPDATE SET name = excluded.name`,
			"widget-1", "default_partition", name)
		return err
	}
}

func TestUpsertIfNewerAppliesFirstEvent(t *testing.T) {
	db := openUpsertTestDB(t)
	ctx := context.Background()

	event := eventstore.Event{StreamID: "widget-1", StreamPosition: 1, GlobalPosition: 1}
	err := projection.UpsertIfNewer(ctx, db, "widgets",
		map[string]any{"stream_id": "widget-1", "partition": "default_partition"},
		event, applyName("first"))
	require.NoError(t, err)

	var name string
	var lastPos int64
	require.NoError(t, db.QueryRow(`SELECT name, last_stream_position FROM widgets WHERE stream_id = ?`, "widget-1").
		Scan(&name, &lastPos))
	require.Equal(t, "first", name)
	require.Equal(t, int64(1), lastPos)
}

func TestUpsertIfNewerSkipsStaleEvent(t *testing.T) {
	db := openUpsertTestDB(t)
	ctx := context.Background()
	keys := map[string]any{"stream_id": "widget-1", "partition": "default_partition"}

	require.NoError(t, projection.UpsertIfNewer(ctx, db, "widgets", keys,
		eventstore.Event{StreamPosition: 2, GlobalPosition: 2}, applyName("second")))

	// A redelivered, older event must not overwrite the newer state.
	require.NoError(t, projection.UpsertIfNewer(ctx, db, "widgets", keys,
		eventstore.Event{StreamPosition: 1, GlobalPosition: 1}, applyName("stale")))

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM widgets WHERE stream_id = ?`, "widget-1").Scan(&name))
	require.Equal(t, "second", name)
}

func TestUpsertIfNewerRollsBackOnApplyError(t *testing.T) {
	db := openUpsertTestDB(t)
	ctx := context.Background()
	keys := map[string]any{"stream_id": "widget-1", "partition": "default_partition"}

	err := projection.UpsertIfNewer(ctx, db, "widgets", keys,
		eventstore.Event{StreamPosition: 1, GlobalPosition: 1},
		func(tx *sql.Tx) error { return sql.ErrTxDone })
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 0, count)
}
