package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/eventedge/eventstore/internal/eventstore"
)

// UpsertIfNewer guards a read-model write against out-of-order or
// re-delivered events, and against two consumers racing on the same
// subscription and partition (permitted by the at-least-once delivery
// model). The guard's read and apply's write run inside the same
// transaction: on Postgres the guard takes SELECT ... FOR UPDATE on the
// target row, so a second concurrent caller blocks until the first commits
// its stamped last_stream_position and then observes it is no longer
// newer; on SQLite the embedded driver's single connection already
// serializes every transaction against the same *sql.DB, giving the same
// effect without row-level locking. A missing row is treated as position
// -1. If event.StreamPosition is not strictly newer than what's stamped,
// apply is rolled back and skipped.
func UpsertIfNewer(ctx context.Context, db *sql.DB, tableName string, keyColumns map[string]any, event eventstore.Event, apply func(tx *sql.Tx) error) error {
	placeholders := placeholderFormat(db)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eventstore.NewStorageError("begin_upsert_tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prior, found, err := lastStreamPosition(ctx, tx, placeholders, tableName, keyColumns, isPostgres(db))
	if err != nil {
		return eventstore.NewStorageError("read_last_stream_position", err)
	}
	if !found {
		prior = -1
	}
	if event.StreamPosition <= prior {
		return nil
	}

	if err := apply(tx); err != nil {
		return err
	}

	if err := stampPositions(ctx, tx, placeholders, tableName, keyColumns, event); err != nil {
		return eventstore.NewStorageError("stamp_positions", err)
	}

	if err := tx.Commit(); err != nil {
		return eventstore.NewStorageError("commit_upsert", err)
	}
	return nil
}

func lastStreamPosition(ctx context.Context, tx *sql.Tx, placeholders sq.PlaceholderFormat, tableName string, keyColumns map[string]any, lockRow bool) (int64, bool, error) {
	builder := sq.Select("last_stream_position").From(tableName).
		Where(sq.Eq(keyColumns)).
		PlaceholderFormat(placeholders)
	if lockRow {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, false, err
	}

	var position int64
	err = tx.QueryRowContext(ctx, query, args...).Scan(&position)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, err
	default:
		return position, true, nil
	}
}

func stampPositions(ctx context.Context, tx *sql.Tx, placeholders sq.PlaceholderFormat, tableName string, keyColumns map[string]any, event eventstore.Event) error {
	query, args, err := sq.Update(tableName).
		Set("last_stream_position", event.StreamPosition).
		Set("last_global_position", event.GlobalPosition).
		Where(sq.Eq(keyColumns)).
		PlaceholderFormat(placeholders).
		ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// placeholderFormat picks '?' or '$N' bind-variable syntax by sniffing the
// registered driver's concrete type, since database/sql has no dialect API
// of its own. The registry is shared across both backends, so this keeps
// UpsertIfNewer usable from either without threading a dialect flag through
// every projection handler.
func placeholderFormat(db *sql.DB) sq.PlaceholderFormat {
	switch fmt.Sprintf("%T", db.Driver()) {
	case "*stdlib.Driver":
		return sq.Dollar
	default:
		return sq.Question
	}
}

// isPostgres reports whether db is backed by pgx's stdlib driver. SQLite has
// no SELECT ... FOR UPDATE syntax and needs none: the embedded driver's
// single connection serializes every transaction opened against the same
// *sql.DB already.
func isPostgres(db *sql.DB) bool {
	return fmt.Sprintf("%T", db.Driver()) == "*stdlib.Driver"
}
