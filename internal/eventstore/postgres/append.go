package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Append implements the AppendToStream algorithm: one transaction spanning a
// per-stream advisory lock, the current-version read, the conditional
// streams upsert, and the messages insert.
func (s *Store) Append(ctx context.Context, streamID string, events []eventstore.EventInput, opts eventstore.AppendOptions) (eventstore.AppendResult, error) {
	if len(events) == 0 {
		return eventstore.AppendResult{}, errors.Join(
			eventstore.ErrEmptyBatch,
			eventstore.NewVersionConflictError(streamID, 0, "NO_CONCURRENCY_CHECK"),
		)
	}

	partition := opts.Partition
	if partition == "" {
		partition = eventstore.DefaultPartition
	}

	if err := s.EnsurePartition(ctx, partition); err != nil {
		return eventstore.AppendResult{}, eventstore.NewStorageError("ensure_partition", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return eventstore.AppendResult{}, eventstore.NewStorageError("begin_tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	lockKey := eventstore.Hash64(partition + "/" + streamID)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return eventstore.AppendResult{}, eventstore.NewStorageError("advisory_lock", err)
	}

	current, streamExists, err := currentStreamPosition(ctx, tx, streamID, partition)
	if err != nil {
		return eventstore.AppendResult{}, err
	}

	if err := enforceExpectedVersion(streamID, opts.ExpectedVersion, streamExists, current); err != nil {
		return eventstore.AppendResult{}, err
	}

	next := current + int64(len(events))

	if !streamExists {
		streamType := opts.StreamType
		_, err = tx.ExecContext(ctx, `
			INSERT INTO streams (stream_id, partition, stream_type, stream_position)
			VALUES ($1, $2, $3, $4)`,
			streamID, partition, streamType, next)
		if err != nil {
			return eventstore.AppendResult{}, eventstore.NewStorageError("insert_stream", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE streams SET stream_position = $1, updated = now()
			WHERE stream_id = $2 AND partition = $3 AND is_archived = false AND stream_position = $4`,
			next, streamID, partition, current)
		if err != nil {
			return eventstore.AppendResult{}, eventstore.NewStorageError("update_stream", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return eventstore.AppendResult{}, eventstore.NewStorageError("update_stream_rows_affected", err)
		}
		if affected == 0 {
			// Lost a race with a concurrent writer between the read above and
			// this update; the advisory lock should make this unreachable in
			// practice, but report it as a conflict rather than panic.
			actual, existsNow, rerr := currentStreamPosition(ctx, tx, streamID, partition)
			if rerr != nil {
				return eventstore.AppendResult{}, rerr
			}
			_ = existsNow
			return eventstore.AppendResult{}, eventstore.NewVersionConflictError(streamID, actual, strconv.FormatInt(current, 10))
		}
	}

	lastGlobalPosition, err := insertMessages(ctx, tx, streamID, partition, current, events)
	if err != nil {
		return eventstore.AppendResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return eventstore.AppendResult{}, eventstore.NewStorageError("commit", err)
	}

	return eventstore.AppendResult{
		NextExpectedStreamVersion: next,
		LastEventGlobalPosition:   lastGlobalPosition,
		CreatedNewStream:          !streamExists,
	}, nil
}

func currentStreamPosition(ctx context.Context, tx *sql.Tx, streamID, partition string) (int64, bool, error) {
	var current int64
	err := tx.QueryRowContext(ctx, `
		SELECT stream_position FROM streams
		WHERE stream_id = $1 AND partition = $2 AND is_archived = false`,
		streamID, partition).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, eventstore.NewStorageError("select_stream_position", err)
	default:
		return current, true, nil
	}
}

// enforceExpectedVersion implements the expected-version policy table from
// the design document.
func enforceExpectedVersion(streamID string, expected *eventstore.ExpectedVersion, streamExists bool, current int64) error {
	if expected == nil {
		return nil
	}
	switch *expected {
	case eventstore.StreamExists:
		if !streamExists {
			return eventstore.NewVersionConflictError(streamID, current, "STREAM_EXISTS")
		}
	case eventstore.StreamDoesNotExist:
		if streamExists {
			return eventstore.NewVersionConflictError(streamID, current, "STREAM_DOES_NOT_EXIST")
		}
	default:
		if int64(*expected) != current {
			return eventstore.NewVersionConflictError(streamID, current, strconv.FormatInt(int64(*expected), 10))
		}
	}
	return nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, streamID, partition string, current int64, events []eventstore.EventInput) (int64, error) {
	builder := sq.Insert("messages").
		Columns("stream_id", "stream_position", "partition", "message_id", "message_type",
			"message_kind", "message_data", "message_metadata", "message_schema_version").
		PlaceholderFormat(sq.Dollar).
		Suffix("RETURNING global_position")

	for i, ev := range events {
		id, err := uuid.NewV7()
		if err != nil {
			return 0, eventstore.NewStorageError("generate_message_id", err)
		}
		metadata, err := mergeMessageID(ev.Metadata, id.String())
		if err != nil {
			return 0, eventstore.NewStorageError("merge_metadata", err)
		}

		// message_schema_version is written as the event's index within the
		// batch, not a payload schema version. This preserves the source
		// engine's behavior bit-for-bit; it is almost certainly a bug (see
		// design notes) but changing it would break compatibility.
		schemaVersion := strconv.Itoa(i)

		builder = builder.Values(streamID, current+int64(i)+1, partition, id.String(), ev.Type,
			"E", nullableJSON(ev.Data), nullableJSON(metadata), schemaVersion)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, eventstore.NewStorageError("build_insert", err)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, eventstore.NewStorageError("insert_messages", err)
	}
	defer rows.Close()

	// A multi-row INSERT ... RETURNING does not guarantee rows come back in
	// VALUES order, so the last inserted message's global_position is the
	// maximum seen, not whichever row happens to be scanned last.
	var last int64
	for rows.Next() {
		var position int64
		if err := rows.Scan(&position); err != nil {
			return 0, eventstore.NewStorageError("scan_global_position", err)
		}
		if position > last {
			last = position
		}
	}
	if err := rows.Err(); err != nil {
		return 0, eventstore.NewStorageError("insert_messages_rows", err)
	}
	return last, nil
}

func mergeMessageID(metadata []byte, messageID string) ([]byte, error) {
	fields := map[string]interface{}{}
	if len(strings.TrimSpace(string(metadata))) > 0 {
		if err := json.Unmarshal(metadata, &fields); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	fields["messageId"] = messageID
	return json.Marshal(fields)
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
