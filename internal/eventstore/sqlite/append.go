package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Append mirrors the Postgres AppendToStream algorithm, substituting the
// Store's mutex for the advisory lock and a hand-rolled counter table
// for the global sequence, since SQLite has neither.
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

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eventstore.AppendResult{}, eventstore.NewStorageError("begin_tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, streamExists, err := currentStreamPosition(ctx, tx, streamID, partition)
	if err != nil {
		return eventstore.AppendResult{}, err
	}

	if err := enforceExpectedVersion(streamID, opts.ExpectedVersion, streamExists, current); err != nil {
		return eventstore.AppendResult{}, err
	}

	next := current + int64(len(events))

	if !streamExists {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO streams (stream_id, partition, stream_type, stream_position)
			VALUES (?, ?, ?, ?)`,
			streamID, partition, opts.StreamType, next)
		if err != nil {
			return eventstore.AppendResult{}, eventstore.NewStorageError("insert_stream", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE streams SET stream_position = ?, updated = unixepoch()
			WHERE stream_id = ? AND partition = ? AND is_archived = 0 AND stream_position = ?`,
			next, streamID, partition, current)
		if err != nil {
			return eventstore.AppendResult{}, eventstore.NewStorageError("update_stream", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return eventstore.AppendResult{}, eventstore.NewStorageError("update_stream_rows_affected", err)
		}
		if affected == 0 {
			return eventstore.AppendResult{}, eventstore.NewVersionConflictError(streamID, current, strconv.FormatInt(current, 10))
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
		WHERE stream_id = ? AND partition = ? AND is_archived = 0`,
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

// nextGlobalPosition draws from the single-row counter table, since SQLite
// has no sequence object independent of a table's own rowid.
func nextGlobalPosition(ctx context.Context, tx *sql.Tx) (int64, error) {
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT next FROM global_position_seq WHERE id = 1`).Scan(&next); err != nil {
		return 0, eventstore.NewStorageError("read_global_position_seq", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE global_position_seq SET next = next + 1 WHERE id = 1`); err != nil {
		return 0, eventstore.NewStorageError("advance_global_position_seq", err)
	}
	return next, nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, streamID, partition string, current int64, events []eventstore.EventInput) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (stream_id, stream_position, partition, message_id, message_type,
			message_kind, message_data, message_metadata, message_schema_version, global_position)
		VALUES (?, ?, ?, ?, ?, 'E', ?, ?, ?, ?)`)
	if err != nil {
		return 0, eventstore.NewStorageError("prepare_insert_messages", err)
	}
	defer stmt.Close()

	var last int64
	for i, ev := range events {
		id, err := uuid.NewV7()
		if err != nil {
			return 0, eventstore.NewStorageError("generate_message_id", err)
		}
		metadata, err := mergeMessageID(ev.Metadata, id.String())
		if err != nil {
			return 0, eventstore.NewStorageError("merge_metadata", err)
		}
		globalPosition, err := nextGlobalPosition(ctx, tx)
		if err != nil {
			return 0, err
		}
		// See the Postgres backend's insertMessages for why this is the
		// batch index, not a payload schema version.
		schemaVersion := strconv.Itoa(i)

		if _, err := stmt.ExecContext(ctx, streamID, current+int64(i)+1, partition, id.String(), ev.Type,
			nullableJSON(ev.Data), nullableJSON(metadata), schemaVersion, globalPosition); err != nil {
			return 0, eventstore.NewStorageError("insert_message", err)
		}
		last = globalPosition
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
