package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/eventedge/eventstore/internal/eventstore"
)

// Read implements ReadStream.
func (s *Store) Read(ctx context.Context, streamID string, opts eventstore.ReadOptions) (eventstore.ReadResult, error) {
	partition := opts.Partition
	if partition == "" {
		partition = eventstore.DefaultPartition
	}

	query := strings.Builder{}
	query.WriteString(`
		SELECT message_id, message_type, message_kind, message_data, message_metadata,
			stream_position, global_position, message_schema_version, created
		FROM messages
		WHERE stream_id = ? AND partition = ? AND is_archived = 0`)
	args := []interface{}{streamID, partition}

	if opts.From != nil {
		query.WriteString(` AND stream_position >= ?`)
		args = append(args, *opts.From)
	}
	if opts.To != nil {
		query.WriteString(` AND stream_position <= ?`)
		args = append(args, *opts.To)
	}
	query.WriteString(` ORDER BY stream_position ASC`)
	if opts.MaxCount != nil {
		query.WriteString(` LIMIT ?`)
		args = append(args, *opts.MaxCount)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return eventstore.ReadResult{}, eventstore.NewStorageError("read_messages", err)
	}
	defer rows.Close()

	var events []eventstore.Event
	for rows.Next() {
		var (
			ev         eventstore.Event
			data       sql.NullString
			metadata   sql.NullString
			createdSec int64
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Kind, &data, &metadata,
			&ev.StreamPosition, &ev.GlobalPosition, &ev.SchemaVersion, &createdSec); err != nil {
			return eventstore.ReadResult{}, eventstore.NewStorageError("scan_message", err)
		}
		ev.StreamID = streamID
		ev.Partition = partition
		ev.Created = time.Unix(createdSec, 0).UTC()
		if data.Valid {
			ev.Data = []byte(data.String)
		}
		if metadata.Valid {
			ev.Metadata = []byte(metadata.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return eventstore.ReadResult{}, eventstore.NewStorageError("read_messages_rows", err)
	}

	var currentVersion int64
	err = s.db.QueryRowContext(ctx, `
		SELECT stream_position FROM streams
		WHERE stream_id = ? AND partition = ? AND is_archived = 0`,
		streamID, partition).Scan(&currentVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return eventstore.ReadResult{Events: events, StreamExists: false}, nil
	case err != nil:
		return eventstore.ReadResult{}, eventstore.NewStorageError("select_stream_version", err)
	default:
		return eventstore.ReadResult{Events: events, CurrentStreamVersion: currentVersion, StreamExists: true}, nil
	}
}
