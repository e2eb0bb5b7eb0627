package postgres

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/eventedge/eventstore/internal/eventstore"
)

// Read implements ReadStream. A missing stream is reported via
// ReadResult.StreamExists, never as an error.
func (s *Store) Read(ctx context.Context, streamID string, opts eventstore.ReadOptions) (eventstore.ReadResult, error) {
	partition := opts.Partition
	if partition == "" {
		partition = eventstore.DefaultPartition
	}

	builder := sq.Select("message_id", "message_type", "message_kind", "message_data",
		"message_metadata", "stream_position", "global_position", "message_schema_version", "created").
		From("messages").
		Where(sq.Eq{"stream_id": streamID, "partition": partition, "is_archived": false}).
		OrderBy("stream_position ASC").
		PlaceholderFormat(sq.Dollar)

	if opts.From != nil {
		builder = builder.Where(sq.GtOrEq{"stream_position": *opts.From})
	}
	if opts.To != nil {
		builder = builder.Where(sq.LtOrEq{"stream_position": *opts.To})
	}
	if opts.MaxCount != nil {
		builder = builder.Limit(uint64(*opts.MaxCount))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return eventstore.ReadResult{}, eventstore.NewStorageError("build_read_query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return eventstore.ReadResult{}, eventstore.NewStorageError("read_messages", err)
	}
	defer rows.Close()

	var events []eventstore.Event
	for rows.Next() {
		var (
			ev       eventstore.Event
			data     sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Kind, &data, &metadata,
			&ev.StreamPosition, &ev.GlobalPosition, &ev.SchemaVersion, &ev.Created); err != nil {
			return eventstore.ReadResult{}, eventstore.NewStorageError("scan_message", err)
		}
		ev.StreamID = streamID
		ev.Partition = partition
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
		WHERE stream_id = $1 AND partition = $2 AND is_archived = false`,
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
