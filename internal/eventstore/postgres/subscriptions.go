package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/eventedge/eventstore/internal/eventstore"
)

// GetCheckpoint returns the last acknowledged stream position for
// subscriptionID within partition, or 0 if the subscription has never
// checkpointed. It does not create the row.
func (s *Store) GetCheckpoint(ctx context.Context, subscriptionID, partition string) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_processed_position FROM subscriptions
		WHERE subscription_id = $1 AND partition = $2`,
		subscriptionID, partition).Scan(&position)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, eventstore.NewStorageError("get_checkpoint", err)
	default:
		return position, nil
	}
}

// AdvanceCheckpoint records position as the last processed stream position
// for subscriptionID, creating the row on first use.
func (s *Store) AdvanceCheckpoint(ctx context.Context, subscriptionID, partition string, position int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (subscription_id, partition, version, last_processed_position, updated)
		VALUES ($1, $2, 0, $3, now())
		ON CONFLICT (subscription_id, partition, version)
		DO UPDATE SET last_processed_position = EXCLUDED.last_processed_position, updated = now()
		WHERE subscriptions.last_processed_position < EXCLUDED.last_processed_position`,
		subscriptionID, partition, position)
	if err != nil {
		return eventstore.NewStorageError("advance_checkpoint", err)
	}
	return nil
}

// ListStreamIDs returns up to limit stream IDs in partition with a stream_id
// greater than afterStreamID, ordered ascending. It powers the keyset scan
// a long-running consumer uses to discover streams it has not yet seen.
func (s *Store) ListStreamIDs(ctx context.Context, partition, afterStreamID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_id FROM streams
		WHERE partition = $1 AND is_archived = false AND stream_id > $2
		ORDER BY stream_id ASC
		LIMIT $3`,
		partition, afterStreamID, limit)
	if err != nil {
		return nil, eventstore.NewStorageError("list_stream_ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eventstore.NewStorageError("scan_stream_id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eventstore.NewStorageError("list_stream_ids_rows", err)
	}
	return ids, nil
}
