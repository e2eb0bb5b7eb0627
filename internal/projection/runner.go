package projection

import (
	"context"
	"database/sql"

	"github.com/eventedge/eventstore/internal/eventstore"
)

// Reader is the subset of eventstore.Store the runner needs to read events
// and manage checkpoints.
type Reader interface {
	Read(ctx context.Context, streamID string, opts eventstore.ReadOptions) (eventstore.ReadResult, error)
	GetCheckpoint(ctx context.Context, subscriptionID, partition string) (int64, error)
	AdvanceCheckpoint(ctx context.Context, subscriptionID, partition string, position int64) error
}

// RunOptions configures a single ProjectEvents call.
type RunOptions struct {
	Partition string
	BatchSize int64 // default 500
	CatchAll  CatchAllHandler
}

const defaultBatchSize = 500

// ProjectEvents runs one on-demand, checkpointed, bounded-batch pass over a
// single stream: read the checkpoint (0 when none is stored yet), read events
// after it up to BatchSize, dispatch each to the registry, and advance the
// checkpoint after each fully-applied event. The checkpoint row is written
// at the end of every pass, so it exists after the first pass even when no
// events were read. A handler failure aborts the batch leaving the
// checkpoint at the last successfully applied position; the caller's retry
// resumes from there. A canceled ctx stops the batch between events.
func ProjectEvents(ctx context.Context, reader Reader, db *sql.DB, registry Registry, subscriptionID, streamID string, opts RunOptions) (int, int64, error) {
	partition := opts.Partition
	if partition == "" {
		partition = eventstore.DefaultPartition
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	checkpoint, err := reader.GetCheckpoint(ctx, subscriptionID, partition)
	if err != nil {
		return 0, 0, err
	}

	from := checkpoint + 1
	to := checkpoint + batchSize
	result, err := reader.Read(ctx, streamID, eventstore.ReadOptions{Partition: partition, From: &from, To: &to})
	if err != nil {
		return 0, 0, err
	}

	pctx := Context{DB: db, Partition: partition}
	processed := 0
	lastApplied := checkpoint

	for _, ev := range result.Events {
		if err := ctx.Err(); err != nil {
			return processed, result.CurrentStreamVersion, err
		}
		for _, handler := range registry[ev.Type] {
			if err := handler(ctx, pctx, ev); err != nil {
				if advanceErr := reader.AdvanceCheckpoint(ctx, subscriptionID, partition, lastApplied); advanceErr != nil {
					return processed, result.CurrentStreamVersion, advanceErr
				}
				return processed, result.CurrentStreamVersion, &eventstore.HandlerError{
					SubscriptionID: subscriptionID,
					StreamID:       streamID,
					EventType:      ev.Type,
					StreamPosition: ev.StreamPosition,
					Err:            err,
				}
			}
		}
		if opts.CatchAll != nil {
			opts.CatchAll(ctx, pctx, ev)
		}

		lastApplied = ev.StreamPosition
		processed++
		if err := reader.AdvanceCheckpoint(ctx, subscriptionID, partition, lastApplied); err != nil {
			return processed, result.CurrentStreamVersion, err
		}
	}

	if err := reader.AdvanceCheckpoint(ctx, subscriptionID, partition, lastApplied); err != nil {
		return processed, result.CurrentStreamVersion, err
	}

	return processed, result.CurrentStreamVersion, nil
}
