// Package aggregate folds a stream of events into caller-defined state. It
// replaces the decider-closure pattern with an explicit generic fold: no
// ambient per-request storage, just a reader, a stream, and two plain
// functions.
package aggregate

import (
	"context"

	"github.com/eventedge/eventstore/internal/eventstore"
)

// Reader is the subset of eventstore.Store that Aggregate needs. Accepting
// an interface narrower than the full Store keeps callers free to pass a
// wrapped or test-double reader.
type Reader interface {
	Read(ctx context.Context, streamID string, opts eventstore.ReadOptions) (eventstore.ReadResult, error)
}

// Options controls the fold. ExpectedStreamVersion, when non-nil, asserts
// the stream's current version after reading; 0 means "no events yet".
type Options struct {
	Partition             string
	ExpectedStreamVersion *int64
}

// Aggregate reads streamID in full and folds its events into S, starting
// from initial() and applying evolve in stream order.
func Aggregate[S any](ctx context.Context, reader Reader, streamID string, opts Options, evolve func(S, eventstore.Event) S, initial func() S) (S, int64, bool, error) {
	var zero S

	result, err := reader.Read(ctx, streamID, eventstore.ReadOptions{Partition: opts.Partition})
	if err != nil {
		return zero, 0, false, err
	}

	if opts.ExpectedStreamVersion != nil && *opts.ExpectedStreamVersion != result.CurrentStreamVersion {
		return zero, result.CurrentStreamVersion, result.StreamExists, &eventstore.ExpectedVersionMismatchError{
			StreamID: streamID,
			Actual:   result.CurrentStreamVersion,
			Expected: *opts.ExpectedStreamVersion,
		}
	}

	state := initial()
	for _, ev := range result.Events {
		state = evolve(state, ev)
	}
	return state, result.CurrentStreamVersion, result.StreamExists, nil
}
