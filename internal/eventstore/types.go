// Package eventstore defines the storage contract shared by every backend: the
// append-only, partitioned event log, its ranged reader, and the checkpoint
// primitives the projection runtime builds on.
package eventstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// DefaultPartition is used whenever a caller omits Partition.
const DefaultPartition = "default_partition"

// ExpectedVersion distinguishes the three concurrency-check sentinels from an
// ordinary non-negative stream version. A nil *ExpectedVersion on
// AppendOptions means "no concurrency check" (NO_CONCURRENCY_CHECK).
type ExpectedVersion int64

// Sentinels for AppendOptions.ExpectedVersion. Ordinary versions are >= 0, so
// both sentinels are negative and can never collide with a real version.
const (
	StreamExists       ExpectedVersion = -1
	StreamDoesNotExist ExpectedVersion = -2
)

// ExactVersion returns the ExpectedVersion sentinel for "the stream's current
// version must equal v exactly".
func ExactVersion(v int64) ExpectedVersion { return ExpectedVersion(v) }

func (v ExpectedVersion) String() string {
	switch v {
	case StreamExists:
		return "STREAM_EXISTS"
	case StreamDoesNotExist:
		return "STREAM_DOES_NOT_EXIST"
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}

// EventInput is a caller-supplied event awaiting a stream position and a
// global position, assigned by Append.
type EventInput struct {
	Type     string
	Data     json.RawMessage
	Metadata json.RawMessage
}

// Event is a durable, immutable message as read back from a stream.
type Event struct {
	ID             string // message_id, UUIDv7
	Type           string
	Data           json.RawMessage
	Metadata       json.RawMessage
	StreamID       string
	Partition      string
	StreamPosition int64
	GlobalPosition int64
	SchemaVersion  string
	Kind           string
	Created        time.Time
}

// AppendOptions configures a single call to Append.
type AppendOptions struct {
	Partition  string
	StreamType string

	// ExpectedVersion is nil for NO_CONCURRENCY_CHECK. Use StreamExists,
	// StreamDoesNotExist, or ExactVersion(v) otherwise.
	ExpectedVersion *ExpectedVersion
}

// AppendResult reports the outcome of a successful Append.
type AppendResult struct {
	NextExpectedStreamVersion int64
	LastEventGlobalPosition   int64
	CreatedNewStream          bool
}

// ReadOptions configures a single call to Read. From/To are 1-based and
// inclusive; nil means unbounded on that side. MaxCount caps the number of
// rows returned after range filtering.
type ReadOptions struct {
	Partition string
	From      *int64
	To        *int64
	MaxCount  *int64
}

// ReadResult is the outcome of Read. CurrentStreamVersion and StreamExists
// mirror the streams row at read time; CurrentStreamVersion is not clipped
// by the requested range.
type ReadResult struct {
	Events               []Event
	CurrentStreamVersion int64
	StreamExists         bool
}

// Store is the contract both the Postgres and the embedded SQLite backends
// implement. The projection runtime, the runner, and AggregateStream are
// written only against this interface.
type Store interface {
	// Append durably commits events to a stream under the given concurrency
	// policy. See AppendOptions and the expected-version policy table in the
	// design document.
	Append(ctx context.Context, streamID string, events []EventInput, opts AppendOptions) (AppendResult, error)

	// Read returns a range of a stream's events in ascending stream-position
	// order, along with the stream's current version.
	Read(ctx context.Context, streamID string, opts ReadOptions) (ReadResult, error)

	// EnsurePartition provisions whatever physical isolation the backend uses
	// for a tenant (a Postgres list partition, a no-op for SQLite) so writes
	// and reads against that partition can proceed. It is idempotent and safe
	// to call concurrently from multiple writers.
	EnsurePartition(ctx context.Context, partition string) error

	// ListStreamIDs keyset-scans distinct stream ids in a partition, ordered
	// by stream_id, for the consumer's discovery loop. afterStreamID is
	// exclusive; pass "" to start from the beginning.
	ListStreamIDs(ctx context.Context, partition, afterStreamID string, limit int) ([]string, error)

	// GetCheckpoint returns the last committed stream position for a
	// subscription, or 0 if no checkpoint row exists yet. It does not create
	// the row; AdvanceCheckpoint does on first use.
	GetCheckpoint(ctx context.Context, subscriptionID, partition string) (int64, error)

	// AdvanceCheckpoint moves a subscription's checkpoint forward. Callers
	// must never call this with a position smaller than the current value;
	// implementations enforce monotonicity regardless (I5).
	AdvanceCheckpoint(ctx context.Context, subscriptionID, partition string, position int64) error

	// Close releases the backend's resources (connection pool, open handles).
	Close() error
}
