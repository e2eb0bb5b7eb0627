package sqlite_test

import (
	"context"
	"testing"

	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/eventstore/sqlite"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendCreatesNewStream(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	result, err := store.Append(ctx, "cart-1", []eventstore.EventInput{
		{Type: "CartOpened", Data: []byte(`{"currency":"USD"}`)},
	}, eventstore.AppendOptions{StreamType: "cart"})
	require.NoError(t, err)
	require.True(t, result.CreatedNewStream)
	require.Equal(t, int64(1), result.NextExpectedStreamVersion)
}

func TestAppendEmptyBatchIsRejected(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "cart-1", nil, eventstore.AppendOptions{})
	require.Error(t, err)
	require.ErrorIs(t, err, eventstore.ErrEmptyBatch)
	require.True(t, eventstore.IsVersionConflict(err))
}

func TestAppendEnforcesExpectedVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "cart-1", []eventstore.EventInput{{Type: "CartOpened"}}, eventstore.AppendOptions{StreamType: "cart"})
	require.NoError(t, err)

	stale := eventstore.ExactVersion(0)
	_, err = store.Append(ctx, "cart-1", []eventstore.EventInput{{Type: "ItemAdded"}}, eventstore.AppendOptions{
		StreamType:      "cart",
		ExpectedVersion: &stale,
	})
	require.True(t, eventstore.IsVersionConflict(err))

	current := eventstore.ExactVersion(1)
	result, err := store.Append(ctx, "cart-1", []eventstore.EventInput{{Type: "ItemAdded"}}, eventstore.AppendOptions{
		StreamType:      "cart",
		ExpectedVersion: &current,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), result.NextExpectedStreamVersion)
}

func TestAppendStreamDoesNotExistRejectsSecondCreate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustNotExist := eventstore.StreamDoesNotExist
	_, err := store.Append(ctx, "cart-1", []eventstore.EventInput{{Type: "CartOpened"}}, eventstore.AppendOptions{
		StreamType:      "cart",
		ExpectedVersion: &mustNotExist,
	})
	require.NoError(t, err)

	_, err = store.Append(ctx, "cart-1", []eventstore.EventInput{{Type: "CartOpened"}}, eventstore.AppendOptions{
		StreamType:      "cart",
		ExpectedVersion: &mustNotExist,
	})
	require.True(t, eventstore.IsVersionConflict(err))
}

func TestReadReturnsEventsInOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "cart-1", []eventstore.EventInput{
		{Type: "CartOpened", Data: []byte(`{}`)},
		{Type: "ItemAdded", Data: []byte(`{"sku":"A"}`)},
		{Type: "ItemAdded", Data: []byte(`{"sku":"B"}`)},
	}, eventstore.AppendOptions{StreamType: "cart"})
	require.NoError(t, err)

	result, err := store.Read(ctx, "cart-1", eventstore.ReadOptions{})
	require.NoError(t, err)
	require.True(t, result.StreamExists)
	require.Equal(t, int64(3), result.CurrentStreamVersion)
	require.Len(t, result.Events, 3)
	require.Equal(t, "CartOpened", result.Events[0].Type)
	require.Equal(t, int64(1), result.Events[0].StreamPosition)
	require.Equal(t, int64(3), result.Events[2].StreamPosition)
	require.NotEmpty(t, result.Events[0].ID)
	require.Greater(t, result.Events[1].GlobalPosition, result.Events[0].GlobalPosition)
}

func TestReadMissingStreamReportsNotExistsWithoutError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	result, err := store.Read(ctx, "does-not-exist", eventstore.ReadOptions{})
	require.NoError(t, err)
	require.False(t, result.StreamExists)
	require.Empty(t, result.Events)
}

func TestReadHonorsFromToAndMaxCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := make([]eventstore.EventInput, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, eventstore.EventInput{Type: "ItemAdded"})
	}
	_, err := store.Append(ctx, "cart-1", events, eventstore.AppendOptions{StreamType: "cart"})
	require.NoError(t, err)

	from := int64(2)
	to := int64(4)
	result, err := store.Read(ctx, "cart-1", eventstore.ReadOptions{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, result.Events, 3)
	require.Equal(t, int64(2), result.Events[0].StreamPosition)
	require.Equal(t, int64(4), result.Events[len(result.Events)-1].StreamPosition)

	maxCount := int64(2)
	limited, err := store.Read(ctx, "cart-1", eventstore.ReadOptions{MaxCount: &maxCount})
	require.NoError(t, err)
	require.Len(t, limited.Events, 2)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	position, err := store.GetCheckpoint(ctx, "carts-projection", eventstore.DefaultPartition)
	require.NoError(t, err)
	require.Equal(t, int64(0), position)

	require.NoError(t, store.AdvanceCheckpoint(ctx, "carts-projection", eventstore.DefaultPartition, 5))
	position, err = store.GetCheckpoint(ctx, "carts-projection", eventstore.DefaultPartition)
	require.NoError(t, err)
	require.Equal(t, int64(5), position)

	// Advancing backwards is ignored; checkpoints never regress.
	require.NoError(t, store.AdvanceCheckpoint(ctx, "carts-projection", eventstore.DefaultPartition, 1))
	position, err = store.GetCheckpoint(ctx, "carts-projection", eventstore.DefaultPartition)
	require.NoError(t, err)
	require.Equal(t, int64(5), position)
}

func TestListStreamIDsPaginates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"cart-1", "cart-2", "cart-3"} {
		_, err := store.Append(ctx, id, []eventstore.EventInput{{Type: "CartOpened"}}, eventstore.AppendOptions{StreamType: "cart"})
		require.NoError(t, err)
	}

	ids, err := store.ListStreamIDs(ctx, eventstore.DefaultPartition, "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"cart-1", "cart-2"}, ids)

	rest, err := store.ListStreamIDs(ctx, eventstore.DefaultPartition, ids[len(ids)-1], 2)
	require.NoError(t, err)
	require.Equal(t, []string{"cart-3"}, rest)
}
