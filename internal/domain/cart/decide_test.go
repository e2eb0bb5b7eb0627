package cart_test

import (
	"context"
	"testing"

	"github.com/eventedge/eventstore/internal/aggregate"
	"github.com/eventedge/eventstore/internal/domain/cart"
	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/eventstore/sqlite"
	"github.com/stretchr/testify/require"
)

func appendAndReturn(t *testing.T, store *sqlite.Store, streamID string, events []eventstore.EventInput) {
	t.Helper()
	_, err := store.Append(context.Background(), streamID, events, eventstore.AppendOptions{StreamType: "cart"})
	require.NoError(t, err)
}

func TestCartScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cmdCtx := cart.CommandContext{RequestID: "req-1", UserID: "u1", TenantID: "T1"}

	events, _, err := cart.Handle(ctx, store, "C1", eventstore.DefaultPartition, cmdCtx, cart.OpenCart{Currency: "USD"})
	require.NoError(t, err)
	appendAndReturn(t, store, "C1", events)

	events, _, err = cart.Handle(ctx, store, "C1", eventstore.DefaultPartition, cmdCtx, cart.AddItem{SKU: "SKU-123", UnitPrice: 25, Quantity: 2})
	require.NoError(t, err)
	appendAndReturn(t, store, "C1", events)

	events, _, err = cart.Handle(ctx, store, "C1", eventstore.DefaultPartition, cmdCtx, cart.AddItem{SKU: "SKU-456", UnitPrice: 15, Quantity: 1})
	require.NoError(t, err)
	appendAndReturn(t, store, "C1", events)

	state, version, exists, err := aggregateState(ctx, store)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, int64(3), version)
	require.Equal(t, 2, state.Items["SKU-123"].Quantity)
	require.Equal(t, 1, state.Items["SKU-456"].Quantity)

	events, _, err = cart.Handle(ctx, store, "C1", eventstore.DefaultPartition, cmdCtx, cart.RemoveItem{SKU: "SKU-123", Quantity: 1})
	require.NoError(t, err)
	appendAndReturn(t, store, "C1", events)

	state, _, _, err = aggregateState(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 1, state.Items["SKU-123"].Quantity)
	require.Equal(t, 1, state.Items["SKU-456"].Quantity)

	events, _, err = cart.Handle(ctx, store, "C1", eventstore.DefaultPartition, cmdCtx, cart.Checkout{})
	require.NoError(t, err)
	appendAndReturn(t, store, "C1", events)

	state, version, _, err = aggregateState(ctx, store)
	require.NoError(t, err)
	require.Equal(t, int64(5), version)
	require.True(t, state.CheckedOut)
	require.NotEmpty(t, state.OrderID)
	require.InDelta(t, 40, state.Total, 0.001)
}

func aggregateState(ctx context.Context, store *sqlite.Store) (cart.State, int64, bool, error) {
	return aggregate.Aggregate(ctx, store, "C1", aggregate.Options{Partition: eventstore.DefaultPartition}, cart.Evolve, cart.Initial)
}

func TestDecideRejectsAddItemBeforeOpen(t *testing.T) {
	_, err := cart.Decide(cart.CommandContext{}, cart.Initial(), cart.AddItem{SKU: "SKU-1", UnitPrice: 1, Quantity: 1})
	require.ErrorIs(t, err, cart.ErrCartNotOpened)
}

func TestDecideRejectsDoubleOpen(t *testing.T) {
	opened := cart.Evolve(cart.Initial(), eventstore.Event{Type: cart.EventCartOpened, Data: []byte(`{"currency":"USD"}`)})
	_, err := cart.Decide(cart.CommandContext{}, opened, cart.OpenCart{Currency: "USD"})
	require.ErrorIs(t, err, cart.ErrCartAlreadyOpened)
}

func TestDecideRejectsRemovingMoreThanHeld(t *testing.T) {
	state := cart.Evolve(cart.Initial(), eventstore.Event{Type: cart.EventCartOpened, Data: []byte(`{"currency":"USD"}`)})
	state = cart.Evolve(state, eventstore.Event{Type: cart.EventItemAdded, Data: []byte(`{"sku":"SKU-1","unitPrice":10,"qty":1}`)})

	_, err := cart.Decide(cart.CommandContext{}, state, cart.RemoveItem{SKU: "SKU-1", Quantity: 5})
	require.ErrorIs(t, err, cart.ErrInsufficientQty)
}
