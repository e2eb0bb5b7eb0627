package cart_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	domaincart "github.com/eventedge/eventstore/internal/domain/cart"
	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/projection"
	cartprojection "github.com/eventedge/eventstore/internal/projections/cart"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openProjectionDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE carts (
		stream_id text not null,
		partition text not null default 'default_partition',
		currency text,
		is_checked_out integer not null default 0,
		items_json text not null default '[]',
		order_id text,
		total real,
		last_stream_position integer not null default -1,
		last_global_position integer not null default -1,
		primary key (stream_id, partition)
	)`)
	require.NoError(t, err)
	return db
}

func TestCartScenarioProjectsToDedicatedColumns(t *testing.T) {
	ctx := context.Background()
	db := openProjectionDB(t)
	pctx := projection.Context{DB: db, Partition: eventstore.DefaultPartition}

	registry := cartprojection.Registry()

	apply := func(pos int64, eventType string, data any) {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		ev := eventstore.Event{
			ID: "evt", Type: eventType, Data: raw, StreamID: "C1",
			Partition: eventstore.DefaultPartition, StreamPosition: pos, GlobalPosition: pos,
		}
		for _, handler := range registry[eventType] {
			require.NoError(t, handler(ctx, pctx, ev))
		}
	}

	apply(1, domaincart.EventCartOpened, domaincart.CartOpened{Currency: "USD"})

	var currency string
	var checkedOut bool
	var itemsJSON string
	require.NoError(t, db.QueryRow(`SELECT currency, is_checked_out, items_json FROM carts WHERE stream_id = ?`, "C1").
		Scan(&currency, &checkedOut, &itemsJSON))
	require.Equal(t, "USD", currency)
	require.False(t, checkedOut)
	require.JSONEq(t, `[]`, itemsJSON)

	apply(2, domaincart.EventItemAdded, domaincart.ItemAdded{SKU: "SKU-123", UnitPrice: 25, Quantity: 2})
	apply(3, domaincart.EventItemAdded, domaincart.ItemAdded{SKU: "SKU-456", UnitPrice: 15, Quantity: 1})

	require.NoError(t, db.QueryRow(`SELECT items_json FROM carts WHERE stream_id = ?`, "C1").Scan(&itemsJSON))
	var items []domaincart.Item
	require.NoError(t, json.Unmarshal([]byte(itemsJSON), &items))
	require.Len(t, items, 2)

	apply(4, domaincart.EventItemRemoved, domaincart.ItemRemoved{SKU: "SKU-123", Quantity: 1})
	require.NoError(t, db.QueryRow(`SELECT items_json FROM carts WHERE stream_id = ?`, "C1").Scan(&itemsJSON))
	items = nil
	require.NoError(t, json.Unmarshal([]byte(itemsJSON), &items))
	bySKU := map[string]domaincart.Item{}
	for _, item := range items {
		bySKU[item.SKU] = item
	}
	require.Equal(t, 1, bySKU["SKU-123"].Quantity)
	require.Equal(t, 1, bySKU["SKU-456"].Quantity)

	apply(5, domaincart.EventCartCheckedOut, domaincart.CartCheckedOut{OrderID: "order-1", Total: 40})

	var orderID sql.NullString
	var total sql.NullFloat64
	require.NoError(t, db.QueryRow(`SELECT is_checked_out, order_id, total FROM carts WHERE stream_id = ?`, "C1").
		Scan(&checkedOut, &orderID, &total))
	require.True(t, checkedOut)
	require.Equal(t, "order-1", orderID.String)
	require.InDelta(t, 40, total.Float64, 0.001)

	// Column layout assertion: order_id/total are their own columns, not a
	// key folded into items_json.
	require.NoError(t, db.QueryRow(`SELECT items_json FROM carts WHERE stream_id = ?`, "C1").Scan(&itemsJSON))
	require.NotContains(t, itemsJSON, "orderId")
	require.NotContains(t, itemsJSON, "total")
}
