// Package cart wires the cart domain's events into the carts read-model
// table via projection.UpsertIfNewer. CartCheckedOut writes dedicated
// order_id/total columns rather than folding them into items_json.
package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	domaincart "github.com/eventedge/eventstore/internal/domain/cart"
	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/projection"
)

// Registry returns the handler set for CartOpened, ItemAdded, ItemRemoved,
// and CartCheckedOut, ready to Merge into a larger projection.Registry.
func Registry() projection.Registry {
	return projection.Registry{
		domaincart.EventCartOpened:     {handleCartOpened},
		domaincart.EventItemAdded:      {handleItemAdded},
		domaincart.EventItemRemoved:    {handleItemRemoved},
		domaincart.EventCartCheckedOut: {handleCartCheckedOut},
	}
}

func keyColumns(ev eventstore.Event) map[string]any {
	return map[string]any{"stream_id": ev.StreamID, "partition": ev.Partition}
}

func placeholders(db *sql.DB) sq.PlaceholderFormat {
	if fmt.Sprintf("%T", db.Driver()) == "*stdlib.Driver" {
		return sq.Dollar
	}
	return sq.Question
}

func handleCartOpened(ctx context.Context, pctx projection.Context, ev eventstore.Event) error {
	var payload domaincart.CartOpened
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return err
	}
	return projection.UpsertIfNewer(ctx, pctx.DB, "carts", keyColumns(ev), ev, func(tx *sql.Tx) error {
		query, args, err := sq.Insert("carts").
			Columns("stream_id", "partition", "currency", "items_json").
			Values(ev.StreamID, ev.Partition, payload.Currency, "[]").
			Suffix("ON CONFLICT (stream_id, partition) DO UPDATE SET currency = excluded.currency").
			PlaceholderFormat(placeholders(pctx.DB)).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
}

func handleItemAdded(ctx context.Context, pctx projection.Context, ev eventstore.Event) error {
	var payload domaincart.ItemAdded
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return err
	}
	return mutateItems(ctx, pctx, ev, func(items map[string]domaincart.Item) {
		item := items[payload.SKU]
		item.SKU = payload.SKU
		item.UnitPrice = payload.UnitPrice
		item.Quantity += payload.Quantity
		items[payload.SKU] = item
	})
}

func handleItemRemoved(ctx context.Context, pctx projection.Context, ev eventstore.Event) error {
	var payload domaincart.ItemRemoved
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return err
	}
	return mutateItems(ctx, pctx, ev, func(items map[string]domaincart.Item) {
		item, ok := items[payload.SKU]
		if !ok {
			return
		}
		item.Quantity -= payload.Quantity
		if item.Quantity <= 0 {
			delete(items, payload.SKU)
		} else {
			items[payload.SKU] = item
		}
	})
}

// mutateItems reads the row's current items_json, applies mutate to the
// decoded item map, and writes the result back, all inside UpsertIfNewer's
// transaction so the read-modify-write is atomic with the checkpoint stamp.
func mutateItems(ctx context.Context, pctx projection.Context, ev eventstore.Event, mutate func(map[string]domaincart.Item)) error {
	return projection.UpsertIfNewer(ctx, pctx.DB, "carts", keyColumns(ev), ev, func(tx *sql.Tx) error {
		selectQuery, selectArgs, err := sq.Select("items_json").From("carts").
			Where(sq.Eq{"stream_id": ev.StreamID, "partition": ev.Partition}).
			PlaceholderFormat(placeholders(pctx.DB)).
			ToSql()
		if err != nil {
			return err
		}

		var itemsJSON string
		if err := tx.QueryRowContext(ctx, selectQuery, selectArgs...).Scan(&itemsJSON); err != nil {
			return err
		}

		var current []domaincart.Item
		if err := json.Unmarshal([]byte(itemsJSON), &current); err != nil {
			return err
		}
		items := make(map[string]domaincart.Item, len(current))
		for _, item := range current {
			items[item.SKU] = item
		}

		mutate(items)

		updated := make([]domaincart.Item, 0, len(items))
		for _, item := range items {
			updated = append(updated, item)
		}
		updatedJSON, err := json.Marshal(updated)
		if err != nil {
			return err
		}

		updateQuery, updateArgs, err := sq.Update("carts").
			Set("items_json", string(updatedJSON)).
			Where(sq.Eq{"stream_id": ev.StreamID, "partition": ev.Partition}).
			PlaceholderFormat(placeholders(pctx.DB)).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, updateQuery, updateArgs...)
		return err
	})
}

func handleCartCheckedOut(ctx context.Context, pctx projection.Context, ev eventstore.Event) error {
	var payload domaincart.CartCheckedOut
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return err
	}
	return projection.UpsertIfNewer(ctx, pctx.DB, "carts", keyColumns(ev), ev, func(tx *sql.Tx) error {
		query, args, err := sq.Update("carts").
			Set("is_checked_out", true).
			Set("order_id", payload.OrderID).
			Set("total", payload.Total).
			Where(sq.Eq{"stream_id": ev.StreamID, "partition": ev.Partition}).
			PlaceholderFormat(placeholders(pctx.DB)).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
}
