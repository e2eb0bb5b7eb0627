package cart

import (
	"encoding/json"

	"github.com/eventedge/eventstore/internal/eventstore"
)

// Item is one line of a cart, keyed by SKU in State.Items.
type Item struct {
	SKU       string  `json:"sku"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"qty"`
}

// State is the in-memory fold of a cart stream, the aggregate.Aggregate
// type parameter S for this domain.
type State struct {
	Opened     bool
	Currency   string
	Items      map[string]Item
	CheckedOut bool
	OrderID    string
	Total      float64
}

// Initial returns the zero-value cart state: not yet opened, no items.
func Initial() State {
	return State{Items: map[string]Item{}}
}

// Evolve applies one event to state, per EventCartOpened/ItemAdded/
// ItemRemoved/CartCheckedOut. Unrecognized event types are ignored so
// unrelated events sharing a stream (there are none today) don't break the
// fold.
func Evolve(state State, ev eventstore.Event) State {
	switch ev.Type {
	case EventCartOpened:
		var payload CartOpened
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return state
		}
		state.Opened = true
		state.Currency = payload.Currency
	case EventItemAdded:
		var payload ItemAdded
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return state
		}
		item := state.Items[payload.SKU]
		item.SKU = payload.SKU
		item.UnitPrice = payload.UnitPrice
		item.Quantity += payload.Quantity
		state.Items[payload.SKU] = item
	case EventItemRemoved:
		var payload ItemRemoved
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return state
		}
		item, ok := state.Items[payload.SKU]
		if !ok {
			return state
		}
		item.Quantity -= payload.Quantity
		if item.Quantity <= 0 {
			delete(state.Items, payload.SKU)
		} else {
			state.Items[payload.SKU] = item
		}
	case EventCartCheckedOut:
		var payload CartCheckedOut
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return state
		}
		state.CheckedOut = true
		state.OrderID = payload.OrderID
		state.Total = payload.Total
	}
	return state
}
