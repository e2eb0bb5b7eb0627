package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eventedge/eventstore/internal/aggregate"
	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/google/uuid"
)

// CommandContext carries request-scoped identity explicitly into Decide,
// replacing the source's per-task ambient storage. Every produced event's
// metadata is decorated with these fields.
type CommandContext struct {
	RequestID string
	UserID    string
	TenantID  string
}

// Command is the sum type of operations this aggregate accepts.
type Command interface{ isCartCommand() }

type OpenCart struct{ Currency string }
type AddItem struct {
	SKU       string
	UnitPrice float64
	Quantity  int
}
type RemoveItem struct {
	SKU      string
	Quantity int
}
type Checkout struct{}

func (OpenCart) isCartCommand()   {}
func (AddItem) isCartCommand()    {}
func (RemoveItem) isCartCommand() {}
func (Checkout) isCartCommand()   {}

var (
	ErrCartAlreadyOpened = errors.New("cart: already opened")
	ErrCartNotOpened     = errors.New("cart: not opened")
	ErrCartCheckedOut    = errors.New("cart: already checked out")
	ErrItemNotFound      = errors.New("cart: item not in cart")
	ErrInsufficientQty   = errors.New("cart: cannot remove more than is in the cart")
)

// Decide is the pure decision function: current state plus a command
// produces zero or more events, or a domain error. It never touches
// storage; Handle wires it to ReadStream/AggregateStream.
func Decide(cmdCtx CommandContext, state State, cmd Command) ([]eventstore.EventInput, error) {
	switch c := cmd.(type) {
	case OpenCart:
		if state.Opened {
			return nil, ErrCartAlreadyOpened
		}
		return []eventstore.EventInput{eventFor(cmdCtx, EventCartOpened, CartOpened{Currency: c.Currency})}, nil

	case AddItem:
		if !state.Opened {
			return nil, ErrCartNotOpened
		}
		if state.CheckedOut {
			return nil, ErrCartCheckedOut
		}
		return []eventstore.EventInput{eventFor(cmdCtx, EventItemAdded, ItemAdded{
			SKU: c.SKU, UnitPrice: c.UnitPrice, Quantity: c.Quantity,
		})}, nil

	case RemoveItem:
		if !state.Opened {
			return nil, ErrCartNotOpened
		}
		if state.CheckedOut {
			return nil, ErrCartCheckedOut
		}
		item, ok := state.Items[c.SKU]
		if !ok {
			return nil, ErrItemNotFound
		}
		if c.Quantity > item.Quantity {
			return nil, ErrInsufficientQty
		}
		return []eventstore.EventInput{eventFor(cmdCtx, EventItemRemoved, ItemRemoved{
			SKU: c.SKU, Quantity: c.Quantity,
		})}, nil

	case Checkout:
		if !state.Opened {
			return nil, ErrCartNotOpened
		}
		if state.CheckedOut {
			return nil, ErrCartCheckedOut
		}
		var total float64
		for _, item := range state.Items {
			total += item.UnitPrice * float64(item.Quantity)
		}
		orderID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("cart: generate order id: %w", err)
		}
		return []eventstore.EventInput{eventFor(cmdCtx, EventCartCheckedOut, CartCheckedOut{
			OrderID: orderID.String(), Total: total,
		})}, nil

	default:
		return nil, fmt.Errorf("cart: unknown command %T", cmd)
	}
}

func eventFor(cmdCtx CommandContext, eventType string, payload any) eventstore.EventInput {
	data, _ := json.Marshal(payload)
	metadata, _ := json.Marshal(map[string]string{
		"requestId": cmdCtx.RequestID,
		"userId":    cmdCtx.UserID,
		"tenantId":  cmdCtx.TenantID,
	})
	return eventstore.EventInput{Type: eventType, Data: data, Metadata: metadata}
}

// Handle folds streamID's current state via AggregateStream, then applies
// Decide. It does not append the returned events; the caller passes them to
// Store.Append within the expected-version policy it chooses.
func Handle(ctx context.Context, reader aggregate.Reader, streamID string, partition string, cmdCtx CommandContext, cmd Command) ([]eventstore.EventInput, int64, error) {
	state, version, _, err := aggregate.Aggregate(ctx, reader, streamID, aggregate.Options{Partition: partition}, Evolve, Initial)
	if err != nil {
		return nil, 0, err
	}
	events, err := Decide(cmdCtx, state, cmd)
	if err != nil {
		return nil, version, err
	}
	return events, version, nil
}
