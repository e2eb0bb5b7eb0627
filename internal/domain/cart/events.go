// Package cart is the example domain exercised by internal/projections/cart:
// a shopping cart aggregate with four event types, a pure Decide function
// holding the business rules, and a Handle function that folds the stream
// through the eventstore's generic AggregateStream primitive before calling
// Decide. Appending the resulting events is left to the caller.
package cart

// CartOpened is the first event of a cart stream.
type CartOpened struct {
	Currency string `json:"currency"`
}

// ItemAdded adds quantity units of sku at unitPrice to the cart. Repeated
// ItemAdded events for the same sku accumulate quantity.
type ItemAdded struct {
	SKU       string  `json:"sku"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"qty"`
}

// ItemRemoved decrements quantity units of sku from the cart.
type ItemRemoved struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

// CartCheckedOut closes the cart. Total and OrderID are computed by Decide
// at checkout time, not supplied by the caller.
type CartCheckedOut struct {
	OrderID string  `json:"orderId"`
	Total   float64 `json:"total"`
}

const (
	EventCartOpened     = "CartOpened"
	EventItemAdded      = "ItemAdded"
	EventItemRemoved    = "ItemRemoved"
	EventCartCheckedOut = "CartCheckedOut"
)
