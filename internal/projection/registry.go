// Package projection drives read models off the event store: a registry of
// per-event-type handlers, an idempotent upsert guard, an on-demand runner,
// and a long-running polling consumer.
package projection

import (
	"context"
	"database/sql"

	"github.com/eventedge/eventstore/internal/eventstore"
)

// Context is the environment a Handler runs in.
type Context struct {
	DB        *sql.DB
	Partition string
}

// Handler applies one event to a read model. Handlers are expected to be
// idempotent; UpsertIfNewer is the usual way to get that for free.
type Handler func(ctx context.Context, pctx Context, ev eventstore.Event) error

// Registry maps an event type to the ordered handlers that process it.
type Registry map[string][]Handler

// Merge concatenates handler lists per event type across registries,
// preserving the order the registries were passed in, so independently
// authored projections compose into one runner/consumer.
func Merge(registries ...Registry) Registry {
	merged := make(Registry)
	for _, r := range registries {
		for eventType, handlers := range r {
			merged[eventType] = append(merged[eventType], handlers...)
		}
	}
	return merged
}
