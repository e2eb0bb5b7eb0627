package projection_test

import (
	"context"
	"testing"

	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/projection"
	"github.com/stretchr/testify/require"
)

func TestMergePreservesOrderAcrossRegistries(t *testing.T) {
	var calls []string
	a := projection.Registry{
		"CartOpened": {func(ctx context.Context, pctx projection.Context, ev eventstore.Event) error {
			calls = append(calls, "a")
			return nil
		}},
	}
	b := projection.Registry{
		"CartOpened": {func(ctx context.Context, pctx projection.Context, ev eventstore.Event) error {
			calls = append(calls, "b")
			return nil
		}},
		"ItemAdded": {func(ctx context.Context, pctx projection.Context, ev eventstore.Event) error {
			calls = append(calls, "item-added")
			return nil
		}},
	}

	merged := projection.Merge(a, b)
	require.Len(t, merged["CartOpened"], 2)
	require.Len(t, merged["ItemAdded"], 1)

	for _, h := range merged["CartOpened"] {
		require.NoError(t, h(context.Background(), projection.Context{}, eventstore.Event{Type: "CartOpened"}))
	}
	require.Equal(t, []string{"a", "b"}, calls)
}

func TestMergeWithNoRegistriesReturnsEmpty(t *testing.T) {
	merged := projection.Merge()
	require.Empty(t, merged)
}
