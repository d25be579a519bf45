package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orderflow/framework/eventsourcing"
)

func TestRebuild_ProjectsLogWithoutBroker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publisher.setDown(true)

	id, err := env.commands.CreateOrder(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, env.commands.AddProduct(ctx, id, widget()))
	require.NoError(t, env.commands.AddProduct(ctx, id, gadget()))
	require.NoError(t, env.commands.ConfirmOrder(ctx, id))

	_, err = env.queries.GetOrderView(ctx, id)
	require.Error(t, err)

	result, err := env.engine.Rebuild(ctx, env.store, env.repo, eventsourcing.ReplayOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Applied: 4}, result)

	view, err := env.queries.GetOrderView(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", view.CustomerID)
	assert.Len(t, view.Products, 2)
	assert.True(t, view.Confirmed)
	assert.Equal(t, int64(4), view.LastSequence)

	again, err := env.engine.Rebuild(ctx, env.store, env.repo, eventsourcing.DefaultReplayOptions())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Duplicates: 4}, again)

	after, err := env.queries.GetOrderView(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, view.Products, after.Products)
}

func TestRebuild_SkipsForeignAndUndecodableRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.AppendEvents(ctx, "invoice-1", 0, []eventsourcing.StoredEvent{
		{ID: "x-1", AggregateType: "invoice", EventType: "InvoiceIssued", SchemaVersion: 1, EventData: []byte(`{}`)},
	}))
	require.NoError(t, env.store.AppendEvents(ctx, "order-x", 0, []eventsourcing.StoredEvent{
		{ID: "x-2", AggregateType: "order", EventType: "OrderShipped", SchemaVersion: 1, EventData: []byte(`{}`)},
	}))

	result, err := env.engine.Rebuild(ctx, env.store, env.repo, eventsourcing.DefaultReplayOptions())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Failed: 1}, result)
}
