package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/transport"
	"github.com/akriventsev/orderflow/infrastructure/idempotency"
	"github.com/akriventsev/orderflow/infrastructure/readmodel"
)

func orderHistory() []domain.Event {
	f := sequentialFactory()
	return []domain.Event{
		f.NewEvent("o1", 1, domain.OrderCreated{CustomerID: "cust-1"}),
		f.NewEvent("o1", 2, domain.ItemAdded{Product: widget()}),
		f.NewEvent("o1", 3, domain.OrderConfirmed{}),
	}
}

func TestProjectionEngine_FoldsHistory(t *testing.T) {
	views := readmodel.NewInMemoryStore()
	engine := NewProjectionEngine(views, idempotency.NewInMemoryCache(0), DefaultProjectionConfig(), nil, nil)

	result := engine.HandleBatch(context.Background(), orderHistory())
	assert.Equal(t, BatchResult{Applied: 3}, result)

	view, found, err := views.Get(context.Background(), "o1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "cust-1", view.CustomerID)
	assert.Len(t, view.Products, 1)
	assert.True(t, view.Confirmed)
	assert.Equal(t, int64(3), view.LastSequence)
}

func TestProjectionEngine_RedeliveryIsIdempotent(t *testing.T) {
	views := readmodel.NewInMemoryStore()
	engine := NewProjectionEngine(views, idempotency.NewInMemoryCache(0), DefaultProjectionConfig(), nil, nil)
	history := orderHistory()

	engine.HandleBatch(context.Background(), history)
	first, _, err := views.Get(context.Background(), "o1")
	require.NoError(t, err)

	result := engine.HandleBatch(context.Background(), history)
	assert.Equal(t, BatchResult{Duplicates: 3}, result)

	second, _, err := views.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// Отметка об обработке теряется между сохранением представления и записью в кэш.
func crashWindowEngine(cfg ProjectionConfig) (*ProjectionEngine, *readmodel.InMemoryStore, *flakyCache) {
	views := readmodel.NewInMemoryStore()
	cache := &flakyCache{InMemoryCache: idempotency.NewInMemoryCache(0)}
	return NewProjectionEngine(views, cache, cfg, nil, nil), views, cache
}

func TestProjectionEngine_CrashWindowDuplicatesItemWithoutGuard(t *testing.T) {
	engine, views, cache := crashWindowEngine(ProjectionConfig{SequenceGuard: false})
	history := orderHistory()
	ctx := context.Background()

	engine.HandleBatch(ctx, history[:1])
	cache.dropMarks = 1
	result := engine.HandleBatch(ctx, history[1:2])
	assert.Equal(t, 1, result.Failed, "view saved but mark lost")

	result = engine.HandleBatch(ctx, history[1:2])
	assert.Equal(t, 1, result.Applied)

	view, _, err := views.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, view.Products, 2, "ItemAdded fold is not idempotent on its own")
}

func TestProjectionEngine_SequenceGuardClosesCrashWindow(t *testing.T) {
	engine, views, cache := crashWindowEngine(DefaultProjectionConfig())
	history := orderHistory()
	ctx := context.Background()

	engine.HandleBatch(ctx, history[:1])
	cache.dropMarks = 1
	engine.HandleBatch(ctx, history[1:2])

	result := engine.HandleBatch(ctx, history[1:2])
	assert.Equal(t, BatchResult{Stale: 1}, result)

	view, _, err := views.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, view.Products, 1)

	processed, err := cache.IsProcessed(ctx, history[1].ID)
	require.NoError(t, err)
	assert.True(t, processed, "stale event is marked on redelivery")
}

func TestProjectionEngine_AtomicMarking(t *testing.T) {
	views := readmodel.NewInMemoryStore()
	cache := &flakyCache{InMemoryCache: idempotency.NewInMemoryCache(0), dropMarks: 100}
	engine := NewProjectionEngine(views, cache, ProjectionConfig{AtomicMarking: true}, nil, nil)
	history := orderHistory()
	ctx := context.Background()

	assert.Equal(t, BatchResult{Applied: 3}, engine.HandleBatch(ctx, history))
	assert.Equal(t, BatchResult{Duplicates: 3}, engine.HandleBatch(ctx, history))

	view, _, err := views.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, view.Products, 1)
	assert.Zero(t, cache.Len(), "cache is bypassed")
}

type failingViews struct {
	readmodel.Store
	failOrder string
}

func (v failingViews) Save(ctx context.Context, view readmodel.OrderView) error {
	if view.OrderID == v.failOrder {
		return assert.AnError
	}
	return v.Store.Save(ctx, view)
}

func TestProjectionEngine_FailureIsolatedPerEvent(t *testing.T) {
	views := readmodel.NewInMemoryStore()
	engine := NewProjectionEngine(failingViews{Store: views, failOrder: "bad"}, idempotency.NewInMemoryCache(0), DefaultProjectionConfig(), nil, nil)
	f := sequentialFactory()

	batch := []domain.Event{
		f.NewEvent("bad", 1, domain.OrderCreated{CustomerID: "c"}),
		f.NewEvent("good", 1, domain.OrderCreated{CustomerID: "c"}),
	}
	result := engine.HandleBatch(context.Background(), batch)
	assert.Equal(t, BatchResult{Applied: 1, Failed: 1}, result)

	_, found, err := views.Get(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestProjectionEngine_EventAheadOfViewIsNotMarked(t *testing.T) {
	views := readmodel.NewInMemoryStore()
	cache := idempotency.NewInMemoryCache(0)
	engine := NewProjectionEngine(views, cache, DefaultProjectionConfig(), nil, nil)
	history := orderHistory()
	ctx := context.Background()

	outcome, err := engine.Project(ctx, history[1])
	require.ErrorIs(t, err, ErrSequenceGap)
	assert.Equal(t, OutcomeFailed, outcome)

	_, found, err := views.Get(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, found)
	processed, err := cache.IsProcessed(ctx, history[1].ID)
	require.NoError(t, err)
	assert.False(t, processed)

	assert.Equal(t, BatchResult{Applied: 3}, engine.HandleBatch(ctx, history))

	view, _, err := views.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", view.CustomerID)
	assert.Len(t, view.Products, 1)
	assert.Equal(t, int64(3), view.LastSequence)
}

func TestProjectionEngine_GapLeavesLaterEventsForRedelivery(t *testing.T) {
	views := readmodel.NewInMemoryStore()
	engine := NewProjectionEngine(views, idempotency.NewInMemoryCache(0), DefaultProjectionConfig(), nil, nil)
	history := orderHistory()
	ctx := context.Background()

	result := engine.HandleBatch(ctx, []domain.Event{history[0], history[2]})
	assert.Equal(t, BatchResult{Applied: 1, Failed: 1}, result)

	result = engine.HandleBatch(ctx, history)
	assert.Equal(t, BatchResult{Applied: 2, Duplicates: 1}, result)

	view, _, err := views.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, view.Products, 1)
	assert.True(t, view.Confirmed)
}

type unknownPayload struct{ domain.OrderConfirmed }

func (unknownPayload) EventType() domain.EventType { return "Unknown" }

func TestFoldView_PanicsOnUnknownPayload(t *testing.T) {
	e := domain.Event{ID: "x", OrderID: "o1", Sequence: 1, Timestamp: time.Now(), Payload: unknownPayload{}}
	assert.Panics(t, func() { FoldView(readmodel.NewOrderView("o1"), e) })
}

func TestFoldView_OrderCreatedStartsWithEmptyProducts(t *testing.T) {
	history := orderHistory()
	view := readmodel.NewOrderView("o1")
	view.Products = []domain.Product{gadget()}
	view.Confirmed = true

	next := FoldView(view, history[0])
	assert.Equal(t, "cust-1", next.CustomerID)
	assert.NotNil(t, next.Products)
	assert.Empty(t, next.Products)
	assert.False(t, next.Confirmed)
	assert.Len(t, view.Products, 1, "input view is untouched")
}

func TestFoldView_DoesNotMutateInput(t *testing.T) {
	history := orderHistory()
	base := FoldView(readmodel.NewOrderView("o1"), history[0])
	_ = FoldView(base, history[1])
	assert.Empty(t, base.Products)
}

func TestProjectionConsumer_SkipsUndecodableMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, err := env.commands.CreateOrder(ctx, "cust-1")
	require.NoError(t, err)
	require.NoError(t, env.bus.Publish(ctx, &transport.Message{
		Subject: "orders",
		Key:     orderID,
		Data:    []byte(`{"eventId":"e9","eventType":"OrderShipped","orderId":"` + orderID + `","schemaVersion":1,"payload":{}}`),
		Headers: map[string]string{transport.HeaderEventID: "e9"},
	}))
	require.NoError(t, env.bus.Publish(ctx, &transport.Message{Subject: "orders", Key: orderID, Data: []byte("not json")}))

	env.project(t)

	view, err := env.queries.GetOrderView(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", view.CustomerID)
	assert.Zero(t, env.bus.Pending("orders"))
}
