package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/eventsourcing"
	"github.com/akriventsev/orderflow/infrastructure/codec"
)

type failingStore struct {
	eventsourcing.EventStore
	err error
}

func (s failingStore) AppendEvents(context.Context, string, int64, []eventsourcing.StoredEvent) error {
	return s.err
}

func (s failingStore) GetEvents(context.Context, string, int64) ([]eventsourcing.StoredEvent, error) {
	return nil, s.err
}

func newRepository() (*Repository, *eventsourcing.InMemoryEventStore) {
	store := eventsourcing.NewInMemoryEventStore(eventsourcing.DefaultInMemoryEventStoreConfig())
	return NewRepository(store, codec.New(codec.OrderRegistry())), store
}

func orderHistory() []domain.Event {
	f := domain.DefaultEventFactory()
	o := domain.Create(f, "order-1", "cust-1")
	_ = o.AddItem(domain.Product{ProductID: "p1", Name: "Widget", Price: decimal.RequireFromString("9.99"), Quantity: 2})
	_ = o.Confirm()
	return o.DrainUncommitted()
}

func TestRepository_AppendLoadPreservesOrder(t *testing.T) {
	repo, _ := newRepository()
	ctx := context.Background()
	history := orderHistory()

	require.NoError(t, repo.Append(ctx, "order-1", 0, history))

	loaded, err := repo.Load(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, loaded, len(history))

	for i := range history {
		assert.Equal(t, history[i].ID, loaded[i].ID)
		assert.Equal(t, history[i].Type(), loaded[i].Type())
		assert.Equal(t, history[i].Sequence, loaded[i].Sequence)
		assert.True(t, history[i].Timestamp.Equal(loaded[i].Timestamp))
	}
	assert.Equal(t, domain.Replay(history).Products[0].Name, domain.Replay(loaded).Products[0].Name)
	assert.True(t, domain.Replay(loaded).Confirmed)
}

func TestRepository_LoadUnknownOrder(t *testing.T) {
	repo, _ := newRepository()

	loaded, err := repo.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestRepository_ConcurrencyConflict(t *testing.T) {
	repo, store := newRepository()
	ctx := context.Background()
	history := orderHistory()

	require.NoError(t, repo.Append(ctx, "order-1", 0, history[:1]))
	err := repo.Append(ctx, "order-1", 0, history[1:2])

	assert.True(t, core.HasCode(err, core.ErrConcurrencyConflict))
	assert.True(t, errors.Is(err, eventsourcing.ErrConcurrencyConflict))
	assert.Equal(t, 1, store.Len("order-1"))
}

func TestRepository_PersistenceFailure(t *testing.T) {
	repo := NewRepository(failingStore{err: errors.New("connection refused")}, codec.New(codec.OrderRegistry()))
	ctx := context.Background()

	err := repo.Append(ctx, "order-1", 0, orderHistory())
	assert.True(t, core.HasCode(err, core.ErrPersistenceFailure))

	_, err = repo.Load(ctx, "order-1")
	assert.True(t, core.HasCode(err, core.ErrPersistenceFailure))
}

func TestRepository_UnknownStoredType(t *testing.T) {
	repo, store := newRepository()
	ctx := context.Background()

	err := store.AppendEvents(ctx, "order-1", 0, []eventsourcing.StoredEvent{{
		ID:            "legacy-1",
		EventType:     "OrderShipped",
		SchemaVersion: 1,
		EventData:     []byte(`{}`),
		OccurredAt:    time.Now(),
	}})
	require.NoError(t, err)

	_, err = repo.Load(ctx, "order-1")
	assert.True(t, core.HasCode(err, core.ErrUnknownEventType))
}
