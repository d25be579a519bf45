package readmodel

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orderflow/domain"
)

func sampleView() OrderView {
	return OrderView{
		OrderID:    "order-1",
		CustomerID: "cust-1",
		Products: []domain.Product{
			{ProductID: "p1", Name: "Widget", Price: decimal.RequireFromString("9.99"), Quantity: 2},
		},
		Confirmed:    true,
		LastSequence: 3,
		UpdatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func assertSameView(t *testing.T, want, got OrderView) {
	t.Helper()
	assert.Equal(t, want.OrderID, got.OrderID)
	assert.Equal(t, want.CustomerID, got.CustomerID)
	assert.Equal(t, want.Confirmed, got.Confirmed)
	assert.Equal(t, want.LastSequence, got.LastSequence)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
	require.Len(t, got.Products, len(want.Products))
	for i := range want.Products {
		assert.True(t, want.Products[i].Equal(got.Products[i]), "product %d", i)
	}
}

// storeContract проверяет общее поведение всех реализаций MarkingStore
func storeContract(t *testing.T, store MarkingStore) {
	ctx := context.Background()

	_, found, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Save(ctx, sampleView()))
	got, found, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, found)
	assertSameView(t, sampleView(), got)

	processed, err := store.IsProcessed(ctx, "evt-4")
	require.NoError(t, err)
	assert.False(t, processed)

	updated := sampleView()
	updated.LastSequence = 4
	require.NoError(t, store.SaveAndMark(ctx, updated, "evt-4"))

	processed, err = store.IsProcessed(ctx, "evt-4")
	require.NoError(t, err)
	assert.True(t, processed)

	got, _, err = store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.LastSequence)
}

func TestInMemoryStore(t *testing.T) {
	storeContract(t, NewInMemoryStore())
}

func TestInMemoryStore_IsolatesCallers(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	view := sampleView()
	require.NoError(t, store.Save(ctx, view))
	view.Products[0].Name = "changed"

	got, _, _ := store.Get(ctx, "order-1")
	assert.Equal(t, "Widget", got.Products[0].Name)

	got.Products[0].Name = "changed again"
	again, _, _ := store.Get(ctx, "order-1")
	assert.Equal(t, "Widget", again.Products[0].Name)
}

func TestPebbleStore(t *testing.T) {
	store, err := NewPebbleStore(t.TempDir(), false)
	require.NoError(t, err)
	defer store.Close()

	storeContract(t, store)
}

func TestPebbleStore_Range(t *testing.T) {
	store, err := NewPebbleStore(t.TempDir(), false)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		v := NewOrderView(id)
		v.CustomerID = "cust-" + id
		require.NoError(t, store.Save(ctx, v))
	}
	require.NoError(t, store.MarkProcessed(ctx, "evt-1"))

	var ids []string
	require.NoError(t, store.Range(func(v OrderView) error {
		ids = append(ids, v.OrderID)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, ids, "markers must not appear in range")
}

func TestRedisHashEncoding(t *testing.T) {
	fields, err := encodeHash(sampleView())
	require.NoError(t, err)

	assert.Equal(t, "order-1", fields["orderId"])
	assert.Equal(t, "true", fields["confirmed"])
	assert.Equal(t, "3", fields["lastSequence"])
	assert.JSONEq(t, `[{"productId":"p1","name":"Widget","price":"9.99","quantity":2}]`, fields["items"].(string))

	raw := make(map[string]string, len(fields))
	for k, v := range fields {
		raw[k] = v.(string)
	}
	view, err := decodeHash(raw)
	require.NoError(t, err)
	assertSameView(t, sampleView(), view)
}

func TestRedisHashDecoding_EmptyItems(t *testing.T) {
	view, err := decodeHash(map[string]string{"orderId": "order-1", "customerId": "cust-1", "confirmed": "false"})
	require.NoError(t, err)
	assert.NotNil(t, view.Products)
	assert.Empty(t, view.Products)

	_, err = decodeHash(map[string]string{"customerId": "cust-1"})
	assert.Error(t, err)
}

func TestOrderView_Total(t *testing.T) {
	assert.Equal(t, "19.98", sampleView().Total().String())
}
