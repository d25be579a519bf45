package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
)

func itemAdded() domain.Event {
	return domain.Event{
		ID:            "evt-2",
		OrderID:       "order-1",
		Sequence:      2,
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		SchemaVersion: domain.SchemaVersion,
		Payload: domain.ItemAdded{Product: domain.Product{
			ProductID: "p1",
			Name:      "Widget",
			Price:     decimal.RequireFromString("9.99"),
			Quantity:  2,
		}},
	}
}

func TestEncode_WireShape(t *testing.T) {
	c := New(OrderRegistry())

	data, err := c.Encode(itemAdded())
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "evt-2", wire["eventId"])
	assert.Equal(t, "ItemAdded", wire["eventType"])
	assert.Equal(t, "order-1", wire["orderId"])
	assert.Equal(t, float64(1), wire["schemaVersion"])
	assert.Equal(t, float64(2), wire["sequence"])
	assert.Equal(t, "2024-05-01T12:00:00Z", wire["timestamp"])

	payload := wire["payload"].(map[string]any)
	product := payload["product"].(map[string]any)
	assert.Equal(t, "9.99", product["price"])
	assert.Equal(t, float64(2), product["quantity"])
}

func TestDecode_RestoresVariant(t *testing.T) {
	c := New(OrderRegistry())
	original := itemAdded()

	data, err := c.Encode(original)
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Sequence, decoded.Sequence)
	assert.True(t, original.Timestamp.Equal(decoded.Timestamp))

	added, ok := decoded.Payload.(domain.ItemAdded)
	require.True(t, ok, "payload type %T", decoded.Payload)
	assert.True(t, added.Product.Equal(original.Payload.(domain.ItemAdded).Product))
}

func TestDecode_AllOrderVariants(t *testing.T) {
	c := New(OrderRegistry())

	payloads := []domain.Payload{
		domain.OrderCreated{CustomerID: "cust-1"},
		domain.OrderConfirmed{},
	}
	for _, p := range payloads {
		e := domain.Event{ID: "e", OrderID: "o", SchemaVersion: 1, Timestamp: time.Now().UTC(), Payload: p}
		data, err := c.Encode(e)
		require.NoError(t, err)

		got, err := c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, p, got.Payload)
	}
}

func TestDecode_UnknownEventType(t *testing.T) {
	c := New(OrderRegistry())

	_, err := c.Decode([]byte(`{"eventId":"e1","eventType":"OrderShipped","orderId":"o1","schemaVersion":1,"timestamp":"2024-05-01T12:00:00Z","payload":{}}`))

	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrUnknownEventType))
}

func TestDecode_NewerSchemaVersion(t *testing.T) {
	c := New(OrderRegistry())

	_, err := c.Decode([]byte(`{"eventId":"e1","eventType":"OrderConfirmed","orderId":"o1","schemaVersion":2,"timestamp":"2024-05-01T12:00:00Z","payload":{}}`))

	assert.True(t, core.HasCode(err, core.ErrUnknownEventType))
}

func TestDecode_Malformed(t *testing.T) {
	c := New(OrderRegistry())

	_, err := c.Decode([]byte(`not json`))
	assert.True(t, core.HasCode(err, core.ErrInvalidInput))

	_, err = c.Decode([]byte(`{"eventType":"OrderConfirmed","payload":{}}`))
	assert.True(t, core.HasCode(err, core.ErrInvalidInput))
}

func TestEncode_UnregisteredVariant(t *testing.T) {
	r, err := NewRegistry(ShapeOf[domain.OrderCreated](1))
	require.NoError(t, err)

	_, err = New(r).Encode(itemAdded())
	assert.True(t, core.HasCode(err, core.ErrUnknownEventType))
}

func TestNewRegistry_DuplicateType(t *testing.T) {
	_, err := NewRegistry(ShapeOf[domain.ItemAdded](1), ShapeOf[domain.ItemAdded](1))
	assert.True(t, core.HasCode(err, core.ErrInvalidConfig))
}

func TestRegistry_Types(t *testing.T) {
	assert.Equal(t, []domain.EventType{
		domain.EventTypeItemAdded,
		domain.EventTypeOrderConfirmed,
		domain.EventTypeOrderCreated,
	}, OrderRegistry().Types())
}
