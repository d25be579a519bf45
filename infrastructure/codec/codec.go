package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
)

// Envelope формат события на шине
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	OrderID       string          `json:"orderId"`
	SchemaVersion int             `json:"schemaVersion"`
	Sequence      int64           `json:"sequence,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Codec кодирует и декодирует события через Registry
type Codec struct {
	registry *Registry
}

// New создает кодек поверх реестра
func New(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// Registry возвращает реестр кодека
func (c *Codec) Registry() *Registry {
	return c.registry
}

// EncodePayload возвращает тег и JSON данных варианта
func (c *Codec) EncodePayload(e domain.Event) (string, []byte, error) {
	if e.Payload == nil {
		return "", nil, core.NewError(core.ErrUnknownEventType, "event has no payload")
	}
	tag := string(e.Payload.EventType())
	if _, err := c.registry.Lookup(tag); err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", tag, err)
	}
	return tag, data, nil
}

// Encode сериализует событие в конверт
func (c *Codec) Encode(e domain.Event) ([]byte, error) {
	tag, payload, err := c.EncodePayload(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		EventID:       e.ID,
		EventType:     tag,
		OrderID:       e.OrderID,
		SchemaVersion: e.SchemaVersion,
		Sequence:      e.Sequence,
		Timestamp:     e.Timestamp,
		Payload:       payload,
	})
}

// Decode восстанавливает событие из конверта.
// Неизвестный тег возвращает ошибку с кодом UNKNOWN_EVENT_TYPE.
func (c *Codec) Decode(data []byte) (domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Event{}, core.Wrap(err, core.ErrInvalidInput, "malformed event envelope")
	}
	if env.EventID == "" || env.OrderID == "" {
		return domain.Event{}, core.NewError(core.ErrInvalidInput, "event envelope requires eventId and orderId")
	}

	payload, err := c.registry.DecodePayload(env.EventType, env.SchemaVersion, env.Payload)
	if err != nil {
		return domain.Event{}, err
	}

	return domain.Event{
		ID:            env.EventID,
		OrderID:       env.OrderID,
		Sequence:      env.Sequence,
		Timestamp:     env.Timestamp,
		SchemaVersion: env.SchemaVersion,
		Payload:       payload,
	}, nil
}
