// Package codec сериализует доменные события заказа в формат конверта и обратно.
package codec

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
)

// Shape описание варианта события: тег, версия схемы и декодер данных.
type Shape struct {
	Type          domain.EventType
	SchemaVersion int
	decode        func(data []byte) (domain.Payload, error)
}

// ShapeOf строит Shape для варианта T
func ShapeOf[T domain.Payload](schemaVersion int) Shape {
	var zero T
	return Shape{
		Type:          zero.EventType(),
		SchemaVersion: schemaVersion,
		decode: func(data []byte) (domain.Payload, error) {
			var p T
			if len(data) == 0 {
				return p, nil
			}
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

// Registry неизменяемое отображение тега на Shape.
// Строится один раз при старте и передается по ссылке.
type Registry struct {
	shapes map[domain.EventType]Shape
}

// NewRegistry создает реестр; повторный тег считается ошибкой
func NewRegistry(shapes ...Shape) (*Registry, error) {
	m := make(map[domain.EventType]Shape, len(shapes))
	for _, s := range shapes {
		if s.Type == "" || s.decode == nil {
			return nil, core.NewError(core.ErrInvalidConfig, "event shape must be built with ShapeOf")
		}
		if _, exists := m[s.Type]; exists {
			return nil, core.Errorf(core.ErrInvalidConfig, "event type %s registered twice", s.Type)
		}
		m[s.Type] = s
	}
	return &Registry{shapes: m}, nil
}

// OrderRegistry реестр всех вариантов событий заказа
func OrderRegistry() *Registry {
	r, err := NewRegistry(
		ShapeOf[domain.OrderCreated](domain.SchemaVersion),
		ShapeOf[domain.ItemAdded](domain.SchemaVersion),
		ShapeOf[domain.OrderConfirmed](domain.SchemaVersion),
	)
	if err != nil {
		panic(fmt.Sprintf("codec: order registry: %v", err))
	}
	return r
}

// Lookup возвращает Shape по тегу
func (r *Registry) Lookup(eventType string) (Shape, error) {
	s, ok := r.shapes[domain.EventType(eventType)]
	if !ok {
		return Shape{}, core.Errorf(core.ErrUnknownEventType, "unknown event type %q", eventType)
	}
	return s, nil
}

// Types возвращает зарегистрированные теги в лексикографическом порядке
func (r *Registry) Types() []domain.EventType {
	out := make([]domain.EventType, 0, len(r.shapes))
	for t := range r.shapes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DecodePayload декодирует данные варианта по тегу и версии схемы
func (r *Registry) DecodePayload(eventType string, schemaVersion int, data []byte) (domain.Payload, error) {
	s, err := r.Lookup(eventType)
	if err != nil {
		return nil, err
	}
	if schemaVersion > s.SchemaVersion {
		return nil, core.Errorf(core.ErrUnknownEventType,
			"event type %s: unsupported schema version %d (max %d)", eventType, schemaVersion, s.SchemaVersion)
	}
	p, err := s.decode(data)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidInput, fmt.Sprintf("decode %s payload", eventType))
	}
	return p, nil
}
