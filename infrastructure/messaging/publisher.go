// Package messaging публикует доменные события заказов в message bus.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/observability"
	"github.com/akriventsev/orderflow/framework/transport"
	"github.com/akriventsev/orderflow/infrastructure/codec"
)

// DefaultSubject subject событий заказов
const DefaultSubject = "orders"

// EventPublisher кодирует события и публикует их с ключом orderId.
// Все события одного заказа попадают в одну партицию и сохраняют порядок.
type EventPublisher struct {
	bus     transport.Publisher
	codec   *codec.Codec
	subject string
}

// NewEventPublisher создает публикатор; пустой subject заменяется на DefaultSubject
func NewEventPublisher(bus transport.Publisher, c *codec.Codec, subject string) *EventPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &EventPublisher{bus: bus, codec: c, subject: subject}
}

// Subject возвращает subject публикации
func (p *EventPublisher) Subject() string {
	return p.subject
}

// Publish публикует события по порядку и останавливается на первой ошибке
func (p *EventPublisher) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		msg, err := p.Message(ctx, e)
		if err != nil {
			return core.Wrap(err, core.ErrPublishFailure, fmt.Sprintf("encode event %s", e.ID))
		}
		if err := p.bus.Publish(ctx, msg); err != nil {
			return core.Wrap(err, core.ErrPublishFailure, fmt.Sprintf("publish event %s of order %s", e.ID, e.OrderID))
		}
	}
	return nil
}

// Message строит сообщение шины для события
func (p *EventPublisher) Message(ctx context.Context, e domain.Event) (*transport.Message, error) {
	data, err := p.codec.Encode(e)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		transport.HeaderEventID:     e.ID,
		transport.HeaderEventType:   string(e.Type()),
		transport.HeaderAggregateID: e.OrderID,
		transport.HeaderOccurredAt:  e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	observability.InjectHeaders(ctx, headers)

	return &transport.Message{
		Subject: p.subject,
		Key:     e.OrderID,
		Data:    data,
		Headers: headers,
	}, nil
}
