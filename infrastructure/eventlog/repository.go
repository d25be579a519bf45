// Package eventlog связывает доменные события заказа с журналом событий.
package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/eventsourcing"
	"github.com/akriventsev/orderflow/infrastructure/codec"
)

// AggregateType тип агрегата в журнале
const AggregateType = "order"

// Repository журнал событий заказов поверх eventsourcing.EventStore
type Repository struct {
	store eventsourcing.EventStore
	codec *codec.Codec
}

// NewRepository создает репозиторий
func NewRepository(store eventsourcing.EventStore, c *codec.Codec) *Repository {
	return &Repository{store: store, codec: c}
}

// Append дописывает события заказа в заданном порядке.
// expectedVersion == eventsourcing.AnyVersion отключает проверку конкурентности.
func (r *Repository) Append(ctx context.Context, orderID string, expectedVersion int64, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	records := make([]eventsourcing.StoredEvent, 0, len(events))
	for _, e := range events {
		record, err := r.ToRecord(e)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	if err := r.store.AppendEvents(ctx, orderID, expectedVersion, records); err != nil {
		if errors.Is(err, eventsourcing.ErrConcurrencyConflict) {
			return core.Wrap(err, core.ErrConcurrencyConflict, fmt.Sprintf("order %s was modified concurrently", orderID))
		}
		return core.Wrap(err, core.ErrPersistenceFailure, fmt.Sprintf("append events for order %s", orderID))
	}
	return nil
}

// Load возвращает все события заказа в порядке добавления; пустой срез для неизвестного заказа
func (r *Repository) Load(ctx context.Context, orderID string) ([]domain.Event, error) {
	records, err := r.store.GetEvents(ctx, orderID, 0)
	if err != nil {
		return nil, core.Wrap(err, core.ErrPersistenceFailure, fmt.Sprintf("load events for order %s", orderID))
	}

	events := make([]domain.Event, 0, len(records))
	for _, record := range records {
		e, err := r.FromRecord(record)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// ToRecord преобразует доменное событие в запись журнала
func (r *Repository) ToRecord(e domain.Event) (eventsourcing.StoredEvent, error) {
	tag, data, err := r.codec.EncodePayload(e)
	if err != nil {
		return eventsourcing.StoredEvent{}, err
	}
	return eventsourcing.StoredEvent{
		ID:            e.ID,
		AggregateID:   e.OrderID,
		AggregateType: AggregateType,
		EventType:     tag,
		SchemaVersion: e.SchemaVersion,
		EventData:     data,
		Version:       e.Sequence,
		OccurredAt:    e.Timestamp,
	}, nil
}

// FromRecord восстанавливает доменное событие из записи журнала.
// Порядковый номер события берется из версии записи.
func (r *Repository) FromRecord(record eventsourcing.StoredEvent) (domain.Event, error) {
	payload, err := r.codec.Registry().DecodePayload(record.EventType, record.SchemaVersion, record.EventData)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event %s at position %d: %w", record.ID, record.Position, err)
	}
	return domain.Event{
		ID:            record.ID,
		OrderID:       record.AggregateID,
		Sequence:      record.Version,
		Timestamp:     record.OccurredAt,
		SchemaVersion: record.SchemaVersion,
		Payload:       payload,
	}, nil
}
