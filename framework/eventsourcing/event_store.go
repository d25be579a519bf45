// Package eventsourcing предоставляет журнал событий с оптимистичной конкурентностью
// и хранилища позиций для фоновых обработчиков журнала.
package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConcurrencyConflict возникает при конфликте версий при сохранении событий
	ErrConcurrencyConflict = errors.New("concurrency conflict: expected version does not match current version")
	// ErrInvalidVersion возникает при некорректной ожидаемой версии
	ErrInvalidVersion = errors.New("invalid event version")
)

// AnyVersion отключает проверку версии при добавлении событий
const AnyVersion int64 = -1

// StoredEvent сохраненное событие.
// EventData содержит сериализованные данные варианта, конверт хранится в полях.
type StoredEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	SchemaVersion int
	EventData     []byte
	Metadata      map[string]string
	Version       int64
	Position      int64
	OccurredAt    time.Time
	CreatedAt     time.Time
}

// EventStore интерфейс для хранения событий.
// Журнал только дописывается: операций обновления и удаления нет.
type EventStore interface {
	// AppendEvents добавляет события в поток агрегата с проверкой версии для оптимистичной конкурентности.
	// Версии событий назначаются хранилищем: текущая версия + 1, + 2, ...
	AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, events []StoredEvent) error
	// GetEvents возвращает события агрегата начиная с fromVersion в порядке версий.
	// Для неизвестного агрегата возвращает пустой срез.
	GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error)
	// GetAllEvents возвращает до limit событий с глобальной позицией больше fromPosition
	GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error)
}

func checkExpectedVersion(expected, current int64) error {
	if expected == AnyVersion || expected == current {
		return nil
	}
	if expected < AnyVersion {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, expected)
	}
	return fmt.Errorf("%w: expected %d, got %d", ErrConcurrencyConflict, expected, current)
}
