package eventsourcing

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// InMemoryEventStoreConfig конфигурация для InMemory Event Store
type InMemoryEventStoreConfig struct {
	MaxEventsPerStream int64
}

// DefaultInMemoryEventStoreConfig возвращает конфигурацию по умолчанию
func DefaultInMemoryEventStoreConfig() InMemoryEventStoreConfig {
	return InMemoryEventStoreConfig{
		MaxEventsPerStream: 10000,
	}
}

// InMemoryEventStore реализация EventStore в памяти для тестирования и разработки
type InMemoryEventStore struct {
	mu        sync.RWMutex
	streams   map[string][]StoredEvent
	allEvents []StoredEvent
	position  int64
	config    InMemoryEventStoreConfig
	now       func() time.Time
}

// NewInMemoryEventStore создает новый InMemory Event Store
func NewInMemoryEventStore(config InMemoryEventStoreConfig) *InMemoryEventStore {
	return &InMemoryEventStore{
		streams: make(map[string][]StoredEvent),
		config:  config,
		now:     time.Now,
	}
}

// AppendEvents добавляет события в поток агрегата
func (s *InMemoryEventStore) AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, events []StoredEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	currentVersion := int64(0)
	if len(stream) > 0 {
		currentVersion = stream[len(stream)-1].Version
	}

	if err := checkExpectedVersion(expectedVersion, currentVersion); err != nil {
		return err
	}

	if s.config.MaxEventsPerStream > 0 {
		newEventCount := int64(len(stream)) + int64(len(events))
		if newEventCount > s.config.MaxEventsPerStream {
			return fmt.Errorf("max events per stream exceeded: %d (limit: %d)", newEventCount, s.config.MaxEventsPerStream)
		}
	}

	createdAt := s.now()
	for i, event := range events {
		s.position++
		event.AggregateID = aggregateID
		event.Version = currentVersion + int64(i) + 1
		event.Position = s.position
		event.CreatedAt = createdAt
		event.EventData = append([]byte(nil), event.EventData...)
		event.Metadata = maps.Clone(event.Metadata)

		stream = append(stream, event)
		s.allEvents = append(s.allEvents, event)
	}
	s.streams[aggregateID] = stream

	return nil
}

// GetEvents возвращает события агрегата. Версии в потоке идут подряд с 1.
func (s *InMemoryEventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return window(s.streams[aggregateID], max(fromVersion-1, 0), 0), nil
}

// GetAllEvents возвращает события всех агрегатов после fromPosition.
// Позиции идут подряд с 1, поэтому событие с позицией p лежит в allEvents[p-1].
func (s *InMemoryEventStore) GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return window(s.allEvents, max(fromPosition, 0), limit), nil
}

// window копирует events[from:from+limit], limit <= 0 означает до конца
func window(events []StoredEvent, from int64, limit int) []StoredEvent {
	if from >= int64(len(events)) {
		return []StoredEvent{}
	}
	tail := events[from:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return append([]StoredEvent(nil), tail...)
}

// Len возвращает количество событий агрегата
func (s *InMemoryEventStore) Len(aggregateID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[aggregateID])
}
