package readmodel

import (
	"context"
	"sync"
)

// InMemoryStore реализация MarkingStore в памяти
type InMemoryStore struct {
	mu        sync.RWMutex
	views     map[string]OrderView
	processed map[string]struct{}
}

// NewInMemoryStore создает новое хранилище
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		views:     make(map[string]OrderView),
		processed: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) Get(ctx context.Context, orderID string) (OrderView, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[orderID]
	if !ok {
		return OrderView{}, false, nil
	}
	return v.Clone(), true, nil
}

func (s *InMemoryStore) Save(ctx context.Context, view OrderView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[view.OrderID] = view.Clone()
	return nil
}

func (s *InMemoryStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *InMemoryStore) SaveAndMark(ctx context.Context, view OrderView, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[view.OrderID] = view.Clone()
	s.processed[eventID] = struct{}{}
	return nil
}

// Len возвращает количество представлений
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}
