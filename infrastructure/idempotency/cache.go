// Package idempotency хранит идентификаторы событий, уже отраженных в модели чтения.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// ProcessedValue значение отметки обработки
const ProcessedValue = "processed"

// DefaultKeyPrefix префикс ключей отметок
const DefaultKeyPrefix = "processed:event:"

// Cache кэш идемпотентности по eventId.
// Отсутствие отметки означает, что событие еще не применено ни к одному представлению.
type Cache interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// InMemoryCache реализация Cache в памяти с необязательным сроком жизни отметок
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryCache создает кэш; ttl <= 0 означает бессрочные отметки
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *InMemoryCache) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	c.mu.RLock()
	markedAt, ok := c.entries[eventID]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if c.ttl > 0 && c.now().Sub(markedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, eventID)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryCache) MarkProcessed(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[eventID] = c.now()
	return nil
}

// Len возвращает количество отметок
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
