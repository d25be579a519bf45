// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"sync"
	"time"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/transport"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	// PollInterval пауза между выборками при пустой очереди
	PollInterval time.Duration
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		PollInterval: 10 * time.Millisecond,
	}
}

// InMemoryAdapter реализация MessageBus в памяти.
// Каждый subject хранит FIFO очередь; сообщение удаляется только после
// успешной обработки пачки, поэтому ошибка обработчика приводит к повторной доставке.
type InMemoryAdapter struct {
	config  InMemoryConfig
	queues  map[string][]*transport.Message
	mu      sync.Mutex
	running bool
	notify  chan struct{}
}

// NewInMemoryAdapter создает новый InMemory адаптер
func NewInMemoryAdapter(config InMemoryConfig) *InMemoryAdapter {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultInMemoryConfig().PollInterval
	}
	return &InMemoryAdapter{
		config: config,
		queues: make(map[string][]*transport.Message),
		notify: make(chan struct{}, 1),
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) IsRunning() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// Name возвращает имя компонента (реализация core.Component)
func (i *InMemoryAdapter) Name() string {
	return "inmemory-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (i *InMemoryAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish ставит копию сообщения в очередь subject
func (i *InMemoryAdapter) Publish(ctx context.Context, msg *transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	i.queues[msg.Subject] = append(i.queues[msg.Subject], cloneMessage(msg))
	i.mu.Unlock()

	select {
	case i.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pending возвращает число неподтвержденных сообщений в subject
func (i *InMemoryAdapter) Pending(subject string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queues[subject])
}

// Poll синхронно обрабатывает одну пачку из головы очереди.
// Возвращает число подтвержденных сообщений; при ошибке обработчика очередь не меняется.
func (i *InMemoryAdapter) Poll(ctx context.Context, subject string, max int, handler transport.BatchHandler) (int, error) {
	i.mu.Lock()
	queue := i.queues[subject]
	n := len(queue)
	if max > 0 && n > max {
		n = max
	}
	batch := make([]*transport.Message, n)
	for j := 0; j < n; j++ {
		batch[j] = cloneMessage(queue[j])
	}
	i.mu.Unlock()

	if n == 0 {
		return 0, nil
	}
	if err := handler(ctx, batch); err != nil {
		return 0, err
	}

	// Publish только дописывает в хвост, поэтому голова очереди не сдвинулась
	i.mu.Lock()
	i.queues[subject] = i.queues[subject][n:]
	i.mu.Unlock()
	return n, nil
}

// SubscribeBatch обрабатывает subject до отмены ctx
func (i *InMemoryAdapter) SubscribeBatch(ctx context.Context, subject string, opts transport.BatchOptions, handler transport.BatchHandler) error {
	if opts.MaxMessages <= 0 {
		opts = transport.DefaultBatchOptions()
	}
	ticker := time.NewTicker(i.config.PollInterval)
	defer ticker.Stop()

	for {
		n, err := i.Poll(ctx, subject, opts.MaxMessages, handler)
		if err == nil && n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-i.notify:
		case <-ticker.C:
		}
	}
}

func cloneMessage(msg *transport.Message) *transport.Message {
	c := &transport.Message{
		Subject: msg.Subject,
		Key:     msg.Key,
		Data:    append([]byte(nil), msg.Data...),
		Headers: make(map[string]string, len(msg.Headers)),
	}
	for k, v := range msg.Headers {
		c.Headers[k] = v
	}
	return c
}
