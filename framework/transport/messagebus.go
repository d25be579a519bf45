// Package transport предоставляет абстракции для работы с message bus.
package transport

import (
	"context"
	"time"
)

// Заголовки сообщений с событиями
const (
	HeaderEventID     = "event_id"
	HeaderEventType   = "event_type"
	HeaderAggregateID = "aggregate_id"
	HeaderOccurredAt  = "occurred_at"
)

// Message представляет сообщение в очереди.
// Key определяет партицию: сообщения с одним ключом доставляются по порядку.
type Message struct {
	Subject string
	Key     string
	Data    []byte
	Headers map[string]string
}

// BatchHandler обработчик пачки сообщений.
// Ошибка означает, что пачка не подтверждена и будет доставлена повторно.
type BatchHandler func(ctx context.Context, msgs []*Message) error

// BatchOptions параметры выборки пачки
type BatchOptions struct {
	MaxMessages int
	MaxWait     time.Duration
}

// DefaultBatchOptions возвращает параметры по умолчанию
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{MaxMessages: 100, MaxWait: time.Second}
}

// Publisher публикатор сообщений
type Publisher interface {
	// Publish публикует сообщение в subject с ключом партиционирования msg.Key
	Publish(ctx context.Context, msg *Message) error
}

// BatchSubscriber потребитель с доставкой at-least-once
type BatchSubscriber interface {
	// SubscribeBatch читает subject пачками до отмены ctx.
	// Блокирует вызывающую горутину.
	SubscribeBatch(ctx context.Context, subject string, opts BatchOptions, handler BatchHandler) error
}

// MessageBus объединяет возможности публикации и подписки
type MessageBus interface {
	Publisher
	BatchSubscriber
}
