package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/transport"
)

// RedisConfig конфигурация для Redis Streams адаптера
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	MaxRetries    int
	StreamMaxLen  int64 // Максимальная длина stream (0 = без ограничений)
	StreamPrefix  string
	ConsumerGroup string
	ConsumerName  string
	BlockTimeout  time.Duration
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("consumer group cannot be empty")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer name cannot be empty")
	}
	return nil
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MaxRetries:    3,
		StreamMaxLen:  100000,
		StreamPrefix:  "stream",
		ConsumerGroup: "order-projection",
		ConsumerName:  "order-projection-1",
		BlockTimeout:  time.Second,
	}
}

// RedisAdapter реализация MessageBus через Redis Streams и consumer groups.
// Неподтвержденные записи остаются в pending list и перечитываются тем же consumer.
type RedisAdapter struct {
	config  RedisConfig
	client  redis.UniversalClient
	mu      sync.RWMutex
	running bool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRedisAdapter создает адаптер поверх готового клиента
func NewRedisAdapter(config RedisConfig, client redis.UniversalClient, m *metrics.Metrics, logger *slog.Logger) (*RedisAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAdapter{
		config:  config,
		client:  client,
		metrics: m,
		logger:  logger.With("component", "redis-adapter"),
	}, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle).
// Клиент принадлежит вызывающей стороне и здесь не закрывается.
func (r *RedisAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RedisAdapter) Name() string {
	return "redis-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RedisAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish добавляет запись в stream через XADD
func (r *RedisAdapter) Publish(ctx context.Context, msg *transport.Message) error {
	start := time.Now()
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.streamName(msg.Subject),
		Values: map[string]interface{}{
			"key":     msg.Key,
			"data":    msg.Data,
			"headers": string(headers),
		},
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}

	err = r.client.XAdd(ctx, args).Err()
	r.metrics.RecordTransport(ctx, "redis", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// SubscribeBatch читает stream через XREADGROUP.
// Сначала перечитывается собственный pending list, затем новые записи.
func (r *RedisAdapter) SubscribeBatch(ctx context.Context, subject string, opts transport.BatchOptions, handler transport.BatchHandler) error {
	if opts.MaxMessages <= 0 {
		opts = transport.DefaultBatchOptions()
	}
	stream := r.streamName(subject)

	err := r.client.XGroupCreateMkStream(ctx, stream, r.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	pending := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		id := ">"
		block := r.config.BlockTimeout
		if pending {
			id = "0"
			block = -1
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.config.ConsumerGroup,
			Consumer: r.config.ConsumerName,
			Streams:  []string{stream, id},
			Count:    int64(opts.MaxMessages),
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("xreadgroup failed", "stream", stream, "error", err)
			backoff(ctx, time.Second)
			continue
		}

		var entries []redis.XMessage
		for _, s := range streams {
			entries = append(entries, s.Messages...)
		}
		if len(entries) == 0 {
			pending = false
			continue
		}

		msgs := make([]*transport.Message, 0, len(entries))
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
			// запись удалена из stream по MAXLEN
			if e.Values == nil {
				continue
			}
			msgs = append(msgs, fromStreamEntry(subject, e))
		}

		if err := handler(ctx, msgs); err != nil {
			r.logger.Error("batch handler failed", "stream", stream, "size", len(msgs), "error", err)
			pending = true
			backoff(ctx, time.Second)
			continue
		}

		if err := r.client.XAck(ctx, stream, r.config.ConsumerGroup, ids...).Err(); err != nil {
			r.logger.Warn("xack failed", "stream", stream, "error", err)
		}
	}
}

func (r *RedisAdapter) streamName(subject string) string {
	return fmt.Sprintf("%s:%s", r.config.StreamPrefix, subject)
}

func fromStreamEntry(subject string, e redis.XMessage) *transport.Message {
	msg := &transport.Message{
		Subject: subject,
		Headers: make(map[string]string),
	}
	if key, ok := e.Values["key"].(string); ok {
		msg.Key = key
	}
	if data, ok := e.Values["data"].(string); ok {
		msg.Data = []byte(data)
	}
	if headers, ok := e.Values["headers"].(string); ok {
		_ = json.Unmarshal([]byte(headers), &msg.Headers)
	}
	return msg
}
