// Package messagebus предоставляет адаптеры брокеров сообщений с доставкой at-least-once.
package messagebus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/transport"
)

// KafkaConfig конфигурация Kafka адаптера
type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	Compression  string // none, gzip, snappy, lz4, zstd
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int // 0, 1, -1 (all)
	MaxAttempts  int
	MinBytes     int
	MaxBytes     int
	StartOffset  int64 // kafka.FirstOffset или kafka.LastOffset
	RetryBackoff time.Duration
}

// Validate проверяет список брокеров и группу
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	for i, broker := range c.Brokers {
		if _, _, ok := strings.Cut(broker, ":"); !ok {
			return fmt.Errorf("kafka: broker[%d] %q is not host:port", i, broker)
		}
	}
	if c.GroupID == "" {
		return fmt.Errorf("kafka: consumer group is required")
	}
	return nil
}

func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		GroupID:      "order-service-group",
		Compression:  "snappy",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1,
		MaxAttempts:  3,
		MinBytes:     1,
		MaxBytes:     10e6,
		StartOffset:  kafka.FirstOffset,
		RetryBackoff: time.Second,
	}
}

var kafkaCompression = map[string]kafka.Compression{
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// KafkaAdapter шина поверх Kafka.
// Ключ сообщения хешируется в партицию, поэтому события одного заказа идут по порядку.
type KafkaAdapter struct {
	config  KafkaConfig
	writer  *kafka.Writer
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	readers map[*kafka.Reader]struct{}
	running bool
}

func NewKafkaAdapter(config KafkaConfig, m *metrics.Metrics, logger *slog.Logger) (*KafkaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "kafka adapter")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaAdapter{
		config:  config,
		metrics: m,
		logger:  logger.With("component", "kafka-adapter"),
		readers: make(map[*kafka.Reader]struct{}),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
			MaxAttempts:  config.MaxAttempts,
			BatchSize:    config.BatchSize,
			BatchTimeout: config.BatchTimeout,
			Compression:  kafkaCompression[config.Compression],
		},
	}, nil
}

func (k *KafkaAdapter) Start(context.Context) error {
	k.mu.Lock()
	k.running = true
	k.mu.Unlock()
	return nil
}

// Stop закрывает читателей подписок и writer
func (k *KafkaAdapter) Stop(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return nil
	}
	k.running = false
	for reader := range k.readers {
		_ = reader.Close()
	}
	clear(k.readers)
	return k.writer.Close()
}

func (k *KafkaAdapter) IsRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

func (k *KafkaAdapter) Name() string { return "kafka-adapter" }

func (k *KafkaAdapter) Type() core.ComponentType { return core.ComponentTypeAdapter }

// Publish пишет сообщение в топик msg.Subject с ключом msg.Key
func (k *KafkaAdapter) Publish(ctx context.Context, msg *transport.Message) error {
	start := time.Now()
	err := k.writer.WriteMessages(ctx, toKafkaMessage(msg))
	k.metrics.RecordTransport(ctx, "kafka", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", msg.Subject, err)
	}
	return nil
}

func toKafkaMessage(msg *transport.Message) kafka.Message {
	km := kafka.Message{Topic: msg.Subject, Key: []byte(msg.Key), Value: msg.Data}
	for name, value := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: name, Value: []byte(value)})
	}
	return km
}

func fromKafkaMessage(km kafka.Message) *transport.Message {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &transport.Message{Subject: km.Topic, Key: string(km.Key), Data: km.Value, Headers: headers}
}

// SubscribeBatch читает топик в составе consumer group до отмены ctx.
// Offsets фиксируются только после успешной обработки пачки. Reader группы
// не возвращает незафиксированные сообщения до ребалансировки, поэтому
// упавшая пачка повторяется здесь же с паузой RetryBackoff.
func (k *KafkaAdapter) SubscribeBatch(ctx context.Context, subject string, opts transport.BatchOptions, handler transport.BatchHandler) error {
	if opts.MaxMessages <= 0 {
		opts = transport.DefaultBatchOptions()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       subject,
		GroupID:     k.config.GroupID,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     opts.MaxWait,
		StartOffset: k.config.StartOffset,
	})
	k.track(reader, true)
	defer func() {
		k.track(reader, false)
		_ = reader.Close()
	}()

	log := k.logger.With("topic", subject)
	for ctx.Err() == nil {
		batch, err := k.fetchBatch(ctx, reader, opts)
		if err != nil {
			if !k.IsRunning() {
				return nil
			}
			if ctx.Err() == nil {
				log.Error("fetch failed", "error", err)
				backoff(ctx, k.config.RetryBackoff)
			}
			continue
		}

		msgs := make([]*transport.Message, len(batch))
		for i, km := range batch {
			msgs[i] = fromKafkaMessage(km)
		}

		for attempt := 1; ctx.Err() == nil; attempt++ {
			err := handler(ctx, msgs)
			if err == nil {
				if err := reader.CommitMessages(ctx, batch...); err != nil && ctx.Err() == nil {
					log.Error("commit failed", "error", err)
				}
				break
			}
			log.Warn("batch handler failed, retrying", "size", len(msgs), "attempt", attempt, "error", err)
			backoff(ctx, k.config.RetryBackoff)
		}
	}
	return nil
}

func (k *KafkaAdapter) track(reader *kafka.Reader, add bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if add {
		k.readers[reader] = struct{}{}
	} else {
		delete(k.readers, reader)
	}
}

// backoff ждет d или отмены ctx
func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// fetchBatch ждет первое сообщение, затем добирает пачку в пределах MaxWait
func (k *KafkaAdapter) fetchBatch(ctx context.Context, reader *kafka.Reader, opts transport.BatchOptions) ([]kafka.Message, error) {
	first, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, opts.MaxWait)
	defer cancel()
	for len(batch) < opts.MaxMessages {
		msg, err := reader.FetchMessage(waitCtx)
		if err != nil {
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}
