package application

import (
	"context"
	"log/slog"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/transport"
	"github.com/akriventsev/orderflow/infrastructure/codec"
)

// ProjectionConsumer читает события из шины и передает их ProjectionEngine
type ProjectionConsumer struct {
	bus     transport.BatchSubscriber
	codec   *codec.Codec
	engine  *ProjectionEngine
	subject string
	opts    transport.BatchOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProjectionConsumer создает потребителя проекции
func NewProjectionConsumer(bus transport.BatchSubscriber, c *codec.Codec, engine *ProjectionEngine, subject string, opts transport.BatchOptions, m *metrics.Metrics, logger *slog.Logger) *ProjectionConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectionConsumer{
		bus:     bus,
		codec:   c,
		engine:  engine,
		subject: subject,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "projection-consumer", "subject", subject),
	}
}

// Name имя компонента
func (c *ProjectionConsumer) Name() string { return "projection-consumer" }

// Type тип компонента
func (c *ProjectionConsumer) Type() core.ComponentType { return core.ComponentTypeProjection }

// Run блокирует до отмены ctx
func (c *ProjectionConsumer) Run(ctx context.Context) error {
	c.logger.Info("projection consumer started")
	defer c.logger.Info("projection consumer stopped")
	return c.bus.SubscribeBatch(ctx, c.subject, c.opts, c.HandleMessages)
}

// HandleMessages декодирует и проецирует пачку.
// Нераспознанные сообщения пропускаются: повторная доставка их не исправит.
func (c *ProjectionConsumer) HandleMessages(ctx context.Context, msgs []*transport.Message) error {
	var result BatchResult
	for _, msg := range msgs {
		e, err := c.codec.Decode(msg.Data)
		if err != nil {
			result.add(OutcomeFailed)
			c.metrics.RecordProjection(ctx, msg.Headers[transport.HeaderEventType], string(OutcomeFailed))
			c.logger.Error("skipping undecodable message",
				"event_id", msg.Headers[transport.HeaderEventID],
				"key", msg.Key,
				"code", core.CodeOf(err),
				"error", err,
			)
			continue
		}
		result.add(c.engine.traced(ctx, e, msg.Headers))
	}

	c.metrics.RecordBatch(ctx, len(msgs))
	c.logger.Debug("batch projected",
		"applied", result.Applied,
		"duplicates", result.Duplicates,
		"stale", result.Stale,
		"failed", result.Failed,
	)
	return nil
}
