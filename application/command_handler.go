// Package application содержит сценарии сервиса заказов: обработку команд,
// проекцию событий в модель чтения, запросы и повторную публикацию журнала.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/eventsourcing"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/observability"
)

// EventLog журнал событий заказов
type EventLog interface {
	Append(ctx context.Context, orderID string, expectedVersion int64, events []domain.Event) error
	Load(ctx context.Context, orderID string) ([]domain.Event, error)
}

// Publisher доставляет события подписчикам
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// CommandHandlerConfig настройки обработчика команд
type CommandHandlerConfig struct {
	// OptimisticConcurrency передает загруженную версию как ожидаемую при записи.
	// false означает запись без проверки: побеждает последний.
	OptimisticConcurrency bool
}

// DefaultCommandHandlerConfig возвращает настройки по умолчанию
func DefaultCommandHandlerConfig() CommandHandlerConfig {
	return CommandHandlerConfig{OptimisticConcurrency: true}
}

// CommandHandlerOption опция обработчика команд
type CommandHandlerOption func(*CommandHandler)

// WithEventFactory задает фабрику событий
func WithEventFactory(f domain.EventFactory) CommandHandlerOption {
	return func(h *CommandHandler) { h.factory = f }
}

// WithOrderIDGenerator задает генератор идентификаторов заказов
func WithOrderIDGenerator(newID func() string) CommandHandlerOption {
	return func(h *CommandHandler) { h.newID = newID }
}

// CommandHandler выполняет цикл Load -> Mutate -> Persist -> Publish
type CommandHandler struct {
	log       EventLog
	publisher Publisher
	config    CommandHandlerConfig
	factory   domain.EventFactory
	newID     func() string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCommandHandler создает обработчик команд
func NewCommandHandler(log EventLog, publisher Publisher, config CommandHandlerConfig, m *metrics.Metrics, logger *slog.Logger, opts ...CommandHandlerOption) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &CommandHandler{
		log:       log,
		publisher: publisher,
		config:    config,
		factory:   domain.DefaultEventFactory(),
		newID:     uuid.NewString,
		metrics:   m,
		logger:    logger.With("component", "command-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateOrder создает заказ и возвращает его идентификатор
func (h *CommandHandler) CreateOrder(ctx context.Context, customerID string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", domain.ErrCustomerRequired
	}

	orderID := h.newID()
	cmd := domain.CreateOrder{OrderID: orderID, CustomerID: customerID}
	if err := h.handle(ctx, orderID, cmd, false); err != nil {
		return "", err
	}
	return orderID, nil
}

// AddProduct добавляет позицию в заказ
func (h *CommandHandler) AddProduct(ctx context.Context, orderID string, product domain.Product) error {
	if strings.TrimSpace(orderID) == "" {
		return domain.ErrOrderIDRequired
	}
	if err := product.Validate(); err != nil {
		return err
	}
	return h.handle(ctx, orderID, domain.AddProduct{Product: product}, true)
}

// ConfirmOrder подтверждает заказ
func (h *CommandHandler) ConfirmOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return domain.ErrOrderIDRequired
	}
	return h.handle(ctx, orderID, domain.ConfirmOrder{}, true)
}

func (h *CommandHandler) handle(ctx context.Context, orderID string, cmd domain.Command, load bool) error {
	start := time.Now()
	err := observability.TraceCommand(ctx, cmd.Name(), orderID, func(ctx context.Context) error {
		return h.execute(ctx, orderID, cmd, load)
	})
	h.metrics.RecordCommand(ctx, cmd.Name(), time.Since(start), err == nil)

	if err != nil {
		h.logger.Warn("command rejected",
			"command", cmd.Name(),
			"order_id", orderID,
			"code", core.CodeOf(err),
			"error", err,
		)
	}
	return err
}

func (h *CommandHandler) execute(ctx context.Context, orderID string, cmd domain.Command, load bool) error {
	var state domain.State
	if load {
		history, err := h.log.Load(ctx, orderID)
		if err != nil {
			return err
		}
		state = domain.Replay(history)
	}

	_, events, err := domain.Execute(h.factory, state, cmd)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s for order %s aborted before persist: %w", cmd.Name(), orderID, err)
	}

	expected := eventsourcing.AnyVersion
	if h.config.OptimisticConcurrency {
		expected = state.Version
	}
	if err := h.log.Append(ctx, orderID, expected, events); err != nil {
		return err
	}
	for _, e := range events {
		h.metrics.RecordEventAppended(ctx, string(e.Type()))
	}

	h.publish(ctx, events)
	return nil
}

// publish не возвращает ошибку: события уже в журнале, relay доставит их позже
func (h *CommandHandler) publish(ctx context.Context, events []domain.Event) {
	if err := h.publisher.Publish(ctx, events); err != nil {
		for _, e := range events {
			h.metrics.RecordPublishFailure(ctx, string(e.Type()))
		}
		h.logger.Error("publish failed, events remain in the log",
			"order_id", events[0].OrderID,
			"events", len(events),
			"error", err,
		)
	}
}
