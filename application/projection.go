package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/observability"
	"github.com/akriventsev/orderflow/infrastructure/idempotency"
	"github.com/akriventsev/orderflow/infrastructure/readmodel"
)

// Outcome результат проекции одного события
type Outcome string

const (
	OutcomeApplied   Outcome = metrics.OutcomeApplied
	OutcomeDuplicate Outcome = metrics.OutcomeDuplicate
	OutcomeStale     Outcome = metrics.OutcomeStale
	OutcomeFailed    Outcome = metrics.OutcomeFailed
)

// ErrSequenceGap событие пришло раньше предыдущего события заказа.
// Такое событие не отмечается обработанным: его повторно доставит ретранслятор
// или перестроение вслед за пропущенным.
var ErrSequenceGap = errors.New("sequence gap")

// BatchResult итог обработки пачки
type BatchResult struct {
	Applied    int
	Duplicates int
	Stale      int
	Failed     int
}

func (r *BatchResult) add(o Outcome) {
	switch o {
	case OutcomeApplied:
		r.Applied++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeStale:
		r.Stale++
	default:
		r.Failed++
	}
}

// Total число обработанных событий
func (r BatchResult) Total() int {
	return r.Applied + r.Duplicates + r.Stale + r.Failed
}

// ProjectionConfig настройки проекции
type ProjectionConfig struct {
	// SequenceGuard применяет только событие с Sequence == LastSequence+1.
	// Меньший номер считается устаревшим, больший означает пропуск.
	SequenceGuard bool
	// AtomicMarking сохраняет представление и отметку об обработке одной записью,
	// если хранилище реализует readmodel.MarkingStore
	AtomicMarking bool
}

// DefaultProjectionConfig возвращает настройки по умолчанию
func DefaultProjectionConfig() ProjectionConfig {
	return ProjectionConfig{SequenceGuard: true}
}

// ProjectionEngine сворачивает события заказов в OrderView
type ProjectionEngine struct {
	views   readmodel.Store
	marker  readmodel.MarkingStore
	cache   idempotency.Cache
	config  ProjectionConfig
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProjectionEngine создает движок проекции.
// При AtomicMarking и хранилище с поддержкой MarkingStore кэш не используется.
func NewProjectionEngine(views readmodel.Store, cache idempotency.Cache, config ProjectionConfig, m *metrics.Metrics, logger *slog.Logger) *ProjectionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	p := &ProjectionEngine{
		views:   views,
		cache:   cache,
		config:  config,
		now:     func() time.Time { return time.Now().UTC() },
		metrics: m,
		logger:  logger.With("component", "projection"),
	}
	if config.AtomicMarking {
		if ms, ok := views.(readmodel.MarkingStore); ok {
			p.marker = ms
		} else {
			p.logger.Warn("read model does not support atomic marking, falling back to idempotency cache")
		}
	}
	return p
}

// HandleBatch применяет события по порядку.
// Ошибка отдельного события логируется и не прерывает пачку.
func (p *ProjectionEngine) HandleBatch(ctx context.Context, events []domain.Event) BatchResult {
	var result BatchResult
	for _, e := range events {
		result.add(p.traced(ctx, e, nil))
	}
	p.metrics.RecordBatch(ctx, len(events))
	return result
}

func (p *ProjectionEngine) traced(ctx context.Context, e domain.Event, headers map[string]string) Outcome {
	var outcome Outcome
	_ = observability.TraceEvent(ctx, string(e.Type()), headers, func(ctx context.Context) error {
		var err error
		outcome, err = p.Project(ctx, e)
		return err
	})
	return outcome
}

// Project применяет одно событие и возвращает исход
func (p *ProjectionEngine) Project(ctx context.Context, e domain.Event) (Outcome, error) {
	outcome, err := p.project(ctx, e)
	p.metrics.RecordProjection(ctx, string(e.Type()), string(outcome))

	log := p.logger.With("event_id", e.ID, "event_type", string(e.Type()), "order_id", e.OrderID)
	switch {
	case errors.Is(err, ErrSequenceGap):
		log.Warn("event ahead of view, left for redelivery", "sequence", e.Sequence, "error", err)
	case outcome == OutcomeFailed:
		log.Error("projection failed", "error", err)
	case outcome == OutcomeApplied:
		log.Debug("event projected", "sequence", e.Sequence)
	default:
		log.Debug("event skipped", "outcome", string(outcome), "sequence", e.Sequence)
	}
	return outcome, err
}

func (p *ProjectionEngine) project(ctx context.Context, e domain.Event) (Outcome, error) {
	processed, err := p.isProcessed(ctx, e.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check processed: %w", err)
	}
	if processed {
		return OutcomeDuplicate, nil
	}

	view, found, err := p.views.Get(ctx, e.OrderID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load view: %w", err)
	}
	if !found {
		view = readmodel.NewOrderView(e.OrderID)
	}

	if p.config.SequenceGuard && e.Sequence > 0 {
		switch expected := view.LastSequence + 1; {
		case e.Sequence < expected:
			if err := p.markProcessed(ctx, e.ID); err != nil {
				return OutcomeFailed, fmt.Errorf("mark stale event: %w", err)
			}
			return OutcomeStale, nil
		case e.Sequence > expected:
			return OutcomeFailed, fmt.Errorf("%w: order %s expects sequence %d, got %d", ErrSequenceGap, e.OrderID, expected, e.Sequence)
		}
	}

	next := FoldView(view, e)
	next.UpdatedAt = p.now()

	if p.marker != nil {
		if err := p.marker.SaveAndMark(ctx, next, e.ID); err != nil {
			return OutcomeFailed, fmt.Errorf("save view: %w", err)
		}
		return OutcomeApplied, nil
	}

	if err := p.views.Save(ctx, next); err != nil {
		return OutcomeFailed, fmt.Errorf("save view: %w", err)
	}
	if err := p.cache.MarkProcessed(ctx, e.ID); err != nil {
		return OutcomeFailed, fmt.Errorf("mark processed: %w", err)
	}
	return OutcomeApplied, nil
}

func (p *ProjectionEngine) isProcessed(ctx context.Context, eventID string) (bool, error) {
	if p.marker != nil {
		return p.marker.IsProcessed(ctx, eventID)
	}
	return p.cache.IsProcessed(ctx, eventID)
}

func (p *ProjectionEngine) markProcessed(ctx context.Context, eventID string) error {
	if p.marker != nil {
		// повторная доставка отсекается по LastSequence
		return nil
	}
	return p.cache.MarkProcessed(ctx, eventID)
}

// FoldView применяет событие к представлению.
// Неизвестный вариант события считается ошибкой программирования.
func FoldView(view readmodel.OrderView, e domain.Event) readmodel.OrderView {
	next := view.Clone()
	switch p := e.Payload.(type) {
	case domain.OrderCreated:
		next.OrderID = e.OrderID
		next.CustomerID = p.CustomerID
		next.Products = []domain.Product{}
		next.Confirmed = false
	case domain.ItemAdded:
		next.Products = append(next.Products, p.Product)
	case domain.OrderConfirmed:
		next.Confirmed = true
	default:
		panic(fmt.Sprintf("projection: unhandled event payload %T", e.Payload))
	}
	if e.Sequence > next.LastSequence {
		next.LastSequence = e.Sequence
	}
	return next
}
