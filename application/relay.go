package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/eventsourcing"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/infrastructure/eventlog"
)

// RecordDecoder восстанавливает доменное событие из записи журнала
type RecordDecoder interface {
	FromRecord(record eventsourcing.StoredEvent) (domain.Event, error)
}

// RelayConfig настройки ретранслятора
type RelayConfig struct {
	Name      string
	BatchSize int
	Interval  time.Duration
}

// DefaultRelayConfig возвращает настройки по умолчанию
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Name:      "relay",
		BatchSize: 500,
		Interval:  5 * time.Second,
	}
}

// RelayStatus состояние ретранслятора
type RelayStatus struct {
	Name          string
	State         string
	LastPosition  int64
	EventsRelayed int64
	Skipped       int64
	ErrorCount    int64
	LastRunAt     time.Time
}

// Relay повторно публикует журнал событий начиная с сохраненной позиции.
// Дубликаты поглощаются идемпотентной проекцией.
type Relay struct {
	store       eventsourcing.EventStore
	checkpoints eventsourcing.CheckpointStore
	decoder     RecordDecoder
	publisher   Publisher
	config      RelayConfig
	status      RelayStatus
	mu          sync.RWMutex
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewRelay создает ретранслятор
func NewRelay(store eventsourcing.EventStore, checkpoints eventsourcing.CheckpointStore, decoder RecordDecoder, publisher Publisher, config RelayConfig, m *metrics.Metrics, logger *slog.Logger) *Relay {
	defaults := DefaultRelayConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:       store,
		checkpoints: checkpoints,
		decoder:     decoder,
		publisher:   publisher,
		config:      config,
		status:      RelayStatus{Name: config.Name, State: "stopped"},
		metrics:     m,
		logger:      logger.With("component", "relay", "relay", config.Name),
	}
}

// RunOnce публикует одну пачку и возвращает число опубликованных событий.
// Позиция сохраняется после последнего успешно опубликованного события.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	position, err := r.checkpoints.Position(ctx, r.config.Name)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	records, err := r.store.GetAllEvents(ctx, position, r.config.BatchSize)
	if err != nil {
		r.fail()
		return 0, fmt.Errorf("read log from position %d: %w", position, err)
	}
	if len(records) == 0 {
		r.update(position, 0, 0)
		return 0, nil
	}

	published, skipped := 0, 0
	last := position
	for _, record := range records {
		if record.AggregateType != eventlog.AggregateType {
			skipped++
			last = record.Position
			continue
		}

		e, err := r.decoder.FromRecord(record)
		if err != nil {
			// запись никогда не декодируется, повтор не поможет
			r.logger.Error("skipping undecodable record", "position", record.Position, "event_id", record.ID, "error", err)
			skipped++
			last = record.Position
			continue
		}

		if err := r.publisher.Publish(ctx, []domain.Event{e}); err != nil {
			r.metrics.RecordRelay(ctx, published, false)
			r.fail()
			if saveErr := r.save(ctx, position, last); saveErr != nil {
				r.logger.Warn("save checkpoint failed", "position", last, "error", saveErr)
			}
			r.update(last, published, skipped)
			return published, fmt.Errorf("relay event %s at position %d: %w", e.ID, record.Position, err)
		}
		published++
		last = record.Position
	}

	if err := r.save(ctx, position, last); err != nil {
		r.fail()
		return published, fmt.Errorf("save checkpoint: %w", err)
	}
	r.metrics.RecordRelay(ctx, published, true)
	r.update(last, published, skipped)
	return published, nil
}

// Name имя ретранслятора, он же ключ позиции в CheckpointStore
func (r *Relay) Name() string { return r.config.Name }

// Type тип компонента
func (r *Relay) Type() core.ComponentType { return core.ComponentTypeWorker }

// Run публикует журнал с интервалом до отмены ctx.
// Полная пачка запускает следующую итерацию без ожидания.
func (r *Relay) Run(ctx context.Context) error {
	r.setState("running")
	defer r.setState("stopped")
	r.logger.Info("relay started", "interval", r.config.Interval, "batch_size", r.config.BatchSize)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("relay iteration failed", "error", err)
		}
		if err == nil && n >= r.config.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Reset сбрасывает позицию: следующий запуск опубликует журнал с начала
func (r *Relay) Reset(ctx context.Context) error {
	if err := r.checkpoints.Reset(ctx, r.config.Name); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	r.mu.Lock()
	r.status.LastPosition = 0
	r.mu.Unlock()
	return nil
}

// Status возвращает копию состояния
func (r *Relay) Status() RelayStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Relay) save(ctx context.Context, from, to int64) error {
	if to == from {
		return nil
	}
	return r.checkpoints.Advance(ctx, r.config.Name, to)
}

func (r *Relay) update(position int64, published, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.LastPosition = position
	r.status.EventsRelayed += int64(published)
	r.status.Skipped += int64(skipped)
	r.status.LastRunAt = time.Now().UTC()
}

func (r *Relay) fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.ErrorCount++
}

func (r *Relay) setState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = state
}
