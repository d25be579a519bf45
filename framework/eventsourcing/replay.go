package eventsourcing

import (
	"context"
	"fmt"
	"time"
)

// ReplayHandler обработчик событий при replay
type ReplayHandler interface {
	HandleEvent(ctx context.Context, event StoredEvent) error
}

// ReplayHandlerFunc адаптер функции к ReplayHandler
type ReplayHandlerFunc func(ctx context.Context, event StoredEvent) error

// HandleEvent вызывает f
func (f ReplayHandlerFunc) HandleEvent(ctx context.Context, event StoredEvent) error {
	return f(ctx, event)
}

// ReplayProgress содержит информацию о прогрессе replay
type ReplayProgress struct {
	ProcessedEvents int64
	FailedEvents    int64
	CurrentPosition int64
	StartTime       time.Time
	ElapsedTime     time.Duration
}

// ReplayOptions опции для replay операций
type ReplayOptions struct {
	BatchSize   int
	StopOnError bool
}

// DefaultReplayOptions возвращает опции по умолчанию
func DefaultReplayOptions() ReplayOptions {
	return ReplayOptions{
		BatchSize:   1000,
		StopOnError: true,
	}
}

// Replayer читает журнал постранично в глобальном порядке
type Replayer struct {
	store EventStore
}

// NewReplayer создает Replayer поверх журнала
func NewReplayer(store EventStore) *Replayer {
	return &Replayer{store: store}
}

// ReplayAll передает обработчику все события с позицией больше fromPosition.
// progress, если задан, вызывается после каждой страницы.
func (r *Replayer) ReplayAll(ctx context.Context, handler ReplayHandler, fromPosition int64, options ReplayOptions, progress func(ReplayProgress)) (ReplayProgress, error) {
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultReplayOptions().BatchSize
	}

	state := ReplayProgress{
		CurrentPosition: fromPosition,
		StartTime:       time.Now(),
	}

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		batch, err := r.store.GetAllEvents(ctx, state.CurrentPosition, options.BatchSize)
		if err != nil {
			return state, fmt.Errorf("failed to read events from position %d: %w", state.CurrentPosition, err)
		}

		for _, event := range batch {
			if err := handler.HandleEvent(ctx, event); err != nil {
				if options.StopOnError {
					state.ElapsedTime = time.Since(state.StartTime)
					return state, fmt.Errorf("replay stopped at position %d: %w", event.Position, err)
				}
				state.FailedEvents++
			}
			state.ProcessedEvents++
			state.CurrentPosition = event.Position
		}

		state.ElapsedTime = time.Since(state.StartTime)
		if progress != nil && len(batch) > 0 {
			progress(state)
		}
		if len(batch) < options.BatchSize {
			return state, nil
		}
	}
}
