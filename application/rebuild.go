package application

import (
	"context"

	"github.com/akriventsev/orderflow/framework/eventsourcing"
	"github.com/akriventsev/orderflow/infrastructure/eventlog"
)

// Rebuild проецирует журнал напрямую, минуя брокер.
// Уже обработанные события отсекаются кэшем и LastSequence, поэтому повторный
// запуск на заполненной модели чтения ничего не меняет.
func (p *ProjectionEngine) Rebuild(ctx context.Context, store eventsourcing.EventStore, decoder RecordDecoder, opts eventsourcing.ReplayOptions) (BatchResult, error) {
	var result BatchResult
	handler := eventsourcing.ReplayHandlerFunc(func(ctx context.Context, record eventsourcing.StoredEvent) error {
		if record.AggregateType != eventlog.AggregateType {
			return nil
		}
		e, err := decoder.FromRecord(record)
		if err != nil {
			p.logger.Error("skipping undecodable record", "position", record.Position, "event_id", record.ID, "error", err)
			result.add(OutcomeFailed)
			return nil
		}
		result.add(p.traced(ctx, e, nil))
		return nil
	})

	progress, err := eventsourcing.NewReplayer(store).ReplayAll(ctx, handler, 0, opts, func(pr eventsourcing.ReplayProgress) {
		p.logger.Info("rebuild progress", "position", pr.CurrentPosition, "events", pr.ProcessedEvents)
	})
	p.logger.Info("rebuild finished",
		"applied", result.Applied,
		"duplicates", result.Duplicates,
		"stale", result.Stale,
		"failed", result.Failed,
		"elapsed", progress.ElapsedTime,
	)
	return result, err
}
