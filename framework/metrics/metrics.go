// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName имя meter сервиса
const MeterName = "orderflow"

// Исходы обработки события проекцией
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
)

// Metrics сборщик метрик приложения
type Metrics struct {
	commandsTotal     metric.Int64Counter
	commandDuration   metric.Float64Histogram
	queriesTotal      metric.Int64Counter
	queryDuration     metric.Float64Histogram
	eventsAppended    metric.Int64Counter
	transportTotal    metric.Int64Counter
	transportDuration metric.Float64Histogram
	publishFailures   metric.Int64Counter
	projectionEvents  metric.Int64Counter
	projectionBatches metric.Float64Histogram
	relayEvents       metric.Int64Counter
	errorsTotal       metric.Int64Counter
}

// NewMetrics создает сборщик метрик на глобальном MeterProvider
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider создает сборщик метрик на указанном MeterProvider
func NewMetricsWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(MeterName)
	m := &Metrics{}

	var err error
	if m.commandsTotal, err = meter.Int64Counter("commands_total",
		metric.WithDescription("Total number of commands processed")); err != nil {
		return nil, err
	}
	if m.commandDuration, err = meter.Float64Histogram("command_duration_seconds",
		metric.WithDescription("Command processing duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.queriesTotal, err = meter.Int64Counter("queries_total",
		metric.WithDescription("Total number of queries processed")); err != nil {
		return nil, err
	}
	if m.queryDuration, err = meter.Float64Histogram("query_duration_seconds",
		metric.WithDescription("Query processing duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.eventsAppended, err = meter.Int64Counter("events_appended_total",
		metric.WithDescription("Total number of events appended to the event log")); err != nil {
		return nil, err
	}
	if m.transportTotal, err = meter.Int64Counter("transport_messages_total",
		metric.WithDescription("Total number of messages handed to the broker")); err != nil {
		return nil, err
	}
	if m.transportDuration, err = meter.Float64Histogram("transport_duration_seconds",
		metric.WithDescription("Broker publish duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.publishFailures, err = meter.Int64Counter("publish_failures_total",
		metric.WithDescription("Events persisted but not delivered to the broker")); err != nil {
		return nil, err
	}
	if m.projectionEvents, err = meter.Int64Counter("projection_events_total",
		metric.WithDescription("Delivered events by projection outcome")); err != nil {
		return nil, err
	}
	if m.projectionBatches, err = meter.Float64Histogram("projection_batch_size",
		metric.WithDescription("Number of events per delivered batch")); err != nil {
		return nil, err
	}
	if m.relayEvents, err = meter.Int64Counter("relay_events_total",
		metric.WithDescription("Events republished from the event log")); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter("errors_total",
		metric.WithDescription("Total number of errors")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCommand записывает метрику команды
func (m *Metrics) RecordCommand(ctx context.Context, commandName string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("command", commandName),
		attribute.Bool("success", success),
	)
	m.commandsTotal.Add(ctx, 1, attrs)
	m.commandDuration.Record(ctx, duration.Seconds(), attrs)

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "command"),
			attribute.String("command", commandName),
		))
	}
}

// RecordQuery записывает метрику запроса
func (m *Metrics) RecordQuery(ctx context.Context, queryName string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("query", queryName),
		attribute.Bool("success", success),
	)
	m.queriesTotal.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordEventAppended записывает событие, добавленное в журнал
func (m *Metrics) RecordEventAppended(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.eventsAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordTransport записывает метрику публикации в брокер
func (m *Metrics) RecordTransport(ctx context.Context, transportName string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("transport", transportName),
		attribute.Bool("success", success),
	)
	m.transportTotal.Add(ctx, 1, attrs)
	m.transportDuration.Record(ctx, duration.Seconds(), attrs)

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "transport"),
			attribute.String("transport", transportName),
		))
	}
}

// RecordPublishFailure записывает событие, которое не удалось передать в брокер
func (m *Metrics) RecordPublishFailure(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.publishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordProjection записывает исход обработки события проекцией
func (m *Metrics) RecordProjection(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.projectionEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", eventType),
		attribute.String("outcome", outcome),
	))
}

// RecordBatch записывает размер доставленной пачки
func (m *Metrics) RecordBatch(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.projectionBatches.Record(ctx, float64(size))
}

// RecordRelay записывает количество переотправленных событий
func (m *Metrics) RecordRelay(ctx context.Context, count int, success bool) {
	if m == nil {
		return
	}
	m.relayEvents.Add(ctx, int64(count), metric.WithAttributes(attribute.Bool("success", success)))
}
