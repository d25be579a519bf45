// Package metrics предоставляет функции для настройки системы метрик.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// MetricsConfig конфигурация метрик. Поддерживается только экспорт в Prometheus.
type MetricsConfig struct {
	ExporterType   string
	ServiceName    string
	ServiceVersion string
	Environment    string
	// RuntimeMetrics добавляет go_* и process_* коллекторы в реестр
	RuntimeMetrics bool
}

// Setup провайдер метрик и обработчик /metrics над собственным реестром
type Setup struct {
	Provider *metric.MeterProvider
	Handler  http.Handler
}

// SetupMetrics настраивает экспорт метрик и регистрирует глобальный MeterProvider
func SetupMetrics(config *MetricsConfig) (*Setup, error) {
	if config == nil {
		config = &MetricsConfig{ExporterType: "prometheus"}
	}
	if config.ExporterType != "prometheus" {
		return nil, fmt.Errorf("metrics exporter %q is not supported", config.ExporterType)
	}

	registry := prometheus.NewRegistry()
	if config.RuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(serviceAttributes(config)...))
	if err != nil {
		return nil, fmt.Errorf("metrics resource: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	otel.SetMeterProvider(provider)

	return &Setup{
		Provider: provider,
		Handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}, nil
}

func serviceAttributes(config *MetricsConfig) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if config.ServiceName != "" {
		attrs = append(attrs, semconv.ServiceNameKey.String(config.ServiceName))
	}
	if config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(config.Environment))
	}
	return attrs
}

// Shutdown сбрасывает и останавливает провайдер
func (s *Setup) Shutdown(ctx context.Context) error {
	if s == nil || s.Provider == nil {
		return nil
	}
	return s.Provider.Shutdown(ctx)
}
