// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/akriventsev/orderflow/framework/core"
)

const (
	correlationIDKey      = "X-Correlation-ID"
	correlationBaggageKey = "correlation_id"
	messageCorrelationKey = "correlation_id"
	tracerName            = "orderflow"
)

// TracingConfig конфигурация для distributed tracing
type TracingConfig struct {
	Enabled          bool
	ServiceName      string
	ServiceVersion   string
	Exporter         string // "jaeger", "zipkin", "otlp", "stdout"
	ExporterEndpoint string
	SamplingRate     float64 // 0.0 - 1.0
	Environment      string  // "development", "staging", "production"
}

// Validate проверяет корректность конфигурации
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	switch c.Exporter {
	case "jaeger", "zipkin", "otlp":
		if c.ExporterEndpoint == "" {
			return fmt.Errorf("exporter %s requires an endpoint", c.Exporter)
		}
	case "stdout", "":
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.Exporter)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be within [0, 1]")
	}
	return nil
}

// TracingManager менеджер для distributed tracing
type TracingManager struct {
	config   TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	exporter sdktrace.SpanExporter
	running  bool
	mu       sync.RWMutex
}

// NewTracingManager настраивает глобальные TracerProvider и propagator.
// Propagator устанавливается и при выключенном экспорте: заголовки сообщений
// продолжают нести trace context для сервисов, которые его экспортируют.
func NewTracingManager(config TracingConfig) (*TracingManager, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !config.Enabled {
		return &TracingManager{config: config, tracer: otel.Tracer(tracerName)}, nil
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracing config: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(config.ServiceName),
		semconv.ServiceVersionKey.String(config.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(config.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("%s exporter: %w", config.Exporter, err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)

	return &TracingManager{
		config:   config,
		tracer:   tp.Tracer(tracerName),
		provider: tp,
		exporter: exporter,
	}, nil
}

// createExporter создает exporter на основе конфигурации
func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.ExporterEndpoint)))
	case "zipkin":
		return zipkin.New(config.ExporterEndpoint)
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(config.ExporterEndpoint),
			otlptracehttp.WithInsecure(),
		)
		return otlptrace.New(context.Background(), client)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// Start запускает tracing (lifecycle)
func (tm *TracingManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = true
	tm.mu.Unlock()
	return nil
}

// Stop останавливает tracing с graceful shutdown
func (tm *TracingManager) Stop(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = false
	tm.mu.Unlock()

	if tm.provider != nil {
		return tm.provider.Shutdown(ctx)
	}
	return nil
}

// IsRunning проверяет статус
func (tm *TracingManager) IsRunning() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running
}

// Tracer возвращает tracer для создания spans
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// Name возвращает имя компонента (реализация core.Component)
func (tm *TracingManager) Name() string {
	return "tracing"
}

// Type возвращает тип компонента (реализация core.Component)
func (tm *TracingManager) Type() core.ComponentType {
	return core.ComponentTypeWorker
}

// InjectHeaders записывает trace context и correlation ID в заголовки сообщения
func InjectHeaders(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	if id := ExtractCorrelationID(ctx); id != "" {
		headers[messageCorrelationKey] = id
	}
}

// ExtractHeaders восстанавливает trace context и correlation ID из заголовков сообщения
func ExtractHeaders(ctx context.Context, headers map[string]string) context.Context {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
	if id := headers[messageCorrelationKey]; id != "" {
		ctx = WithCorrelationID(ctx, id)
	}
	return ctx
}

// HTTPTracingMiddleware открывает server span на каждый запрос.
// Имя span берется из маршрута gin, чтобы /orders/:id не плодил имена по id.
func HTTPTracingMiddleware(serviceName string) gin.HandlerFunc {
	if serviceName == "" {
		serviceName = tracerName
	}
	return func(c *gin.Context) {
		propagator := otel.GetTextMapPropagator()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := otel.Tracer(serviceName).Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))
		c.Next()

		code := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", code))
		if code >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(code))
		}
		if err := c.Errors.Last(); err != nil {
			span.RecordError(err)
		}
	}
}

// GRPCTracingInterceptor unary interceptor с trace context из metadata
func GRPCTracingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))
		}

		service, method := splitFullMethod(info.FullMethod)
		ctx, span := otel.Tracer(tracerName+".grpc").Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("rpc.system", "grpc"),
				attribute.String("rpc.service", service),
				attribute.String("rpc.method", method),
			),
		)
		defer span.End()

		resp, err := handler(ctx, req)
		span.SetAttributes(attribute.String("rpc.grpc.status_code", status.Code(err).String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return resp, err
	}
}

// splitFullMethod разбирает "/package.Service/Method"
func splitFullMethod(fullMethod string) (string, string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

type metadataCarrier metadata.MD

func (m metadataCarrier) Get(key string) string {
	if v := metadata.MD(m).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (m metadataCarrier) Set(key, value string) { metadata.MD(m).Set(key, value) }

func (m metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// ExtractCorrelationID возвращает correlation ID из baggage, иначе trace ID
func ExtractCorrelationID(ctx context.Context) string {
	if member := baggage.FromContext(ctx).Member(correlationBaggageKey); member.Value() != "" {
		return member.Value()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// WithCorrelationID кладет correlation ID в baggage.
// Значение, недопустимое для baggage, игнорируется.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	member, err := baggage.NewMember(correlationBaggageKey, correlationID)
	if err != nil {
		return ctx
	}
	b, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, b)
}

// CorrelationIDMiddleware принимает X-Correlation-ID или выдает новый и возвращает его в ответе
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationIDKey)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(WithCorrelationID(c.Request.Context(), id))
		c.Writer.Header().Set(correlationIDKey, id)
		c.Next()
	}
}

// TraceCommand обертка для команд с автоматической инструментацией
func TraceCommand(ctx context.Context, commandName, orderID string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer(tracerName+".command").Start(ctx, "command."+commandName)
	defer span.End()

	span.SetAttributes(
		attribute.String("command.name", commandName),
		attribute.String("order.id", orderID),
	)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("command.success", err == nil))
	return err
}

// TraceQuery обертка для запросов с автоматической инструментацией
func TraceQuery[T any](ctx context.Context, queryName string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := otel.Tracer(tracerName+".query").Start(ctx, "query."+queryName)
	defer span.End()

	span.SetAttributes(attribute.String("query.name", queryName))

	result, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("query.success", err == nil))
	return result, err
}

// TraceEvent обертка для обработки событий.
// Родительский span восстанавливается из заголовков сообщения.
func TraceEvent(ctx context.Context, eventType string, headers map[string]string, fn func(context.Context) error) error {
	if len(headers) > 0 {
		ctx = ExtractHeaders(ctx, headers)
	}
	ctx, span := otel.Tracer(tracerName+".event").Start(ctx, "event."+eventType, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(attribute.String("event.type", eventType))

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("event.success", err == nil))
	return err
}
