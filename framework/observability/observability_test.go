package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func TestTraceCommand_RecordsSpan(t *testing.T) {
	rec := setupRecorder(t)

	boom := errors.New("boom")
	err := TraceCommand(context.Background(), "ConfirmOrder", "o1", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "command.ConfirmOrder", spans[0].Name())
	assert.NotEmpty(t, spans[0].Events())
}

func TestTraceQuery_ReturnsTypedResult(t *testing.T) {
	setupRecorder(t)

	n, err := TraceQuery(context.Background(), "GetOrderView", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestTraceEvent_ContinuesPublisherTrace(t *testing.T) {
	rec := setupRecorder(t)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "publish")
	headers := map[string]string{}
	InjectHeaders(ctx, headers)
	parent.End()
	require.Contains(t, headers, "traceparent")

	err := TraceEvent(context.Background(), "ItemAdded", headers, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, parent.SpanContext().TraceID(), spans[1].SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), spans[1].Parent().SpanID())
}

func TestTracingConfig_Validate(t *testing.T) {
	assert.NoError(t, TracingConfig{}.Validate())
	assert.NoError(t, TracingConfig{Enabled: true, ServiceName: "svc", Exporter: "stdout", SamplingRate: 1}.Validate())
	assert.Error(t, TracingConfig{Enabled: true, ServiceName: "svc", Exporter: "jaeger"}.Validate())
	assert.Error(t, TracingConfig{Enabled: true, ServiceName: "svc", Exporter: "carrier-pigeon"}.Validate())
	assert.Error(t, TracingConfig{Enabled: true, Exporter: "stdout"}.Validate())
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationIDMiddleware())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = ExtractCorrelationID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(correlationIDKey, "corr-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "corr-1", seen)
	assert.Equal(t, "corr-1", w.Header().Get(correlationIDKey))
}

func TestHeaders_CarryCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-2")
	headers := map[string]string{}
	InjectHeaders(ctx, headers)
	assert.Equal(t, "corr-2", headers[messageCorrelationKey])

	restored := ExtractHeaders(context.Background(), headers)
	assert.Equal(t, "corr-2", ExtractCorrelationID(restored))
	assert.Empty(t, ExtractCorrelationID(context.Background()))
}

func TestHealthManager(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hm := NewHealthManager(DefaultHealthConfig())
	hm.Register("store", func(ctx context.Context) error { return nil })

	r := gin.New()
	r.GET("/health", hm.HealthCheckHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	hm.Register("broker", func(ctx context.Context) error { return errors.New("down") })
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var result HealthCheckResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "unhealthy", result.Status)
	assert.Equal(t, "down", result.Checks["broker"].Message)
	assert.Equal(t, "healthy", result.Checks["store"].Status)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "order_id", "o1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "o1", line["order_id"])

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
