package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetricsWithProvider(provider)
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordCommand(ctx, "CreateOrder", time.Millisecond, true)
	m.RecordCommand(ctx, "ConfirmOrder", time.Millisecond, false)
	m.RecordProjection(ctx, "ItemAdded", OutcomeApplied)
	m.RecordProjection(ctx, "ItemAdded", OutcomeDuplicate)
	m.RecordPublishFailure(ctx, "OrderCreated")

	assert.Equal(t, int64(2), collectSum(t, reader, "commands_total"))
	assert.Equal(t, int64(2), collectSum(t, reader, "projection_events_total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "publish_failures_total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "errors_total"))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCommand(context.Background(), "CreateOrder", time.Millisecond, true)
		m.RecordProjection(context.Background(), "ItemAdded", OutcomeFailed)
	})
}

func TestSetupMetrics_ServesPrometheus(t *testing.T) {
	setup, err := SetupMetrics(&MetricsConfig{ExporterType: "prometheus", ServiceName: "order-service", RuntimeMetrics: true})
	require.NoError(t, err)
	defer setup.Shutdown(context.Background())

	m, err := NewMetricsWithProvider(setup.Provider)
	require.NoError(t, err)
	m.RecordCommand(context.Background(), "CreateOrder", time.Millisecond, true)

	rec := httptest.NewRecorder()
	setup.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "commands_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSetupMetrics_UnknownExporter(t *testing.T) {
	_, err := SetupMetrics(&MetricsConfig{ExporterType: "jaeger"})
	assert.Error(t, err)
}
