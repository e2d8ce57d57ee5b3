package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsHighCardinalityLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("company_id", "acme"),
		attribute.String("user_id", "u1"),
		attribute.String("event_type", "payment_succeeded"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("provider"), attrs[0].Key)
	assert.Equal(t, attribute.Key("event_type"), attrs[1].Key)
}

func TestMetricsRecordThroughSDK(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(Config{ServiceName: "revlens-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordWebhookEvent(ctx, "generic", "payment_succeeded", "processed")
	m.RecordWebhookEvent(ctx, "generic", "payment_succeeded", "processed")
	m.RecordSyncRun(ctx, "stripe", "success", 4)
	m.RecordKPIComputation(ctx, "kpis", 20*time.Millisecond)
	m.RecordCacheLookup(ctx, "kpis", true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]metricdata.Aggregation{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		names[metric.Name] = metric.Data
	}
	assert.Contains(t, names, "revlens_sync_records_total")
	assert.Contains(t, names, "revlens_kpi_computation_seconds")
	assert.Contains(t, names, "revlens_cache_lookups_total")

	webhooks, ok := names["revlens_webhook_events_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, webhooks.DataPoints, 1)
	assert.Equal(t, int64(2), webhooks.DataPoints[0].Value)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "generic", "x", "ignored")
	m.RecordSyncRun(context.Background(), "stripe", "error", 0)
	m.RecordKPIComputation(context.Background(), "kpis", time.Second)
	m.RecordCacheLookup(context.Background(), "kpis", false)
}
