package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents   metric.Int64Counter
	syncRuns        metric.Int64Counter
	syncRecords     metric.Int64Counter
	kpiComputations metric.Int64Counter
	kpiDuration     metric.Float64Histogram
	cacheLookups    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "revlens"
	}
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("revlens_webhook_events_total",
		metric.WithDescription("Inbound payment webhook deliveries by provider, event type and outcome."))
	if err != nil {
		return nil, err
	}
	syncRuns, err := meter.Int64Counter("revlens_sync_runs_total",
		metric.WithDescription("Upstream sync runs by provider and outcome."))
	if err != nil {
		return nil, err
	}
	syncRecords, err := meter.Int64Counter("revlens_sync_records_total",
		metric.WithDescription("Records upserted by upstream sync."))
	if err != nil {
		return nil, err
	}
	kpiComputations, err := meter.Int64Counter("revlens_kpi_computations_total",
		metric.WithDescription("KPI computations by endpoint."))
	if err != nil {
		return nil, err
	}
	kpiDuration, err := meter.Float64Histogram("revlens_kpi_computation_seconds",
		metric.WithDescription("KPI computation latency including row fetch."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	cacheLookups, err := meter.Int64Counter("revlens_cache_lookups_total",
		metric.WithDescription("Analytics cache lookups by outcome."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:   webhookEvents,
		syncRuns:        syncRuns,
		syncRecords:     syncRecords,
		kpiComputations: kpiComputations,
		kpiDuration:     kpiDuration,
		cacheLookups:    cacheLookups,
	}, nil
}

// NewNoop returns instruments backed by the no-op meter provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSyncRun counts one sync run and the records it wrote.
func (m *Metrics) RecordSyncRun(ctx context.Context, provider, outcome string, records int) {
	if m == nil {
		return
	}
	m.syncRuns.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
	if records > 0 {
		m.syncRecords.Add(ctx, int64(records), metric.WithAttributes(FilterAttributes(
			attribute.String("provider", strings.TrimSpace(provider)),
		)...))
	}
}

func (m *Metrics) RecordKPIComputation(ctx context.Context, endpoint string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))...)
	m.kpiComputations.Add(ctx, 1, attrs)
	m.kpiDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, endpoint string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("outcome", outcome),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"outcome":     {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
