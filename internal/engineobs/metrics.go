// Package engineobs provides internal OpenTelemetry instrumentation
// the storage engine calls into on its own operations. It is process
// instrumentation, not a metrics-scrape or time-series query surface:
// there is no HTTP handler here, just instruments a configured
// exporter can ship off-box.
package engineobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType selects which metrics exporter backs a Metrics instance.
type ExporterType string

const (
	// ExporterNone disables export entirely (no-op meter).
	ExporterNone ExporterType = "none"
	// ExporterStdout writes metrics to stdout, for local debugging.
	ExporterStdout ExporterType = "stdout"
	// ExporterOTLPGRPC ships metrics via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP ships metrics via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config controls whether and how engine instrumentation is exported.
type Config struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName attributes emitted metrics to this service.
	ServiceName string

	// ServiceVersion is the reported service version, if any.
	ServiceVersion string

	// ExporterType selects the exporter backend.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g. "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional resource attributes applied to all metrics.
	Attributes map[string]string
}

// DefaultConfig returns a configuration with metrics disabled.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ServiceName:  "intdb",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps an OTel MeterProvider with IntDB's engine instruments.
// It implements storage.MetricsRecorder.
type Metrics struct {
	config        Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.RWMutex

	activeFlows     atomic.Int64
	flowsCallback   metric.Int64ObservableGauge
	flowsCallbackID metric.Registration

	insertCount     metric.Int64Counter
	insertLatency   metric.Float64Histogram
	queryLatency    metric.Float64Histogram
	queryCandidates metric.Int64Histogram
}

// New builds a Metrics instance. When cfg.Enabled is false, or the
// exporter type is ExporterNone, the instruments are backed by a no-op
// provider and every Record call is a cheap nil check.
func New(ctx context.Context, cfg Config) (*Metrics, error) {
	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("engineobs: create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("engineobs: create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("engineobs: register instruments: %w", err)
	}

	return m, nil
}

func (m *Metrics) createExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (m *Metrics) createResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.insertCount, err = m.meter.Int64Counter(
		"intdb.insert.count",
		metric.WithDescription("Count of InsertFlow calls by outcome"),
	)
	if err != nil {
		return fmt.Errorf("insert count counter: %w", err)
	}

	m.insertLatency, err = m.meter.Float64Histogram(
		"intdb.insert.latency",
		metric.WithDescription("Latency of InsertFlow calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("insert latency histogram: %w", err)
	}

	m.queryLatency, err = m.meter.Float64Histogram(
		"intdb.query.latency",
		metric.WithDescription("Latency of Query calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("query latency histogram: %w", err)
	}

	m.queryCandidates, err = m.meter.Int64Histogram(
		"intdb.query.candidates",
		metric.WithDescription("Candidate-set size before residual filtering"),
	)
	if err != nil {
		return fmt.Errorf("query candidates histogram: %w", err)
	}

	m.flowsCallback, err = m.meter.Int64ObservableGauge(
		"intdb.flows.active",
		metric.WithDescription("Number of flows currently stored"),
	)
	if err != nil {
		return fmt.Errorf("active flows gauge: %w", err)
	}

	m.flowsCallbackID, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.flowsCallback, m.activeFlows.Load())
			return nil
		},
		m.flowsCallback,
	)
	if err != nil {
		return fmt.Errorf("register active flows callback: %w", err)
	}

	return nil
}

// RecordInsert records an InsertFlow call's outcome and latency.
// outcome is "new", "appended", or "rejected".
func (m *Metrics) RecordInsert(outcome string, latency time.Duration) {
	if m.insertCount == nil {
		return
	}
	ctx := context.Background()
	m.insertCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.insertLatency.Record(ctx, float64(latency.Microseconds())/1000.0)
}

// RecordQuery records a Query call's candidate-set size and latency. A
// zero latency records only the candidate count.
func (m *Metrics) RecordQuery(candidates int, latency time.Duration) {
	if m.queryCandidates == nil {
		return
	}
	ctx := context.Background()
	m.queryCandidates.Record(ctx, int64(candidates))
	if latency > 0 {
		m.queryLatency.Record(ctx, float64(latency.Microseconds())/1000.0)
	}
}

// SetActiveFlows updates the value the active-flows gauge reports on
// its next collection. storage.Engine calls this after every insert,
// append, and expiry under its write lock, so the gauge always
// reflects the flow count as of the last mutation.
func (m *Metrics) SetActiveFlows(count int) {
	m.activeFlows.Store(int64(count))
}

// Shutdown flushes pending metrics and releases the gauge callback.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.flowsCallbackID != nil {
		if err := m.flowsCallbackID.Unregister(); err != nil {
			return fmt.Errorf("engineobs: unregister active flows callback: %w", err)
		}
	}
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled reports whether metrics are actually being exported.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// Noop returns a Metrics instance backed by a no-op provider, for
// tests or when instrumentation is disabled entirely.
func Noop() *Metrics {
	cfg := DefaultConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
