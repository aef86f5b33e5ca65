package engineobs

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TraceConfig controls whether and how engine operations are traced.
// Kept separate from Config (the metrics config) since a deployment
// may want one without the other.
type TraceConfig struct {
	// Enabled controls whether tracing is active. Default: false (no-op).
	Enabled bool

	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool

	// SampleRate is the fraction of operations traced, 0.0 to 1.0.
	// Default: 1.0.
	SampleRate float64

	Attributes map[string]string
}

// DefaultTraceConfig returns a configuration with tracing disabled.
func DefaultTraceConfig() TraceConfig {
	return TraceConfig{
		Enabled:      false,
		ServiceName:  "intdb",
		ExporterType: ExporterNone,
		SampleRate:   1.0,
	}
}

// Tracer wraps an OTel TracerProvider with span helpers for the
// storage engine's insert and query operations.
type Tracer struct {
	config   TraceConfig
	provider trace.TracerProvider
	tracer   trace.Tracer
	shutdown func(context.Context) error
	mu       sync.RWMutex
}

// NewTracer builds a Tracer. When cfg.Enabled is false, or the
// exporter type is ExporterNone, spans are discarded by a no-op
// provider.
func NewTracer(ctx context.Context, cfg TraceConfig) (*Tracer, error) {
	t := &Tracer{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		t.provider = noop.NewTracerProvider()
		t.tracer = t.provider.Tracer(cfg.ServiceName)
		t.shutdown = func(context.Context) error { return nil }
		return t, nil
	}

	exporter, err := t.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("engineobs: create trace exporter: %w", err)
	}
	res, err := t.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("engineobs: create trace resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	t.provider = tp
	t.tracer = tp.Tracer(cfg.ServiceName)
	t.shutdown = tp.Shutdown

	return t, nil
}

func (t *Tracer) createExporter(ctx context.Context, cfg TraceConfig) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (t *Tracer) createResource(cfg TraceConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}

// Enabled reports whether spans are actually being exported.
func (t *Tracer) Enabled() bool {
	return t.config.Enabled && t.config.ExporterType != ExporterNone
}

// StartInsertSpan starts a span around an InsertFlow call.
func (t *Tracer) StartInsertSpan(ctx context.Context, flowID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "intdb.insert",
		trace.WithAttributes(attribute.String("intdb.flow_id", flowID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartQuerySpan starts a span around a Query call.
func (t *Tracer) StartQuerySpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "intdb.query", trace.WithSpanKind(trace.SpanKindInternal))
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// NoopTracer returns a Tracer backed by a no-op provider, for tests or
// when tracing is disabled.
func NoopTracer() *Tracer {
	tp := noop.NewTracerProvider()
	return &Tracer{
		config:   DefaultTraceConfig(),
		provider: tp,
		tracer:   tp.Tracer("intdb"),
		shutdown: func(context.Context) error { return nil },
	}
}
