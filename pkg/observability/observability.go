// Package observability provides OpenTelemetry tracing and RED metrics for the
// nonce, ledger and trace paths.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "nyaya.trust-core"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // host:port of the collector's gRPC receiver
	SampleRate     float64       // 0.0 to 1.0, parent-based
	BatchTimeout   time.Duration // span batch flush interval
	MetricInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "nyaya",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Enabled:        true,
	}
}

// Provider owns the tracer and meter used by the instrumented wrappers.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter
	red    redMetrics
	logger *slog.Logger

	// shutdown flushes the SDK providers; nil when they belong to someone else.
	shutdown []func(context.Context) error
}

// redMetrics are the rate, error and duration instruments for every operation.
type redMetrics struct {
	operations metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
}

func newREDMetrics(m metric.Meter) (redMetrics, error) {
	var red redMetrics
	var errs [4]error
	red.operations, errs[0] = m.Int64Counter("nyaya.operations.total",
		metric.WithDescription("Trust-core operations started"),
		metric.WithUnit("{operation}"))
	red.errors, errs[1] = m.Int64Counter("nyaya.errors.total",
		metric.WithDescription("Trust-core operations that failed, by error kind"),
		metric.WithUnit("{error}"))
	red.duration, errs[2] = m.Float64Histogram("nyaya.operation.duration",
		metric.WithDescription("Operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5))
	red.inFlight, errs[3] = m.Int64UpDownCounter("nyaya.operations.active",
		metric.WithDescription("Operations currently in flight"),
		metric.WithUnit("{operation}"))
	return red, errors.Join(errs[:]...)
}

// New builds the OTLP exporters described by cfg and installs them as the
// global providers. A disabled config yields a Provider backed by no-op
// implementations.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := slog.Default().With("component", "observability")

	if !cfg.Enabled {
		logger.InfoContext(ctx, "observability disabled")
		return bind(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), cfg.ServiceVersion, logger)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p, err := bind(tp, mp, cfg.ServiceVersion, logger)
	if err != nil {
		return nil, err
	}
	p.shutdown = []func(context.Context) error{tp.Shutdown, mp.Shutdown}

	logger.InfoContext(ctx, "observability initialized",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

// NewWithProviders builds a Provider on caller-owned providers. Globals are
// left alone and Shutdown does not stop them.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	return bind(tp, mp, "", slog.Default().With("component", "observability"))
}

func bind(tp trace.TracerProvider, mp metric.MeterProvider, version string, logger *slog.Logger) (*Provider, error) {
	p := &Provider{
		tracer: tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(version)),
		meter:  mp.Meter(instrumentationName, metric.WithInstrumentationVersion(version)),
		logger: logger,
	}
	red, err := newREDMetrics(p.meter)
	if err != nil {
		return nil, fmt.Errorf("RED metrics: %w", err)
	}
	p.red = red
	return p, nil
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRate)
	if cfg.SampleRate >= 1 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0 {
		sampler = sdktrace.NeverSample()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	), nil
}

// Shutdown flushes pending telemetry. Failures are logged and joined.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, stop := range p.shutdown {
		if err := stop(ctx); err != nil {
			p.logger.ErrorContext(ctx, "telemetry shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) Meter() metric.Meter { return p.meter }

// RecordError counts one failure, classified by ErrorKind.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	kv := make([]attribute.KeyValue, 0, len(attrs)+1)
	kv = append(kv, attrs...)
	kv = append(kv, AttrErrorKind.String(ErrorKind(err)))
	p.red.errors.Add(ctx, 1, metric.WithAttributes(kv...))
}

// TrackOperation opens a span for op and counts it. The returned func ends
// the span and records duration and, when err is non-nil, the failure.
func (p *Provider) TrackOperation(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, AttrOperation.String(op))
	set := metric.WithAttributes(attrs...)

	ctx, span := p.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
	p.red.operations.Add(ctx, 1, set)
	p.red.inFlight.Add(ctx, 1, set)
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()
		p.red.inFlight.Add(ctx, -1, set)
		p.red.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorKind(err))
			p.RecordError(ctx, err, attrs...)
		}
	}
}
