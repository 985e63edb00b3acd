// Package observability provides OpenTelemetry tracing and metrics for
// briefgate runs.
//
// Telemetry is disabled by default. When disabled, the provider hands out the
// global no-op tracer and meter so instrumented code never needs to check.
// A nil *Provider is also usable.
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
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Mindburn-Labs/briefgate"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // host:port of the collector
	SampleRate     float64 // 0.0 to 1.0
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only
}

// DefaultConfig returns disabled telemetry pointed at a local collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "briefgate",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		ExportInterval: 15 * time.Second,
	}
}

// Provider owns the tracer, the run instruments and the exporters behind them.
type Provider struct {
	tracer   trace.Tracer
	logger   *slog.Logger
	shutdown []func(context.Context) error

	operations metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
	inflight   metric.Int64UpDownCounter
	attempts   metric.Int64Counter
	gates      metric.Int64Counter
	deliveries metric.Int64Counter
}

// New builds a provider. With telemetry disabled no exporter is dialed and
// every instrument records into the global no-op meter.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{logger: slog.Default().With("component", "observability")}

	if cfg.Enabled {
		if err := p.export(ctx, cfg); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
		p.logger.InfoContext(ctx, "telemetry exporting",
			"endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate, "insecure", cfg.Insecure)
	}

	p.tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.instruments(otel.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return p, nil
}

// export installs OTLP gRPC trace and metric pipelines as the global providers.
func (p *Provider) export(ctx context.Context, cfg *Config) error {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	p.shutdown = append(p.shutdown, tp.Shutdown)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	points, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return fmt.Errorf("metric exporter: %w", err)
	}
	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(interval))),
	)
	p.shutdown = append(p.shutdown, mp.Shutdown)
	otel.SetMeterProvider(mp)
	return nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (p *Provider) instruments(m metric.Meter) error {
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}

	p.operations = counter("briefgate.operations.total", "Operations started", "{operation}")
	p.failures = counter("briefgate.errors.total", "Operations that returned an error", "{error}")
	p.attempts = counter("briefgate.render.attempts", "Render attempts by backend and outcome", "{attempt}")
	p.gates = counter("briefgate.preflight.gates", "Preflight gate results by gate and status", "{gate}")
	p.deliveries = counter("briefgate.delivery.status", "Resolved delivery statuses", "{run}")

	var err error
	p.duration, err = m.Float64Histogram("briefgate.operation.duration",
		metric.WithDescription("Operation duration"),
		metric.WithUnit("s"),
		// Fallback jobs poll for up to five minutes.
		metric.WithExplicitBucketBoundaries(0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	errs = append(errs, err)
	p.inflight, err = m.Int64UpDownCounter("briefgate.operations.active",
		metric.WithDescription("Operations in flight"), metric.WithUnit("{operation}"))
	errs = append(errs, err)
	return errors.Join(errs...)
}

// Shutdown flushes and stops any exporters. Errors are logged, not returned,
// so a dead collector never changes a run's exit code.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			p.logger.ErrorContext(ctx, "telemetry shutdown", "error", err)
		}
	}
	p.shutdown = nil
	return nil
}

func (p *Provider) tracerOrGlobal() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

func (p *Provider) ready() bool { return p != nil && p.operations != nil }

// RecordRenderAttempt counts one backend attempt.
func (p *Provider) RecordRenderAttempt(ctx context.Context, backend, outcome string) {
	if p.ready() {
		p.attempts.Add(ctx, 1, metric.WithAttributes(AttrBackend.String(backend), AttrOutcome.String(outcome)))
	}
}

// RecordGate counts one preflight gate result.
func (p *Provider) RecordGate(ctx context.Context, gate, status string) {
	if p.ready() {
		p.gates.Add(ctx, 1, metric.WithAttributes(AttrGate.String(gate), AttrGateStatus.String(status)))
	}
}

// RecordDelivery counts one resolved delivery status.
func (p *Provider) RecordDelivery(ctx context.Context, status string) {
	if p.ready() {
		p.deliveries.Add(ctx, 1, metric.WithAttributes(AttrDeliveryStatus.String(status)))
	}
}

// TrackOperation starts a span and the RED bookkeeping for one operation. The
// returned function must be called exactly once with the operation's error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracerOrGlobal().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	set := metric.WithAttributes(append([]attribute.KeyValue{AttrOperation.String(name)}, attrs...)...)
	if p.ready() {
		p.inflight.Add(ctx, 1, set)
		p.operations.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		if p.ready() {
			p.inflight.Add(ctx, -1, set)
			p.duration.Record(ctx, time.Since(start).Seconds(), set)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if p.ready() {
				p.failures.Add(ctx, 1, set, metric.WithAttributes(attribute.String("error.type", fmt.Sprintf("%T", err))))
			}
		}
		span.End()
	}
}
