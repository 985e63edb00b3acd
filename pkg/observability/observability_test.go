package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "briefgate", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, p.ready())
	require.Empty(t, p.shutdown)
}

func TestNewProviderWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "render.attempt", attribute.String("k", "v"))
	require.NotNil(t, ctx)
	time.Sleep(time.Millisecond)
	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "render.attempt")
	finish(errors.New("boom"))
}

func TestNilProviderIsUsable(t *testing.T) {
	var p *Provider
	ctx := context.Background()

	ctx, finish := p.TrackOperation(ctx, "op")
	finish(nil)
	p.RecordRenderAttempt(ctx, "primary", "succeeded")
	p.RecordGate(ctx, "min_page_count", "PASS")
	p.RecordDelivery(ctx, "PASS")
	require.NoError(t, p.Shutdown(ctx))
}

func TestDomainCounters(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	p.RecordRenderAttempt(ctx, "fallback", "failed")
	p.RecordGate(ctx, "citation_integrity", "FAIL")
	p.RecordDelivery(ctx, "PENDING")
	require.NoError(t, p.Shutdown(ctx))
}

func TestRunOperation(t *testing.T) {
	attrs := RunOperation("run-1", "sha256:abc", "auto")
	require.Len(t, attrs, 3)
	require.Equal(t, "briefgate.render.mode", string(attrs[2].Key))
	require.Equal(t, "auto", attrs[2].Value.AsString())
}

func TestAddSpanEvent(t *testing.T) {
	AddSpanEvent(context.Background(), "gate.evaluated", AttrGate.String("metadata_hygiene"))
}

func TestInstrumentsRecordIntoGlobalMeter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	ctx := context.Background()

	p, err := New(ctx, nil)
	require.NoError(t, err)
	_, finish := p.TrackOperation(ctx, "pipeline.run", AttrRenderMode.String("auto"))
	finish(errors.New("render failed"))
	p.RecordDelivery(ctx, "FAIL")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			seen[m.Name] = true
		}
	}
	for _, name := range []string{
		"briefgate.operations.total",
		"briefgate.errors.total",
		"briefgate.operation.duration",
		"briefgate.delivery.status",
	} {
		require.True(t, seen[name], "metric %s not recorded", name)
	}
}
