package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for briefgate spans and metrics.
var (
	AttrOperation      = attribute.Key("briefgate.operation")
	AttrRunID          = attribute.Key("briefgate.run.id")
	AttrPayloadDigest  = attribute.Key("briefgate.payload.digest")
	AttrRenderMode     = attribute.Key("briefgate.render.mode")
	AttrBackend        = attribute.Key("briefgate.render.backend")
	AttrOutcome        = attribute.Key("briefgate.render.outcome")
	AttrGate           = attribute.Key("briefgate.preflight.gate")
	AttrGateStatus     = attribute.Key("briefgate.preflight.status")
	AttrDeliveryStatus = attribute.Key("briefgate.delivery.status")
)

// RunOperation creates attributes for a pipeline run.
func RunOperation(runID, digest, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrPayloadDigest.String(digest),
		AttrRenderMode.String(mode),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
