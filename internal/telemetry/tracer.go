package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan opens an internal span under the global tracer provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan opens a span for an inbound request on the HTTP
// control-plane or status surface.
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// RecordError marks a span as errored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordOK marks a span as successful.
func RecordOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys used across skysweep spans.
var (
	AttrSite     = attribute.Key("skysweep.site")
	AttrStage    = attribute.Key("skysweep.pipeline.stage")
	AttrJobID    = attribute.Key("skysweep.job.id")
	AttrRecords  = attribute.Key("skysweep.record_count")
	AttrEncDay   = attribute.Key("skysweep.encounters.day")
)
