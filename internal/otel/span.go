// Package otel provides tracing helpers shared by the registry packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on registry spans.
const (
	AttrContract      = attribute.Key("registry.contract")
	AttrSourceID      = attribute.Key("source.id")
	AttrSourceName    = attribute.Key("source.name")
	AttrSourceCount   = attribute.Key("source.count")
	AttrCapability    = attribute.Key("capability.name")
	AttrArchivePath   = attribute.Key("archive.path")
	AttrResultCount   = attribute.Key("result.count")
	AttrSourceRemoved = attribute.Key("source.removed")
)

// StartSpan starts a span on tracer. A nil tracer yields the span already
// carried by ctx, which is a no-op span when tracing is off.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. The status description stays generic;
// the error itself is attached as a span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
