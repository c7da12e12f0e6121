// Package telemetry wraps the OpenTelemetry tracer this module's
// frontend optionally reports spans to. Tracing is off the hot path by
// default: when no provider has been installed, otel.Tracer returns a
// no-op tracer, so Start costs a single interface call with nothing to
// export.
//
// Reference: abiolaogu-MinIO internal/tracing/tracing.go for the
// "named tracer per component, Start/attributes/RecordError helpers"
// shape — trimmed here to what a cache frontend needs (no exporter
// wiring; a host application installs its own TracerProvider via
// otel.SetTracerProvider and this package picks it up automatically).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/riftstore/zswap"

// Tracer returns the named tracer used for store/load/flush spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartStoreSpan starts a span around one Store call.
func StartStoreSpan(ctx context.Context, storeID uint32, offset uint64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "zswap.store",
		trace.WithAttributes(
			attribute.Int64("zswap.store_id", int64(storeID)),
			attribute.Int64("zswap.offset", int64(offset)),
		),
	)
}

// StartLoadSpan starts a span around one Load call.
func StartLoadSpan(ctx context.Context, storeID uint32, offset uint64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "zswap.load",
		trace.WithAttributes(
			attribute.Int64("zswap.store_id", int64(storeID)),
			attribute.Int64("zswap.offset", int64(offset)),
		),
	)
}

// StartFlushSpan starts a span around one flush attempt.
func StartFlushSpan(ctx context.Context, storeID uint32) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "zswap.flush",
		trace.WithAttributes(attribute.Int64("zswap.store_id", int64(storeID))),
	)
}

// RecordError records err on the span active in ctx, if any.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}
}
