package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/meshkit/logger"
)

const instrumentationName = "github.com/kbukum/meshkit"

// Span names.
const (
	SpanInvoke         = "invoke.call"
	SpanDiscoveryFetch = "discovery.fetch"
	SpanConfigResolve  = "configstore.resolve"
)

// Attribute keys.
const (
	AttrService      = "mesh.service"
	AttrInstanceID   = "mesh.instance_id"
	AttrUsedFallback = "mesh.used_fallback"
	AttrApplication  = "config.application"
)

// Tracer returns the meshkit tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span on the meshkit tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err (if any), sets the status and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// LogFields returns trace and span ids of the active span as log fields,
// or nil when ctx carries no valid span.
func LogFields(ctx context.Context) map[string]interface{} {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return map[string]interface{}{
		logger.FieldTraceID: sc.TraceID().String(),
		logger.FieldSpanID:  sc.SpanID().String(),
	}
}
