package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "collabquest-exec"

// Tracer wraps OpenTelemetry tracing for the execution pipeline.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("exec.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// Common attribute keys for execution tracing.
var (
	AttrExecID     = attribute.Key("exec.id")
	AttrRoomID     = attribute.Key("exec.room_id")
	AttrUserID     = attribute.Key("exec.user_id")
	AttrLanguage   = attribute.Key("exec.language")
	AttrStatus     = attribute.Key("exec.status")
	AttrExitCode   = attribute.Key("exec.exit_code")
	AttrDurationMS = attribute.Key("exec.duration_ms")
)
