package acpfacade

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "acpx-acpfacade"

// debugMode gates real span emission. Off by default: most acpx invocations
// are short-lived CLI processes and a full OTel pipeline is rarely wired up
// for them.
var debugMode = os.Getenv("ACPX_DEBUG_AGENT_MESSAGES") == "true"

// Tracer returns the package tracer, a no-op unless debug mode is enabled.
func Tracer() trace.Tracer {
	if !debugMode {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return otel.Tracer(tracerName)
}

// traceFacadeCall starts a client-kind span for one outgoing facade call
// (prompt, cancel, setMode, setConfigOption, ...). The caller ends the span.
func traceFacadeCall(ctx context.Context, sessionID, name string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "acp."+name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("session_id", sessionID))
	return ctx, span
}
