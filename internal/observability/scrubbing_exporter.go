package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// scrubbingExporter redacts credentials from span attributes, event
// attributes and status descriptions before spans leave the process.
// LangSmith error bodies can echo request headers into span events.
type scrubbingExporter struct {
	wrapped sdktrace.SpanExporter
}

func newScrubbingExporter(wrapped sdktrace.SpanExporter) sdktrace.SpanExporter {
	return &scrubbingExporter{wrapped: wrapped}
}

func (e *scrubbingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	out := make([]sdktrace.ReadOnlySpan, len(spans))
	for i, span := range spans {
		out[i] = scrubSpan(span)
	}
	return e.wrapped.ExportSpans(ctx, out)
}

func (e *scrubbingExporter) Shutdown(ctx context.Context) error {
	return e.wrapped.Shutdown(ctx)
}

func scrubSpan(span sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	dirty := attrsContainCredential(span.Attributes()) || ContainsCredential(span.Status().Description)
	for _, event := range span.Events() {
		dirty = dirty || attrsContainCredential(event.Attributes)
	}
	if !dirty {
		return span
	}

	stub := tracetest.SpanStubFromReadOnlySpan(span)
	stub.Attributes = scrubAttributes(stub.Attributes)
	for i := range stub.Events {
		stub.Events[i].Attributes = scrubAttributes(stub.Events[i].Attributes)
	}
	stub.Status.Description = ScrubCredentials(stub.Status.Description)
	return stub.Snapshot()
}

func attrsContainCredential(attrs []attribute.KeyValue) bool {
	for _, a := range attrs {
		if a.Value.Type() == attribute.STRING && ContainsCredential(a.Value.AsString()) {
			return true
		}
	}
	return false
}

func scrubAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = a
		if a.Value.Type() == attribute.STRING {
			if v := a.Value.AsString(); ContainsCredential(v) {
				out[i] = attribute.String(string(a.Key), ScrubCredentials(v))
			}
		}
	}
	return out
}
