package transport

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Span is the minimal span surface the coordinator needs: attach attributes,
// record an error, and end the span. Matches the shape of
// go.opentelemetry.io/otel/trace.Span without requiring callers to depend on
// the full interface.
type Span interface {
	SetAttribute(key string, value any)
	RecordError(err error)
	End()
}

// Tracer opens a span per send/recv call when configured, recording halo id,
// msgtag, peer rank, and whether the operation took the loopback or
// derived-datatype path.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// NoopTracer opens spans that discard every attribute and error; it is the
// default when a runtime is constructed without a Tracer.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) RecordError(error)        {}
func (noopSpan) End()                     {}

// OTelTracer adapts a trace.Tracer to the Tracer interface.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps t for use as the runtime's tracer.
func NewOTelTracer(t trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: t}
}

func (o *OTelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(attributeFor(key, value))
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

func (s *otelSpan) End() {
	s.span.End()
}
