package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("beacon")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartFlushSpan starts a span covering one flush of the queue.
	StartFlushSpan(ctx context.Context, queued int) (context.Context, trace.Span)

	// StartBatchSpan starts a span for one transport call. It should be a
	// child of the flush span.
	StartBatchSpan(ctx context.Context, index, size int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return otelSpanManager{}
}

func (otelSpanManager) StartFlushSpan(ctx context.Context, queued int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "beacon.flush",
		trace.WithAttributes(attribute.Int("queue.size", queued)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (otelSpanManager) StartBatchSpan(ctx context.Context, index, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "beacon.batch",
		trace.WithAttributes(
			attribute.Int("batch.index", index),
			attribute.Int("batch.size", size),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
