package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordEnqueued does nothing.
func (NoopMetrics) RecordEnqueued(context.Context, string) {}

// RecordEvicted does nothing.
func (NoopMetrics) RecordEvicted(context.Context, int) {}

// RecordDropped does nothing.
func (NoopMetrics) RecordDropped(context.Context, int) {}

// RecordBatch does nothing.
func (NoopMetrics) RecordBatch(context.Context, int, time.Duration, error) {}

// RecordQueueSize does nothing.
func (NoopMetrics) RecordQueueSize(context.Context, int) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartFlushSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartFlushSpan(ctx context.Context, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartBatchSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartBatchSpan(ctx context.Context, _, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
