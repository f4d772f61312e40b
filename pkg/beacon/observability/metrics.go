package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEnqueued records an accepted event of the given type.
	RecordEnqueued(ctx context.Context, eventType string)

	// RecordEvicted records events pushed out of a full queue.
	RecordEvicted(ctx context.Context, n int)

	// RecordDropped records events abandoned after their final attempt.
	RecordDropped(ctx context.Context, n int)

	// RecordBatch records one transport call with its size, latency and outcome.
	RecordBatch(ctx context.Context, size int, duration time.Duration, err error)

	// RecordQueueSize records the current queue depth.
	RecordQueueSize(ctx context.Context, size int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	enqueued     metric.Int64Counter
	evicted      metric.Int64Counter
	dropped      metric.Int64Counter
	batchesSent  metric.Int64Counter
	batchesFail  metric.Int64Counter
	batchLatency metric.Float64Histogram
	batchSize    metric.Int64Histogram
	queueSize    metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the shared OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("beacon")

	enqueued, err := meter.Int64Counter("beacon.events.enqueued",
		metric.WithDescription("Number of events accepted into the queue"),
	)
	if err != nil {
		return nil, err
	}

	evicted, err := meter.Int64Counter("beacon.events.evicted",
		metric.WithDescription("Number of events evicted from a full queue"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("beacon.events.dropped",
		metric.WithDescription("Number of events dropped after exhausting retries"),
	)
	if err != nil {
		return nil, err
	}

	batchesSent, err := meter.Int64Counter("beacon.batches.sent",
		metric.WithDescription("Number of batches delivered"),
	)
	if err != nil {
		return nil, err
	}

	batchesFail, err := meter.Int64Counter("beacon.batches.failed",
		metric.WithDescription("Number of batches that failed delivery"),
	)
	if err != nil {
		return nil, err
	}

	batchLatency, err := meter.Float64Histogram("beacon.batch.latency_ms",
		metric.WithDescription("Transport call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Histogram("beacon.batch.size",
		metric.WithDescription("Events per transport call"),
	)
	if err != nil {
		return nil, err
	}

	queueSize, err := meter.Int64Gauge("beacon.queue.size",
		metric.WithDescription("Events currently waiting in the queue"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		enqueued:     enqueued,
		evicted:      evicted,
		dropped:      dropped,
		batchesSent:  batchesSent,
		batchesFail:  batchesFail,
		batchLatency: batchLatency,
		batchSize:    batchSize,
		queueSize:    queueSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordEnqueued(ctx context.Context, eventType string) {
	m.enqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *otelMetrics) RecordEvicted(ctx context.Context, n int) {
	if n > 0 {
		m.evicted.Add(ctx, int64(n))
	}
}

func (m *otelMetrics) RecordDropped(ctx context.Context, n int) {
	if n > 0 {
		m.dropped.Add(ctx, int64(n))
	}
}

func (m *otelMetrics) RecordBatch(ctx context.Context, size int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	if err != nil {
		m.batchesFail.Add(ctx, 1)
	} else {
		m.batchesSent.Add(ctx, 1)
	}
	m.batchLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.batchSize.Record(ctx, int64(size), attrs)
}

func (m *otelMetrics) RecordQueueSize(ctx context.Context, size int) {
	m.queueSize.Record(ctx, int64(size))
}
