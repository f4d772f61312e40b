// Package observability provides structured logging, metrics, and tracing
// for the beacon pipeline.
//
// Logging uses slog. Metrics and traces use OpenTelemetry through the
// global providers. Every helper is nil-safe and every interface has a
// no-op implementation for when the feature is disabled.
package observability

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// NewLogger returns the default pipeline logger. Debug mode writes text at
// debug level to stderr; otherwise output is discarded.
func NewLogger(debug bool) *slog.Logger {
	if !debug {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// EnrichLogger adds component and session fields to a logger.
//
// Example:
//
//	l := EnrichLogger(logger, "dispatch", "sess-123")
//	l.Info("flushing") // includes component, session_id
func EnrichLogger(logger *slog.Logger, component, sessionID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	attrs := []any{slog.String("component", component)}
	if sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	return logger.With(attrs...)
}

// LogFlush logs the start of a flush.
func LogFlush(logger *slog.Logger, queued, batches int) {
	if logger == nil {
		return
	}
	logger.Debug("flush starting",
		slog.Int("queued", queued),
		slog.Int("batches", batches),
	)
}

// LogFlushComplete logs the outcome of a flush.
func LogFlushComplete(logger *slog.Logger, sent, failed int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("flush completed",
		slog.Int("events_sent", sent),
		slog.Int("events_failed", failed),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBatchFailed logs a failed batch that will be retried.
func LogBatchFailed(logger *slog.Logger, size int, err error, retryIn time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("batch delivery failed",
		slog.Int("size", size),
		slog.String("error", err.Error()),
		slog.Duration("retry_in", retryIn),
	)
}

// LogEventDropped logs an event abandoned after exhausting its retries.
func LogEventDropped(logger *slog.Logger, eventID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("event dropped",
		slog.String("event_id", eventID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogEventEvicted logs an event pushed out of a full queue.
func LogEventEvicted(logger *slog.Logger, eventID string, queueSize int) {
	if logger == nil {
		return
	}
	logger.Debug("event evicted",
		slog.String("event_id", eventID),
		slog.Int("queue_size", queueSize),
	)
}

// LogSessionEnd logs a sealed session.
func LogSessionEnd(logger *slog.Logger, sessionID string, duration time.Duration, pageViews int) {
	if logger == nil {
		return
	}
	logger.Info("session ended",
		slog.String("session_id", sessionID),
		slog.Duration("duration", duration),
		slog.Int("page_views", pageViews),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
