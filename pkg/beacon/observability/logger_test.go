package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestEnrichLogger(t *testing.T) {
	logger, buf := newBufferLogger()

	EnrichLogger(logger, "dispatch", "sess-1").Info("hello")
	out := buf.String()
	assert.Contains(t, out, "component=dispatch")
	assert.Contains(t, out, "session_id=sess-1")

	buf.Reset()
	EnrichLogger(logger, "queue", "").Info("hello")
	assert.NotContains(t, buf.String(), "session_id")

	assert.Nil(t, EnrichLogger(nil, "x", "y"))
}

func TestLogHelpers(t *testing.T) {
	logger, buf := newBufferLogger()
	err := errors.New("collector down")

	tests := []struct {
		name string
		log  func()
		want []string
	}{
		{"flush", func() { LogFlush(logger, 25, 3) }, []string{"flush starting", "queued=25", "batches=3"}},
		{"flush complete", func() { LogFlushComplete(logger, 20, 5, 12.5) }, []string{"events_sent=20", "events_failed=5"}},
		{"batch failed", func() { LogBatchFailed(logger, 10, err, 2*time.Second) }, []string{"level=WARN", "retry_in=2s", "collector down"}},
		{"dropped", func() { LogEventDropped(logger, "evt-1", 3, err) }, []string{"level=ERROR", "event_id=evt-1", "attempts=3"}},
		{"evicted", func() { LogEventEvicted(logger, "evt-2", 100) }, []string{"event evicted", "queue_size=100"}},
		{"session end", func() { LogSessionEnd(logger, "sess-1", time.Minute, 4) }, []string{"session ended", "page_views=4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestLogHelpers_NilLogger(t *testing.T) {
	err := errors.New("x")
	assert.NotPanics(t, func() {
		LogFlush(nil, 1, 1)
		LogFlushComplete(nil, 1, 0, 1)
		LogBatchFailed(nil, 1, err, time.Second)
		LogEventDropped(nil, "e", 1, err)
		LogEventEvicted(nil, "e", 1)
		LogSessionEnd(nil, "s", time.Second, 1)
	})
}

func TestNewLogger(t *testing.T) {
	assert.True(t, NewLogger(true).Enabled(context.Background(), slog.LevelDebug))
	assert.NotNil(t, NewLogger(false))
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 1.0)
}
