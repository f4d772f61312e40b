// Package dispatch delivers queued events to a Transport in batches and
// schedules failed batches for redelivery with exponential backoff.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
	berrors "github.com/randalmurphal/beacon/pkg/beacon/errors"
	"github.com/randalmurphal/beacon/pkg/beacon/event"
	"github.com/randalmurphal/beacon/pkg/beacon/observability"
	"github.com/randalmurphal/beacon/pkg/beacon/queue"
	"github.com/randalmurphal/beacon/pkg/beacon/transport"
)

// Queue is the subset of queue.Queue the dispatcher needs.
type Queue interface {
	DrainAll() []queue.Item
	Requeue(items []queue.Item)
	Size() int
}

// Compile-time interface check.
var _ Queue = (*queue.Queue)(nil)

// Config configures a Dispatcher.
type Config struct {
	// BatchSize bounds the number of events per transport call.
	// Default: 10
	BatchSize int

	// Retry controls redelivery of failed batches.
	// Default: berrors.DefaultRetry
	Retry berrors.RetryConfig

	// DropPermanent drops events immediately when a batch fails with a
	// non-retryable error instead of spending the remaining attempts.
	DropPermanent bool

	// Clock schedules retry timers.
	// Default: clock.Real
	Clock clock.Clock

	// Logger receives delivery diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics records delivery metrics.
	// Default: observability.NoopMetrics
	Metrics observability.MetricsRecorder

	// Spans traces flushes and batches.
	// Default: observability.NoopSpanManager
	Spans observability.SpanManager
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	BatchSize: 10,
	Retry:     berrors.DefaultRetry,
}

// FlushError reports the batches of a flush that failed. Failed events
// have already been scheduled for retry or dropped when it is returned.
type FlushError struct {
	Batches int
	Failed  int
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush: %d of %d batches failed: %v", e.Failed, e.Batches, e.Err)
}

// Unwrap returns the joined batch errors.
func (e *FlushError) Unwrap() error {
	return e.Err
}

// Dispatcher drains a Queue into batches and hands them to a Transport.
// It is safe for concurrent use.
type Dispatcher struct {
	queue     Queue
	transport transport.Transport
	cfg       Config

	mu      sync.Mutex
	retries map[uint64]*pendingRetry
	nextID  uint64
	stopped bool
}

type pendingRetry struct {
	items []queue.Item
	timer clock.Timer
}

// New creates a Dispatcher.
func New(q Queue, t transport.Transport, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig.BatchSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultConfig.Retry
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	return &Dispatcher{
		queue:     q,
		transport: t,
		cfg:       cfg,
		retries:   make(map[uint64]*pendingRetry),
	}
}

// Flush drains the queue and sends every batch concurrently, returning
// once all batches have settled. Failed batches are rescheduled or
// dropped before Flush returns; the returned *FlushError only reports
// them.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.cfg.Metrics.RecordQueueSize(ctx, d.queue.Size())
	items := d.queue.DrainAll()
	if len(items) == 0 {
		return nil
	}

	batches := Partition(items, d.cfg.BatchSize)

	ctx, span := d.cfg.Spans.StartFlushSpan(ctx, len(items))
	observability.LogFlush(d.cfg.Logger, len(items), len(batches))
	done := observability.TimedOperation()

	errs := make([]error, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []queue.Item) {
			defer wg.Done()
			errs[i] = d.sendBatch(ctx, i, batch)
		}(i, batch)
	}
	wg.Wait()

	var failed, failedEvents int
	for i, err := range errs {
		if err != nil {
			failed++
			failedEvents += len(batches[i])
		}
	}
	observability.LogFlushComplete(d.cfg.Logger, len(items)-failedEvents, failedEvents, done())

	var flushErr error
	if failed > 0 {
		flushErr = &FlushError{Batches: len(batches), Failed: failed, Err: errors.Join(errs...)}
	}
	d.cfg.Spans.EndSpanWithError(span, flushErr)
	return flushErr
}

func (d *Dispatcher) sendBatch(ctx context.Context, index int, batch []queue.Item) error {
	ctx, span := d.cfg.Spans.StartBatchSpan(ctx, index, len(batch))

	events := make([]event.Event, len(batch))
	for i, item := range batch {
		events[i] = item.Event
	}

	start := d.cfg.Clock.Now()
	wire, err := transport.TransformBatch(events)
	if err == nil {
		err = d.send(ctx, wire)
	}
	d.cfg.Metrics.RecordBatch(ctx, len(batch), d.cfg.Clock.Now().Sub(start), err)

	if err != nil {
		d.handleFailure(ctx, batch, err)
	}
	d.cfg.Spans.EndSpanWithError(span, err)
	return err
}

// send calls the transport, converting a panic into a batch failure.
func (d *Dispatcher) send(ctx context.Context, wire []transport.WireEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = berrors.Transient(fmt.Errorf("transport panic: %v", r), "send batch")
		}
	}()
	return d.transport.Send(ctx, wire)
}

// handleFailure bumps the retry count of every item in a failed batch,
// drops the exhausted ones and schedules the rest for redelivery.
func (d *Dispatcher) handleFailure(ctx context.Context, batch []queue.Item, cause error) {
	dropAll := d.cfg.DropPermanent && !berrors.IsRetryable(cause)

	// Items in one batch may carry different retry counts, so group them
	// by their next backoff.
	groups := make(map[int][]queue.Item)
	var order []int
	dropped := 0
	for _, item := range batch {
		item.Retries++
		if dropAll || d.cfg.Retry.Exhausted(item.Retries) {
			dropped++
			observability.LogEventDropped(d.cfg.Logger, item.Event.ID, item.Retries, cause)
			continue
		}
		if _, ok := groups[item.Retries]; !ok {
			order = append(order, item.Retries)
		}
		groups[item.Retries] = append(groups[item.Retries], item)
	}
	d.cfg.Metrics.RecordDropped(ctx, dropped)

	for _, retries := range order {
		items := groups[retries]
		delay := d.cfg.Retry.Backoff(retries)
		observability.LogBatchFailed(d.cfg.Logger, len(items), cause, delay)
		d.cfg.Spans.AddSpanEvent(ctx, "retry_scheduled",
			attribute.Int("items", len(items)),
			attribute.Int("retries", retries),
			attribute.Int64("delay_ms", delay.Milliseconds()),
		)
		d.schedule(items, delay)
	}
}

func (d *Dispatcher) schedule(items []queue.Item, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		d.queue.Requeue(items)
		return
	}

	id := d.nextID
	d.nextID++
	p := &pendingRetry{items: items}
	d.retries[id] = p
	p.timer = d.cfg.Clock.AfterFunc(delay, func() { d.fire(id) })
}

func (d *Dispatcher) fire(id uint64) {
	d.mu.Lock()
	p, ok := d.retries[id]
	delete(d.retries, id)
	d.mu.Unlock()

	if ok {
		d.queue.Requeue(p.items)
	}
}

// Stop cancels every pending retry timer and returns the waiting events
// to the queue so a final flush can still deliver them. Failures after
// Stop are requeued without delay.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	pending := d.retries
	d.retries = make(map[uint64]*pendingRetry)
	d.mu.Unlock()

	ids := make([]uint64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var items []queue.Item
	for _, id := range ids {
		p := pending[id]
		if p.timer != nil {
			p.timer.Stop()
		}
		items = append(items, p.items...)
	}
	d.queue.Requeue(items)
}

// Pending returns the number of events waiting on a retry timer.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, p := range d.retries {
		n += len(p.items)
	}
	return n
}

// Partition splits items into consecutive batches of at most size.
func Partition(items []queue.Item, size int) [][]queue.Item {
	if size <= 0 {
		size = DefaultConfig.BatchSize
	}
	batches := make([][]queue.Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}
