package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
	"github.com/randalmurphal/beacon/pkg/beacon/dispatch"
	berrors "github.com/randalmurphal/beacon/pkg/beacon/errors"
	"github.com/randalmurphal/beacon/pkg/beacon/event"
	"github.com/randalmurphal/beacon/pkg/beacon/observability"
	"github.com/randalmurphal/beacon/pkg/beacon/queue"
	"github.com/randalmurphal/beacon/pkg/beacon/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errCollectorDown = errors.New("collector down")

// recorder is a Transport that records every batch and fails on demand.
type recorder struct {
	mu      sync.Mutex
	batches [][]transport.WireEvent
	fail    func(batch []transport.WireEvent) error
}

func (r *recorder) Send(_ context.Context, batch []transport.WireEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	if r.fail != nil {
		return r.fail(batch)
	}
	return nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.batches))
	for i, b := range r.batches {
		out[i] = len(b)
	}
	sort.Ints(out)
	return out
}

func alwaysFail([]transport.WireEvent) error { return errCollectorDown }

func evt(id string) event.Event {
	return event.Event{
		ID:          id,
		AnonymousID: "anon",
		Timestamp:   epoch,
		Type:        event.TypeTrack,
		Name:        "clicked",
	}
}

type fixture struct {
	clock *clock.Fake
	queue *queue.Queue
	tr    *recorder
	d     *dispatch.Dispatcher
}

func newFixture(t *testing.T, cfg dispatch.Config, qcfg queue.Config) *fixture {
	t.Helper()
	fc := clock.NewFake(epoch)
	qcfg.Clock = fc
	q := queue.New(qcfg)
	tr := &recorder{}
	cfg.Clock = fc
	return &fixture{clock: fc, queue: q, tr: tr, d: dispatch.New(q, tr, cfg)}
}

func (f *fixture) enqueue(ids ...string) {
	for _, id := range ids {
		f.queue.Enqueue(evt(id))
	}
}

func queuedIDs(q *queue.Queue) []string {
	items := q.DrainAll()
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Event.ID
	}
	q.Requeue(items)
	return ids
}

func TestFlush_PartitionsIntoBatches(t *testing.T) {
	f := newFixture(t, dispatch.Config{BatchSize: 10}, queue.Config{})
	for i := 0; i < 25; i++ {
		f.enqueue(fmt.Sprintf("e%d", i))
	}

	require.NoError(t, f.d.Flush(context.Background()))

	assert.Equal(t, []int{5, 10, 10}, f.tr.sizes())
	assert.Zero(t, f.queue.Size())
	assert.Zero(t, f.d.Pending())
}

func TestFlush_Empty(t *testing.T) {
	f := newFixture(t, dispatch.Config{}, queue.Config{})

	require.NoError(t, f.d.Flush(context.Background()))
	assert.Zero(t, f.tr.calls())
}

func TestFlush_SendsWireFormat(t *testing.T) {
	f := newFixture(t, dispatch.Config{}, queue.Config{})
	e := evt("e1")
	e.Type = event.TypePage
	f.queue.Enqueue(e)

	require.NoError(t, f.d.Flush(context.Background()))
	require.Equal(t, 1, f.tr.calls())
	assert.Equal(t, "page_view", f.tr.batches[0][0].EventType)
	assert.Equal(t, "e1", f.tr.batches[0][0].EventID)
}

func TestFlush_BatchesRunConcurrently(t *testing.T) {
	const batches = 3
	var arrived sync.WaitGroup
	arrived.Add(batches)
	allIn := make(chan struct{})
	go func() {
		arrived.Wait()
		close(allIn)
	}()

	tr := transport.Func(func(ctx context.Context, _ []transport.WireEvent) error {
		arrived.Done()
		select {
		case <-allIn:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("batches were sent sequentially")
		}
	})

	q := queue.New(queue.Config{})
	for i := 0; i < 3*batches; i++ {
		q.Enqueue(evt(fmt.Sprintf("e%d", i)))
	}
	d := dispatch.New(q, tr, dispatch.Config{BatchSize: 3, Clock: clock.NewFake(epoch)})

	require.NoError(t, d.Flush(context.Background()))
}

func TestFlush_RetryExhaustion(t *testing.T) {
	// retryAttempts=3 and the transport never succeeds: the event is gone
	// after the third failure.
	f := newFixture(t, dispatch.Config{
		Retry: berrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second},
	}, queue.Config{})
	f.tr.fail = alwaysFail
	f.enqueue("e1")
	ctx := context.Background()

	// Attempt 1: retries=1, requeued after 1s × 2^1.
	require.Error(t, f.d.Flush(ctx))
	assert.Zero(t, f.queue.Size())
	assert.Equal(t, 1, f.d.Pending())

	f.clock.Advance(1999 * time.Millisecond)
	assert.Zero(t, f.queue.Size(), "backoff not yet elapsed")
	f.clock.Advance(time.Millisecond)
	require.Equal(t, 1, f.queue.Size())

	// Attempt 2: retries=2, requeued after 4s.
	require.Error(t, f.d.Flush(ctx))
	f.clock.Advance(4 * time.Second)
	require.Equal(t, 1, f.queue.Size())

	items := f.queue.DrainAll()
	assert.Equal(t, 2, items[0].Retries)
	f.queue.Requeue(items)

	// Attempt 3: exhausted, dropped.
	require.Error(t, f.d.Flush(ctx))
	assert.Zero(t, f.d.Pending())
	f.clock.Advance(time.Hour)
	assert.Zero(t, f.queue.Size())

	require.NoError(t, f.d.Flush(ctx))
	assert.Equal(t, 3, f.tr.calls(), "no delivery attempt after the drop")
}

func TestFlush_RetryRequeuesAtFront(t *testing.T) {
	f := newFixture(t, dispatch.Config{
		Retry: berrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second},
	}, queue.Config{})

	first := true
	f.tr.fail = func([]transport.WireEvent) error {
		if first {
			first = false
			return errCollectorDown
		}
		return nil
	}

	f.enqueue("a")
	require.Error(t, f.d.Flush(context.Background()))
	f.enqueue("b", "c")
	f.clock.Advance(2 * time.Second)

	assert.Equal(t, []string{"a", "b", "c"}, queuedIDs(f.queue))
}

func TestFlush_RetryRequeuesAtBack(t *testing.T) {
	f := newFixture(t, dispatch.Config{
		Retry: berrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second},
	}, queue.Config{Ordering: queue.RequeueBack})
	f.tr.fail = alwaysFail

	f.enqueue("a")
	require.Error(t, f.d.Flush(context.Background()))
	f.enqueue("b")
	f.clock.Advance(2 * time.Second)

	assert.Equal(t, []string{"b", "a"}, queuedIDs(f.queue))
}

func TestFlush_PartialFailure(t *testing.T) {
	f := newFixture(t, dispatch.Config{BatchSize: 2}, queue.Config{})
	f.tr.fail = func(batch []transport.WireEvent) error {
		for _, w := range batch {
			if w.EventID == "bad" {
				return errCollectorDown
			}
		}
		return nil
	}
	f.enqueue("a", "b", "bad", "c", "d", "e")

	err := f.d.Flush(context.Background())

	var flushErr *dispatch.FlushError
	require.ErrorAs(t, err, &flushErr)
	assert.Equal(t, 3, flushErr.Batches)
	assert.Equal(t, 1, flushErr.Failed)
	assert.ErrorIs(t, err, errCollectorDown)
	assert.Equal(t, 2, f.d.Pending(), "only the failed batch waits for retry")
}

func TestFlush_MixedRetryCountsBackOffSeparately(t *testing.T) {
	f := newFixture(t, dispatch.Config{
		Retry: berrors.RetryConfig{MaxAttempts: 5, BaseDelay: time.Second},
	}, queue.Config{})
	f.tr.fail = alwaysFail

	f.queue.Requeue([]queue.Item{{Event: evt("old"), Retries: 2}})
	f.enqueue("new")

	require.Error(t, f.d.Flush(context.Background()))
	assert.Equal(t, 2, f.d.Pending())

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"new"}, queuedIDs(f.queue))

	f.clock.Advance(6 * time.Second)
	assert.Equal(t, []string{"old", "new"}, queuedIDs(f.queue))
}

func TestFlush_TransformFailureIsBatchFailure(t *testing.T) {
	f := newFixture(t, dispatch.Config{}, queue.Config{})
	bad := evt("nan")
	bad.Properties = event.Properties{"v": event.Number(math.NaN())}
	f.queue.Enqueue(bad)

	err := f.d.Flush(context.Background())

	var encErr *berrors.EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Zero(t, f.tr.calls(), "transport never sees a malformed batch")
	assert.Equal(t, 1, f.d.Pending())
}

func TestFlush_DropPermanent(t *testing.T) {
	f := newFixture(t, dispatch.Config{DropPermanent: true}, queue.Config{})
	f.tr.fail = func([]transport.WireEvent) error {
		return &berrors.HTTPError{StatusCode: 400, Message: "bad request"}
	}
	f.enqueue("a", "b")

	require.Error(t, f.d.Flush(context.Background()))
	assert.Zero(t, f.d.Pending())
	assert.Zero(t, f.clock.Pending())
}

func TestFlush_TransportPanic(t *testing.T) {
	tr := transport.Func(func(context.Context, []transport.WireEvent) error {
		panic("boom")
	})
	fc := clock.NewFake(epoch)
	q := queue.New(queue.Config{Clock: fc})
	q.Enqueue(evt("a"))
	d := dispatch.New(q, tr, dispatch.Config{Clock: fc})

	err := d.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport panic")
	assert.Equal(t, 1, d.Pending())
}

func TestStop_ReturnsPendingRetriesToQueue(t *testing.T) {
	f := newFixture(t, dispatch.Config{BatchSize: 1}, queue.Config{})
	f.tr.fail = alwaysFail
	f.enqueue("a", "b")

	require.Error(t, f.d.Flush(context.Background()))
	require.Equal(t, 2, f.d.Pending())

	f.d.Stop()
	assert.Zero(t, f.d.Pending())
	assert.Zero(t, f.clock.Pending(), "timers cancelled")
	assert.Equal(t, 2, f.queue.Size())

	// Failures after Stop go straight back to the queue.
	require.Error(t, f.d.Flush(context.Background()))
	assert.Zero(t, f.d.Pending())
	assert.Equal(t, 2, f.queue.Size())
}

// queueGauge records every queue size reported to it.
type queueGauge struct {
	observability.NoopMetrics
	mu    sync.Mutex
	sizes []int
}

func (g *queueGauge) RecordQueueSize(_ context.Context, size int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sizes = append(g.sizes, size)
}

func TestFlush_RecordsQueueSizeBeforeDraining(t *testing.T) {
	gauge := &queueGauge{}
	f := newFixture(t, dispatch.Config{Metrics: gauge}, queue.Config{})
	f.enqueue("a", "b", "c")

	require.NoError(t, f.d.Flush(context.Background()))

	gauge.mu.Lock()
	defer gauge.mu.Unlock()
	require.NotEmpty(t, gauge.sizes)
	assert.Equal(t, 3, gauge.sizes[0])
}

func TestPartition(t *testing.T) {
	items := make([]queue.Item, 7)
	got := dispatch.Partition(items, 3)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 3)
	assert.Len(t, got[2], 1)

	assert.Empty(t, dispatch.Partition(nil, 3))
	assert.Len(t, dispatch.Partition(items, 0), 1, "non-positive size falls back to the default")
}

func TestFlushError(t *testing.T) {
	err := &dispatch.FlushError{Batches: 2, Failed: 1, Err: errors.Join(errCollectorDown)}
	assert.Contains(t, err.Error(), "1 of 2 batches failed")
	assert.ErrorIs(t, err, errCollectorDown)
}
