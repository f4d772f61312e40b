// Package queue provides the bounded in-memory buffer of events awaiting
// delivery.
//
// The queue never blocks and never fails: when an insert would exceed the
// bound, the oldest items are evicted first. Contents live only in memory
// and are lost with the process.
package queue

import (
	"sync"
	"time"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
	"github.com/randalmurphal/beacon/pkg/beacon/event"
)

// Ordering controls where failed items are reinserted.
type Ordering int

const (
	// RequeueFront puts retried items ahead of everything enqueued since.
	RequeueFront Ordering = iota

	// RequeueBack appends retried items, keeping strict arrival order
	// for fresh events at the cost of delaying retries.
	RequeueBack
)

// String returns the ordering name.
func (o Ordering) String() string {
	switch o {
	case RequeueFront:
		return "front"
	case RequeueBack:
		return "back"
	default:
		return "unknown"
	}
}

// ParseOrdering converts "front"/"back" to an Ordering. Unknown values
// return RequeueFront.
func ParseOrdering(s string) Ordering {
	if s == "back" {
		return RequeueBack
	}
	return RequeueFront
}

// Item is a queued event with its delivery bookkeeping.
type Item struct {
	Event      event.Event
	Retries    int
	EnqueuedAt time.Time
}

// Config configures a Queue.
type Config struct {
	// MaxSize bounds the number of queued items.
	// Default: 1000
	MaxSize int

	// Ordering selects retry reinsertion behaviour.
	// Default: RequeueFront
	Ordering Ordering

	// Clock stamps EnqueuedAt.
	// Default: clock.Real
	Clock clock.Clock

	// OnEvict is called with items removed to make room. It runs under
	// the queue lock and must not call back into the queue.
	OnEvict func([]Item)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxSize: 1000,
}

// Queue is a bounded FIFO of undelivered events. It is safe for
// concurrent use.
type Queue struct {
	cfg Config

	mu    sync.Mutex
	items []Item

	// Metrics
	enqueued int64
	evicted  int64
	requeued int64
}

// New creates a Queue.
func New(cfg Config) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig.MaxSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Queue{cfg: cfg}
}

// Enqueue appends evt, evicting the oldest items if the queue is full.
// It returns the new size.
func (q *Queue) Enqueue(evt event.Event) int {
	item := Item{Event: evt, EnqueuedAt: q.cfg.Clock.Now()}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.makeRoomLocked(1)
	q.items = append(q.items, item)
	q.enqueued++
	return len(q.items)
}

// Requeue reinserts items that failed delivery, keeping their retry
// counts. Placement follows the configured Ordering; the size bound still
// applies, evicting from the front.
func (q *Queue) Requeue(items []Item) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeued += int64(len(items))
	if q.cfg.Ordering == RequeueBack {
		q.items = append(q.items, items...)
	} else {
		merged := make([]Item, 0, len(items)+len(q.items))
		merged = append(merged, items...)
		merged = append(merged, q.items...)
		q.items = merged
	}
	if over := len(q.items) - q.cfg.MaxSize; over > 0 {
		q.evictLocked(over)
	}
}

// DrainAll removes and returns every queued item in order.
func (q *Queue) DrainAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards every queued item.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// MaxSize returns the configured bound.
func (q *Queue) MaxSize() int {
	return q.cfg.MaxSize
}

// makeRoomLocked evicts enough of the oldest items that n more fit.
func (q *Queue) makeRoomLocked(n int) {
	if over := len(q.items) + n - q.cfg.MaxSize; over > 0 {
		q.evictLocked(over)
	}
}

func (q *Queue) evictLocked(n int) {
	if n > len(q.items) {
		n = len(q.items)
	}
	evicted := make([]Item, n)
	copy(evicted, q.items[:n])
	q.items = append([]Item(nil), q.items[n:]...)
	q.evicted += int64(n)

	if q.cfg.OnEvict != nil {
		q.cfg.OnEvict(evicted)
	}
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Size:     len(q.items),
		Enqueued: q.enqueued,
		Evicted:  q.evicted,
		Requeued: q.requeued,
	}
}

// Stats provides statistics about the queue.
type Stats struct {
	Size     int   // Current queue size
	Enqueued int64 // Total events enqueued
	Evicted  int64 // Total items evicted by overflow
	Requeued int64 // Total items reinserted after failure
}
