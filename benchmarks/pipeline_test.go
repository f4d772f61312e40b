package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
	"github.com/randalmurphal/beacon/pkg/beacon/dispatch"
	"github.com/randalmurphal/beacon/pkg/beacon/event"
	"github.com/randalmurphal/beacon/pkg/beacon/queue"
	"github.com/randalmurphal/beacon/pkg/beacon/transport"
)

var discard = transport.Func(func(context.Context, []transport.WireEvent) error { return nil })

func newFactory() *event.Factory {
	return event.NewFactory(event.WithClock(clock.NewFake(time.Unix(0, 0))))
}

func buildEvents(n int) []event.Event {
	f := newFactory()
	out := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		e, err := f.Build(event.TypeTrack, "button_clicked", event.Properties{
			"index":  event.Int(i),
			"button": event.String("buy"),
		}, event.Identity{AnonymousID: "anon", SessionID: "sess"})
		if err != nil {
			panic(err)
		}
		out = append(out, e)
	}
	return out
}

// BenchmarkFactory_Build builds one event with properties.
func BenchmarkFactory_Build(b *testing.B) {
	f := newFactory()
	props := event.Properties{"plan": event.String("pro"), "seats": event.Int(5)}
	id := event.Identity{AnonymousID: "anon", SessionID: "sess"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.Build(event.TypeTrack, "signup", props, id)
	}
}

// BenchmarkQueue_EnqueueBounded enqueues into a full queue, evicting on
// every call.
func BenchmarkQueue_EnqueueBounded(b *testing.B) {
	q := queue.New(queue.Config{MaxSize: 1000})
	evt := buildEvents(1)[0]
	for i := 0; i < 1000; i++ {
		q.Enqueue(evt)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Enqueue(evt)
	}
}

// BenchmarkTransform converts one event to wire format.
func BenchmarkTransform(b *testing.B) {
	evt := buildEvents(1)[0]
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = transport.Transform(evt)
	}
}

// BenchmarkPartition splits 1000 items into batches of 10.
func BenchmarkPartition(b *testing.B) {
	events := buildEvents(1000)
	items := make([]queue.Item, len(events))
	for i, e := range events {
		items[i] = queue.Item{Event: e}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = dispatch.Partition(items, 10)
	}
}

// BenchmarkFlush drains a queue through a no-op transport.
func BenchmarkFlush(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("events_%d", n), func(b *testing.B) {
			events := buildEvents(n)
			q := queue.New(queue.Config{MaxSize: n})
			d := dispatch.New(q, discard, dispatch.DefaultConfig)
			ctx := context.Background()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				for _, e := range events {
					q.Enqueue(e)
				}
				b.StartTimer()
				_ = d.Flush(ctx)
			}
		})
	}
}
