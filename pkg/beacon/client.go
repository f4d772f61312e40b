package beacon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
	"github.com/randalmurphal/beacon/pkg/beacon/config"
	"github.com/randalmurphal/beacon/pkg/beacon/dispatch"
	"github.com/randalmurphal/beacon/pkg/beacon/event"
	"github.com/randalmurphal/beacon/pkg/beacon/funnel"
	"github.com/randalmurphal/beacon/pkg/beacon/identity"
	"github.com/randalmurphal/beacon/pkg/beacon/observability"
	"github.com/randalmurphal/beacon/pkg/beacon/queue"
	"github.com/randalmurphal/beacon/pkg/beacon/session"
	"github.com/randalmurphal/beacon/pkg/beacon/transport"
)

// Client is a telemetry pipeline. Create one with New; it is safe for
// concurrent use.
type Client struct {
	settings config.Settings
	clock    clock.Clock
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	newID    func() string

	factory    *event.Factory
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	sessions   *session.Tracker
	funnels    *funnel.Engine
	identities identity.Store
	recorder   Recorder
	detector   Detector

	// owned resources are released after the final flush.
	owned []func() error

	// flushing guards against piling up size-triggered flushes.
	flushing atomic.Bool
	inflight sync.WaitGroup

	mu          sync.Mutex
	anonymousID string
	userID      string
	traits      event.Properties
	prevSeen    time.Time
	flushTimer  clock.Timer
	closed      bool
}

// New builds a Client from validated settings and starts its session and
// flush timer.
func New(settings config.Settings, opts ...Option) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}
	if o.logger == nil {
		o.logger = observability.NewLogger(settings.Debug)
	}
	if o.metrics == nil {
		o.metrics = observability.NoopMetrics{}
	}
	if o.spans == nil {
		o.spans = observability.NoopSpanManager{}
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.New().String() }
	}

	c := &Client{
		settings: settings,
		clock:    o.clock,
		logger:   o.logger,
		metrics:  o.metrics,
		newID:    o.newID,
		recorder: o.recorder,
		detector: o.detector,
	}

	if err := c.openIdentity(o.identities); err != nil {
		return nil, err
	}

	tr := o.transport
	if tr == nil {
		var err error
		if tr, err = c.buildTransport(); err != nil {
			c.releaseOwned()
			return nil, err
		}
	}

	c.queue = queue.New(queue.Config{
		MaxSize:  settings.MaxQueueSize,
		Ordering: settings.Ordering(),
		Clock:    o.clock,
		OnEvict:  c.onEvict,
	})
	c.dispatcher = dispatch.New(c.queue, tr, dispatch.Config{
		BatchSize: settings.BatchSize,
		Retry:     settings.Retry(),
		Clock:     o.clock,
		Logger:    observability.EnrichLogger(o.logger, "dispatch", ""),
		Metrics:   o.metrics,
		Spans:     o.spans,
	})
	c.factory = event.NewFactory(
		event.WithClock(o.clock),
		event.WithIDGenerator(o.newID),
		event.WithEnvironment(o.environment),
	)
	c.sessions = session.NewTracker(
		session.WithClock(o.clock),
		session.WithTimeout(settings.SessionTimeout),
		session.WithIDGenerator(o.newID),
		session.WithOnEnd(c.onSessionEnd),
		session.WithLogger(o.logger),
	)
	c.funnels = funnel.New(c.onFunnelEvent,
		funnel.WithClock(o.clock),
		funnel.WithTimeout(settings.FunnelTimeout),
		funnel.WithLogger(o.logger),
	)

	c.mu.Lock()
	c.armFlushLocked()
	c.mu.Unlock()

	o.logger.Debug("beacon client started",
		slog.String("project_id", settings.ProjectID),
		slog.String("anonymous_id", c.anonymousID),
		slog.String("session_id", c.sessions.ID()),
	)
	return c, nil
}

// openIdentity restores the persisted identity, creating one on first run.
func (c *Client) openIdentity(store identity.Store) error {
	if store == nil {
		switch c.settings.IdentityStore {
		case config.IdentitySQLite:
			s, err := identity.NewSQLiteStore(c.settings.IdentityPath)
			if err != nil {
				return fmt.Errorf("open identity store: %w", err)
			}
			store = s
		default:
			store = identity.NewMemoryStore()
		}
		c.owned = append(c.owned, store.Close)
	}
	c.identities = store

	profile, err := store.Load(c.settings.ProjectID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		profile = identity.Profile{AnonymousID: c.newID()}
	case err != nil:
		c.releaseOwned()
		return fmt.Errorf("load identity: %w", err)
	}
	if profile.AnonymousID == "" {
		profile.AnonymousID = c.newID()
	}

	c.anonymousID = profile.AnonymousID
	c.userID = profile.UserID
	c.traits = profile.Traits
	c.prevSeen = profile.LastSeen

	profile.LastSeen = c.clock.Now()
	if err := store.Save(c.settings.ProjectID, profile); err != nil {
		c.logger.Warn("persist identity failed", slog.String("error", err.Error()))
	}
	return nil
}

func (c *Client) buildTransport() (transport.Transport, error) {
	s := c.settings
	switch s.Transport {
	case config.TransportNATS:
		n, err := transport.NewNATS(s.NATSURL, s.NATSSubject, s.ProjectID)
		if err != nil {
			return nil, err
		}
		c.owned = append(c.owned, n.Close)
		return n, nil
	default:
		burst := max(1, int(s.RateLimit))
		return transport.NewHTTP(s.Endpoint, s.APIKey, s.ProjectID,
			transport.WithTimeout(s.HTTPTimeout),
			transport.WithRateLimit(s.RateLimit, burst),
			transport.WithBreaker(transport.BreakerConfig{
				FailureThreshold: uint32(s.BreakerFailures),
				OpenTimeout:      transport.DefaultBreakerConfig.OpenTimeout,
			}),
			transport.WithHTTPLogger(observability.EnrichLogger(c.logger, "transport", "")),
		), nil
	}
}

// identitySnapshot returns the identity stamped on new events.
func (c *Client) identitySnapshot() event.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return event.Identity{AnonymousID: c.anonymousID, UserID: c.userID}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// record builds an event for the current session and enqueues it.
func (c *Client) record(typ event.Type, name string, props event.Properties, opts ...event.BuildOption) {
	id := c.identitySnapshot()
	id.SessionID = c.sessions.ID()
	c.enqueue(typ, name, props, id, opts...)
}

func (c *Client) enqueue(typ event.Type, name string, props event.Properties, id event.Identity, opts ...event.BuildOption) {
	evt, err := c.factory.Build(typ, name, props, id, opts...)
	if err != nil {
		c.logger.Warn("event rejected",
			slog.String("type", string(typ)),
			slog.String("name", name),
			slog.String("error", err.Error()))
		return
	}

	size := c.queue.Enqueue(evt)
	ctx := context.Background()
	c.metrics.RecordEnqueued(ctx, string(typ))
	c.metrics.RecordQueueSize(ctx, size)

	if size >= c.settings.BatchSize {
		c.flushAsync()
	}
}

func (c *Client) onEvict(items []queue.Item) {
	c.metrics.RecordEvicted(context.Background(), len(items))
	for _, item := range items {
		observability.LogEventEvicted(c.logger, item.Event.ID, c.settings.MaxQueueSize)
	}
}

// flushAsync starts a background flush unless one is already running.
func (c *Client) flushAsync() {
	if !c.flushing.CompareAndSwap(false, true) {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer c.flushing.Store(false)
		if err := c.dispatcher.Flush(context.Background()); err != nil {
			c.logger.Debug("background flush failed", slog.String("error", err.Error()))
		}
	}()
}

func (c *Client) armFlushLocked() {
	c.flushTimer = c.clock.AfterFunc(c.settings.FlushInterval, c.onFlushTick)
}

func (c *Client) onFlushTick() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.armFlushLocked()
	c.mu.Unlock()

	if c.queue.Size() > 0 {
		c.flushAsync()
	}
}

// Flush delivers everything queued and waits for every batch to settle.
// Failed batches are already scheduled for retry when the returned
// *dispatch.FlushError reports them.
func (c *Client) Flush(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.dispatcher.Flush(ctx)
}

// QueueSize returns the number of undelivered events.
func (c *Client) QueueSize() int {
	return c.queue.Size()
}

// Close stops every timer, seals the session (emitting session_end) and
// starts a final best-effort flush without waiting for it. Later calls
// are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.mu.Unlock()

	c.funnels.Stop()
	c.sessions.End()
	c.dispatcher.Stop()
	if c.recorder != nil {
		if err := c.recorder.Stop(); err != nil {
			c.logger.Debug("stop recorder failed", slog.String("error", err.Error()))
		}
	}
	c.persistIdentity()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := c.dispatcher.Flush(context.Background()); err != nil {
			c.logger.Debug("final flush failed", slog.String("error", err.Error()))
		}
		// Retries scheduled by the final flush went straight back to the
		// queue; nothing will send them.
		c.queue.Clear()
		c.releaseOwned()
	}()
	return nil
}

// Shutdown closes the client and waits for in-flight flushes, including
// the final one, or for ctx to end.
func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.Close(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) releaseOwned() {
	for _, release := range c.owned {
		if err := release(); err != nil {
			c.logger.Debug("release resource failed", slog.String("error", err.Error()))
		}
	}
	c.owned = nil
}

// persistIdentity saves the current identity with a fresh last-seen time.
func (c *Client) persistIdentity() {
	c.mu.Lock()
	profile := identity.Profile{
		AnonymousID: c.anonymousID,
		UserID:      c.userID,
		Traits:      c.traits.Clone(),
		LastSeen:    c.clock.Now(),
	}
	c.mu.Unlock()

	if err := c.identities.Save(c.settings.ProjectID, profile); err != nil {
		c.logger.Warn("persist identity failed", slog.String("error", err.Error()))
	}
}
