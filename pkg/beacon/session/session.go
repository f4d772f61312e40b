// Package session tracks the current visit: counters for page views, clicks
// and scrolling, an inactivity timeout that seals the visit, and derived
// engagement scores.
package session

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
	"github.com/randalmurphal/beacon/pkg/beacon/metrics"
)

// DefaultTimeout is the inactivity window after which a session ends.
const DefaultTimeout = 30 * time.Minute

// Signal is a user-activity signal that keeps a session alive.
type Signal string

// Activity signals.
const (
	SignalPageView  Signal = "page_view"
	SignalClick     Signal = "click"
	SignalScroll    Signal = "scroll"
	SignalKeypress  Signal = "keypress"
	SignalMouseMove Signal = "mouse_move"
	SignalTouch     Signal = "touch"
)

// Valid reports whether s is a known signal.
func (s Signal) Valid() bool {
	switch s {
	case SignalPageView, SignalClick, SignalScroll, SignalKeypress, SignalMouseMove, SignalTouch:
		return true
	}
	return false
}

// Record is a snapshot of one session window.
type Record struct {
	ID               string        `json:"id"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time,omitempty"`
	Duration         time.Duration `json:"duration"`
	PageViews        int           `json:"page_views"`
	ClickEvents      int           `json:"click_events"`
	ScrollEvents     int           `json:"scroll_events"`
	ScrollDepth      float64       `json:"scroll_depth"`
	MaxScrollDepth   float64       `json:"max_scroll_depth"`
	IsActive         bool          `json:"is_active"`
	EngagementScore  float64       `json:"engagement_score"`
	BounceLikelihood float64       `json:"bounce_likelihood"`
	Channel          string        `json:"channel,omitempty"`
}

// Input converts the record into scoring input.
func (r Record) Input() metrics.SessionInput {
	return metrics.SessionInput{
		PageViews:    r.PageViews,
		ClickEvents:  r.ClickEvents,
		ScrollEvents: r.ScrollEvents,
		ScrollDepth:  r.ScrollDepth,
		Duration:     r.Duration,
	}
}

// Tracker owns the live session record. It is safe for concurrent use.
type Tracker struct {
	clock   clock.Clock
	timeout time.Duration
	newID   func() string
	onEnd   func(Record)
	logger  *slog.Logger

	mu      sync.Mutex
	current Record
	timer   clock.Timer
	ended   bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock. Default: clock.Real.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithTimeout sets the inactivity timeout. Default: 30 minutes.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithIDGenerator overrides session id generation. Default: UUIDv4.
func WithIDGenerator(gen func() string) Option {
	return func(t *Tracker) { t.newID = gen }
}

// WithOnEnd sets the hook invoked with each sealed record. It runs
// outside the tracker lock.
func WithOnEnd(fn func(Record)) Option {
	return func(t *Tracker) { t.onEnd = fn }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker with a fresh active session.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		clock:   clock.Real{},
		timeout: DefaultTimeout,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(t)
	}

	t.mu.Lock()
	t.startLocked("")
	t.mu.Unlock()
	return t
}

// ID returns the current session id.
func (t *Tracker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.ID
}

// Record registers an activity signal and resets the inactivity timer.
func (t *Tracker) Record(sig Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ended {
		return
	}
	switch sig {
	case SignalPageView:
		t.current.PageViews++
	case SignalClick:
		t.current.ClickEvents++
	case SignalScroll:
		t.current.ScrollEvents++
	}
	t.armLocked()
}

// Scroll registers a scroll to depthPct (0-100) of the page. A NaN depth
// counts as 0.
func (t *Tracker) Scroll(depthPct float64) {
	if math.IsNaN(depthPct) {
		depthPct = 0
	}
	depth := math.Max(0, math.Min(depthPct, 100))

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ended {
		return
	}
	t.current.ScrollEvents++
	t.current.ScrollDepth = depth
	if depth > t.current.MaxScrollDepth {
		t.current.MaxScrollDepth = depth
	}
	t.armLocked()
}

// SetChannel records the acquisition channel if none is set yet.
func (t *Tracker) SetChannel(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.Channel == "" {
		t.current.Channel = channel
	}
}

// Snapshot returns the current record with live duration and scores.
func (t *Tracker) Snapshot() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scoredLocked(t.clock.Now())
}

// Rotate seals the current session and starts a new one. The sealed
// record is passed to the end hook and returned.
func (t *Tracker) Rotate() Record {
	t.mu.Lock()
	sealed, ok := t.sealLocked()
	t.ended = false
	t.startLocked(sealed.Channel)
	t.mu.Unlock()

	if ok {
		t.emit(sealed)
	}
	return sealed
}

// End seals the current session without starting another. Later signals
// are ignored until Rotate is called.
func (t *Tracker) End() Record {
	t.mu.Lock()
	sealed, ok := t.sealLocked()
	t.mu.Unlock()

	if ok {
		t.emit(sealed)
	}
	return sealed
}

func (t *Tracker) onTimeout(sessionID string) {
	t.mu.Lock()
	if t.ended || t.current.ID != sessionID {
		t.mu.Unlock()
		return
	}
	sealed, _ := t.sealLocked()
	t.ended = false
	t.startLocked(sealed.Channel)
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Debug("session timed out",
			slog.String("session_id", sealed.ID),
			slog.Duration("duration", sealed.Duration))
	}
	t.emit(sealed)
}

// sealLocked ends the current record. ok is false if it was already sealed.
func (t *Tracker) sealLocked() (Record, bool) {
	if t.ended {
		return t.current, false
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	now := t.clock.Now()
	sealed := t.scoredLocked(now)
	sealed.IsActive = false
	sealed.EndTime = now
	t.current = sealed
	t.ended = true
	return sealed, true
}

// startLocked replaces the current record with a fresh active one.
// Attribution carries over within one visitor's stream of sessions.
func (t *Tracker) startLocked(channel string) {
	t.current = Record{
		ID:        t.newID(),
		StartTime: t.clock.Now(),
		IsActive:  true,
		Channel:   channel,
	}
	t.armLocked()
}

func (t *Tracker) armLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	id := t.current.ID
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.onTimeout(id) })
}

func (t *Tracker) scoredLocked(now time.Time) Record {
	r := t.current
	if r.IsActive {
		r.Duration = now.Sub(r.StartTime)
	}
	in := r.Input()
	r.EngagementScore = metrics.EngagementScore(in)
	r.BounceLikelihood = metrics.BounceLikelihood(in)
	return r
}

func (t *Tracker) emit(r Record) {
	if t.onEnd != nil {
		t.onEnd(r)
	}
}
