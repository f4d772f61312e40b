// Package funnel tracks named multi-step progressions.
//
// Each funnel moves NotStarted → Active → Completed | Abandoned. An active
// funnel left untouched for the abandonment timeout is abandoned with reason
// "timeout". Transitions are reported through an Emitter as funnel_step,
// funnel_completed and funnel_abandoned events.
package funnel

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
	"github.com/randalmurphal/beacon/pkg/beacon/event"
)

// DefaultTimeout is how long an untouched funnel stays active.
const DefaultTimeout = 5 * time.Minute

// typicalFunnelSteps is the funnel length completion percentage assumes.
const typicalFunnelSteps = 5

// Emitted event names.
const (
	EventStep      = "funnel_step"
	EventCompleted = "funnel_completed"
	EventAbandoned = "funnel_abandoned"
)

// StartStep is the synthetic step name reported by Start.
const StartStep = "start"

// ReasonTimeout is the abandon reason used when the timer fires.
const ReasonTimeout = "timeout"

// Emitter receives funnel transition events.
type Emitter func(name string, props event.Properties)

// State is a copy of one active funnel's progress.
type State struct {
	Name        string    `json:"name"`
	CurrentStep int       `json:"current_step"`
	Steps       []string  `json:"steps"`
	StartTime   time.Time `json:"start_time"`
	LastStepAt  time.Time `json:"last_step_at"`
}

type funnelState struct {
	State
	timer clock.Timer
	gen   int
}

// Engine holds every active funnel. It is safe for concurrent use.
type Engine struct {
	clock   clock.Clock
	timeout time.Duration
	emit    Emitter
	logger  *slog.Logger

	mu      sync.Mutex
	funnels map[string]*funnelState
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock. Default: clock.Real.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTimeout sets the abandonment timeout. Default: 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine that reports transitions to emit.
func New(emit Emitter, opts ...Option) *Engine {
	e := &Engine{
		clock:   clock.Real{},
		timeout: DefaultTimeout,
		emit:    emit,
		funnels: make(map[string]*funnelState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.emit == nil {
		e.emit = func(string, event.Properties) {}
	}
	return e
}

// Start begins (or restarts) the named funnel. Any prior state and timer
// for the name are discarded.
func (e *Engine) Start(name string, props event.Properties) {
	now := e.clock.Now()

	e.mu.Lock()
	if prior, ok := e.funnels[name]; ok {
		prior.timer.Stop()
		delete(e.funnels, name)
	}
	st := &funnelState{State: State{
		Name:       name,
		Steps:      []string{},
		StartTime:  now,
		LastStepAt: now,
	}}
	e.funnels[name] = st
	e.armLocked(st)
	e.mu.Unlock()

	e.emit(EventStep, props.Merge(event.Properties{
		"funnel_name": event.String(name),
		"step_name":   event.String(StartStep),
		"step_number": event.Int(0),
	}))
}

// Advance records step as completed. Unknown funnels are ignored with a
// warning.
func (e *Engine) Advance(name, step string, props event.Properties) {
	now := e.clock.Now()

	e.mu.Lock()
	st, ok := e.funnels[name]
	if !ok {
		e.mu.Unlock()
		e.warnUnknown("advance", name)
		return
	}
	previous := StartStep
	if n := len(st.Steps); n > 0 {
		previous = st.Steps[n-1]
	}
	st.CurrentStep++
	st.Steps = append(st.Steps, step)
	st.LastStepAt = now
	stepNumber := st.CurrentStep
	completed := len(st.Steps)
	elapsed := now.Sub(st.StartTime)
	e.armLocked(st)
	e.mu.Unlock()

	e.emit(EventStep, props.Merge(event.Properties{
		"funnel_name":           event.String(name),
		"step_name":             event.String(step),
		"step_number":           event.Int(stepNumber),
		"previous_step":         event.String(previous),
		"time_in_funnel":        event.Number(float64(elapsed.Milliseconds())),
		"total_steps_completed": event.Int(completed),
	}))
}

// Complete finishes the named funnel and discards its state.
func (e *Engine) Complete(name string, props event.Properties) {
	now := e.clock.Now()

	e.mu.Lock()
	st, ok := e.take(name)
	e.mu.Unlock()
	if !ok {
		e.warnUnknown("complete", name)
		return
	}

	e.emit(EventCompleted, props.Merge(event.Properties{
		"funnel_name":    event.String(name),
		"total_steps":    event.Int(len(st.Steps)),
		"steps":          event.String(strings.Join(st.Steps, ",")),
		"time_in_funnel": event.Number(float64(now.Sub(st.StartTime).Milliseconds())),
	}))
}

// Abandon ends the named funnel with reason and discards its state.
func (e *Engine) Abandon(name, reason string) {
	now := e.clock.Now()

	e.mu.Lock()
	st, ok := e.take(name)
	e.mu.Unlock()
	if !ok {
		e.warnUnknown("abandon", name)
		return
	}
	e.emitAbandoned(st, reason, now)
}

// State returns a copy of the named funnel's progress.
func (e *Engine) State(name string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.funnels[name]
	if !ok {
		return State{}, false
	}
	out := st.State
	out.Steps = append([]string(nil), st.Steps...)
	return out, true
}

// Active returns the names of all active funnels, sorted.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.funnels))
	for name := range e.funnels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop cancels every abandonment timer and discards all state without
// emitting events.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, st := range e.funnels {
		st.timer.Stop()
		delete(e.funnels, name)
	}
}

// take removes a funnel and cancels its timer. Caller must hold e.mu.
func (e *Engine) take(name string) (*funnelState, bool) {
	st, ok := e.funnels[name]
	if !ok {
		return nil, false
	}
	st.timer.Stop()
	delete(e.funnels, name)
	return st, true
}

// armLocked (re)starts the abandonment timer. Caller must hold e.mu.
func (e *Engine) armLocked(st *funnelState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = e.clock.AfterFunc(e.timeout, func() { e.onTimeout(st, gen) })
}

func (e *Engine) onTimeout(st *funnelState, gen int) {
	e.mu.Lock()
	// Restarted or re-armed funnels have moved on from this callback.
	if e.funnels[st.Name] != st || st.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.funnels, st.Name)
	e.mu.Unlock()

	e.emitAbandoned(st, ReasonTimeout, e.clock.Now())
}

func (e *Engine) emitAbandoned(st *funnelState, reason string, now time.Time) {
	lastStep := StartStep
	if n := len(st.Steps); n > 0 {
		lastStep = st.Steps[n-1]
	}
	pct := math.Min(float64(st.CurrentStep)/typicalFunnelSteps*100, 100)

	e.emit(EventAbandoned, event.Properties{
		"funnel_name":           event.String(st.Name),
		"abandon_reason":        event.String(reason),
		"abandoned_at_step":     event.Int(st.CurrentStep),
		"last_step":             event.String(lastStep),
		"steps_completed_count": event.Int(len(st.Steps)),
		"completion_percentage": event.Number(pct),
		"time_in_funnel":        event.Number(float64(now.Sub(st.StartTime).Milliseconds())),
	})
}

func (e *Engine) warnUnknown(op, name string) {
	if e.logger == nil {
		return
	}
	e.logger.Warn("funnel not started",
		slog.String("operation", op),
		slog.String("funnel", name))
}
