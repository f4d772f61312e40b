package event

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
)

// Library identification stamped on every event.
const (
	LibraryName    = "beacon-go"
	LibraryVersion = "0.3.0"
)

// Sentinel errors for event construction.
var (
	// ErrMissingAnonymousID indicates an identity without an anonymous id.
	ErrMissingAnonymousID = errors.New("anonymous id is required")

	// ErrUnknownType indicates an event type outside the known set.
	ErrUnknownType = errors.New("unknown event type")
)

// Factory builds canonical events. It is safe for concurrent use.
type Factory struct {
	clock clock.Clock
	newID func() string

	mu   sync.RWMutex
	base Context
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithClock sets the clock used for timestamps. Default: clock.Real.
func WithClock(c clock.Clock) FactoryOption {
	return func(f *Factory) { f.clock = c }
}

// WithIDGenerator overrides event id generation. Default: UUIDv4.
func WithIDGenerator(gen func() string) FactoryOption {
	return func(f *Factory) { f.newID = gen }
}

// WithEnvironment sets the base context copied into every event.
// Library is always overwritten with this package's identification.
func WithEnvironment(ctx Context) FactoryOption {
	return func(f *Factory) { f.base = ctx }
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		clock: clock.Real{},
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(f)
	}
	f.base.Library = Library{Name: LibraryName, Version: LibraryVersion}
	return f
}

// SetPage replaces the page context used for subsequent events.
func (f *Factory) SetPage(page PageContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.base.Page = page
}

// Page returns the current page context.
func (f *Factory) Page() PageContext {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.base.Page
}

// BuildOption attaches optional sub-records to an event.
type BuildOption func(*Event)

// WithPerformance attaches page-load timings.
func WithPerformance(p Performance) BuildOption {
	return func(e *Event) { e.Context.Performance = &p }
}

// WithHeatmap attaches a pointer interaction.
func WithHeatmap(h Heatmap) BuildOption {
	return func(e *Event) { e.Context.Heatmap = &h }
}

// WithSession attaches a session summary.
func WithSession(s SessionContext) BuildOption {
	return func(e *Event) { e.Context.Session = &s }
}

// WithError attaches an application error.
func WithError(ec ErrorContext) BuildOption {
	return func(e *Event) { e.Context.Error = &ec }
}

// WithEventID sets a specific event id.
func WithEventID(id string) BuildOption {
	return func(e *Event) { e.ID = id }
}

// Build stamps a raw (type, name, properties) tuple into an Event.
// The properties map is copied. Non-finite numbers are rejected with
// ErrUnsupportedValue.
func (f *Factory) Build(typ Type, name string, props Properties, id Identity, opts ...BuildOption) (Event, error) {
	if !typ.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if id.AnonymousID == "" {
		return Event{}, ErrMissingAnonymousID
	}
	for k, v := range props {
		if v.Kind() == KindNumber && !isFinite(v.AsNumber()) {
			return Event{}, fmt.Errorf("property %q: %w", k, ErrUnsupportedValue)
		}
	}

	f.mu.RLock()
	ctx := f.base
	f.mu.RUnlock()

	evt := Event{
		ID:          f.newID(),
		AnonymousID: id.AnonymousID,
		UserID:      id.UserID,
		SessionID:   id.SessionID,
		Timestamp:   f.clock.Now().UTC(),
		Type:        typ,
		Name:        name,
		Properties:  props.Clone(),
		Context:     ctx,
	}
	for _, opt := range opts {
		opt(&evt)
	}
	if p := evt.Context.Performance; p != nil {
		for _, f := range []float64{p.LoadTime, p.DOMContentLoaded, p.FirstContentfulPaint,
			p.LargestContentfulPaint, p.FirstInputDelay, p.CumulativeLayoutShift} {
			if !isFinite(f) {
				return Event{}, fmt.Errorf("performance timing: %w", ErrUnsupportedValue)
			}
		}
	}
	return evt, nil
}
