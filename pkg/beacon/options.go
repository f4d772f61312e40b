package beacon

import (
	"log/slog"

	"github.com/randalmurphal/beacon/pkg/beacon/clock"
	"github.com/randalmurphal/beacon/pkg/beacon/event"
	"github.com/randalmurphal/beacon/pkg/beacon/identity"
	"github.com/randalmurphal/beacon/pkg/beacon/observability"
	"github.com/randalmurphal/beacon/pkg/beacon/transport"
)

// options holds the collaborators a Client is built with.
type options struct {
	transport   transport.Transport
	clock       clock.Clock
	logger      *slog.Logger
	identities  identity.Store
	recorder    Recorder
	detector    Detector
	environment event.Context
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
	newID       func() string
}

// Option configures a Client.
type Option func(*options)

// WithTransport replaces the transport built from settings. The client
// does not close a transport supplied this way.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithClock sets the clock driving every timer.
// Default: clock.Real
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger. Without it the client logs to stderr in
// debug mode and discards output otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIdentityStore replaces the identity store built from settings. The
// client does not close a store supplied this way.
func WithIdentityStore(s identity.Store) Option {
	return func(o *options) { o.identities = s }
}

// WithRecorder sets the session recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithDetector sets the subscription detector consulted by Identify.
func WithDetector(d Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithEnvironment sets the context stamped on every event, such as user
// agent, locale and screen size.
func WithEnvironment(ctx event.Context) Option {
	return func(o *options) { o.environment = ctx }
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithSpans sets the span manager.
// Default: observability.NoopSpanManager
func WithSpans(s observability.SpanManager) Option {
	return func(o *options) { o.spans = s }
}

// WithOpenTelemetry records metrics and traces through the global
// OpenTelemetry providers.
func WithOpenTelemetry() Option {
	return func(o *options) {
		o.metrics = observability.NewMetricsRecorder()
		o.spans = observability.NewSpanManager()
	}
}

// WithIDGenerator overrides generation of event, session and anonymous ids.
// Default: UUIDv4
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}
