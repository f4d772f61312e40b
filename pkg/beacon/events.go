package beacon

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/beacon/pkg/beacon/event"
	"github.com/randalmurphal/beacon/pkg/beacon/funnel"
	"github.com/randalmurphal/beacon/pkg/beacon/metrics"
	"github.com/randalmurphal/beacon/pkg/beacon/observability"
	"github.com/randalmurphal/beacon/pkg/beacon/session"
)

// Track records a named custom event.
func (c *Client) Track(name string, props event.Properties) {
	if c.isClosed() {
		return
	}
	c.record(event.TypeTrack, name, props)
}

// Page records a page view. The page becomes the context of subsequent
// events; the first page of a session also attributes its acquisition
// channel from the URL's UTM parameters and the referrer.
func (c *Client) Page(page event.PageContext, props event.Properties) {
	if c.isClosed() {
		return
	}
	c.factory.SetPage(page)
	c.sessions.SetChannel(session.AttributeURL(page.URL, page.Referrer))
	c.sessions.Record(session.SignalPageView)
	c.record(event.TypePage, page.Title, props)
}

// Identify associates the anonymous visitor with userID and merges traits
// into the stored profile. A configured Detector is consulted first; its
// findings never override caller-supplied traits.
func (c *Client) Identify(ctx context.Context, userID string, traits event.Properties) {
	if c.isClosed() {
		return
	}

	merged := traits.Clone()
	if c.detector != nil {
		det, err := c.detector.Detect(ctx)
		switch {
		case err != nil:
			c.logger.Debug("subscription detection failed", slog.String("error", err.Error()))
		case det.Provider != "":
			detected := det.Subscription.Clone()
			detected["subscription_provider"] = event.String(det.Provider)
			detected["subscription_confidence"] = event.Number(det.Confidence)
			merged = detected.Merge(merged)
		}
	}

	c.mu.Lock()
	c.userID = userID
	c.traits = c.traits.Merge(merged)
	c.mu.Unlock()
	c.persistIdentity()

	c.record(event.TypeIdentify, "", merged)
}

// Alias links newID to previousID. An empty previousID means the current
// user id, or the anonymous id if the visitor was never identified.
func (c *Client) Alias(newID, previousID string) {
	if c.isClosed() {
		return
	}

	c.mu.Lock()
	if previousID == "" {
		previousID = c.userID
		if previousID == "" {
			previousID = c.anonymousID
		}
	}
	c.userID = newID
	c.mu.Unlock()
	c.persistIdentity()

	c.record(event.TypeAlias, "", event.Properties{
		"previous_id": event.String(previousID),
		"user_id":     event.String(newID),
	})
}

// Reset forgets the identified user: active funnels are dropped, the
// session is ended and restarted, and a new anonymous id is issued.
func (c *Client) Reset() {
	if c.isClosed() {
		return
	}

	c.funnels.Stop()
	c.sessions.Rotate()

	c.mu.Lock()
	c.anonymousID = c.newID()
	c.userID = ""
	c.traits = nil
	c.mu.Unlock()

	if err := c.identities.Delete(c.settings.ProjectID); err != nil {
		c.logger.Warn("delete identity failed", slog.String("error", err.Error()))
	}
	c.persistIdentity()
}

// AnonymousID returns the current anonymous id.
func (c *Client) AnonymousID() string {
	return c.identitySnapshot().AnonymousID
}

// UserID returns the identified user id, or "" if anonymous.
func (c *Client) UserID() string {
	return c.identitySnapshot().UserID
}

// TrackError records an application error.
func (c *Client) TrackError(ec event.ErrorContext, props event.Properties) {
	if c.isClosed() {
		return
	}
	props = props.Clone()
	if _, ok := props["error_message"]; !ok {
		props["error_message"] = event.String(ec.Message)
	}
	c.record(event.TypeError, "error", props, event.WithError(ec))
}

// TrackSubscription records a subscription lifecycle event such as
// subscription_started or subscription_cancelled.
func (c *Client) TrackSubscription(name string, props event.Properties) {
	if c.isClosed() {
		return
	}
	c.record(event.TypeSubscription, name, props)
}

// TrackPayment records a payment event such as payment_succeeded or
// payment_failed.
func (c *Client) TrackPayment(name string, props event.Properties) {
	if c.isClosed() {
		return
	}
	c.record(event.TypePayment, name, props)
}

// TrackHeatmap records a pointer interaction. Clicks also count as
// session activity.
func (c *Client) TrackHeatmap(h event.Heatmap) {
	if c.isClosed() {
		return
	}
	if h.Interaction == "click" {
		c.sessions.Record(session.SignalClick)
	}
	c.record(event.TypeHeatmap, "heatmap", nil, event.WithHeatmap(h))
}

// TrackPerformance records page-load timings for the current page.
func (c *Client) TrackPerformance(p event.Performance) {
	if c.isClosed() {
		return
	}
	c.record(event.TypeTrack, "page_performance", nil, event.WithPerformance(p))
}

// StartFunnel begins (or restarts) the named funnel.
func (c *Client) StartFunnel(name string, props event.Properties) {
	if c.isClosed() {
		return
	}
	c.funnels.Start(name, props)
}

// AdvanceFunnel records that the named funnel reached step.
func (c *Client) AdvanceFunnel(name, step string, props event.Properties) {
	if c.isClosed() {
		return
	}
	c.funnels.Advance(name, step, props)
}

// CompleteFunnel marks the named funnel completed.
func (c *Client) CompleteFunnel(name string, props event.Properties) {
	if c.isClosed() {
		return
	}
	c.funnels.Complete(name, props)
}

// AbandonFunnel marks the named funnel abandoned for reason.
func (c *Client) AbandonFunnel(name, reason string) {
	if c.isClosed() {
		return
	}
	c.funnels.Abandon(name, reason)
}

// FunnelState returns a copy of the named funnel's progress.
func (c *Client) FunnelState(name string) (funnel.State, bool) {
	return c.funnels.State(name)
}

// ActiveFunnels returns the names of every funnel in progress.
func (c *Client) ActiveFunnels() []string {
	return c.funnels.Active()
}

func (c *Client) onFunnelEvent(name string, props event.Properties) {
	c.record(event.TypeTrack, name, props)
}

// RecordActivity registers a user-activity signal, keeping the session
// alive.
func (c *Client) RecordActivity(sig session.Signal) {
	if c.isClosed() || !sig.Valid() {
		return
	}
	c.sessions.Record(sig)
}

// RecordScroll registers a scroll to depthPct (0-100) of the page.
func (c *Client) RecordScroll(depthPct float64) {
	if c.isClosed() {
		return
	}
	c.sessions.Scroll(depthPct)
}

// ActiveSession returns a snapshot of the current session.
func (c *Client) ActiveSession() session.Record {
	return c.sessions.Snapshot()
}

// CalculateEngagementScore scores the current session.
func (c *Client) CalculateEngagementScore() float64 {
	return c.sessions.Snapshot().EngagementScore
}

// ChurnSignals are the account-level churn inputs the client cannot
// observe itself.
type ChurnSignals struct {
	FeatureAdoptionRate float64
	SupportTickets      int
	NegativeFeedback    int
	PaymentFailures     int
}

// CalculateChurnRisk scores churn risk from the live session's engagement,
// the days since the visitor was last seen before this process started,
// and the supplied account signals.
func (c *Client) CalculateChurnRisk(signals ChurnSignals) metrics.ChurnRisk {
	now := c.clock.Now()

	c.mu.Lock()
	prevSeen := c.prevSeen
	c.mu.Unlock()

	days := 0
	if !prevSeen.IsZero() && now.After(prevSeen) {
		days = int(now.Sub(prevSeen) / (24 * time.Hour))
	}

	return metrics.CalculateChurnRisk(metrics.ChurnFactors{
		EngagementScore:     c.CalculateEngagementScore(),
		DaysSinceLastActive: days,
		FeatureAdoptionRate: signals.FeatureAdoptionRate,
		SupportTickets:      signals.SupportTickets,
		NegativeFeedback:    signals.NegativeFeedback,
		PaymentFailures:     signals.PaymentFailures,
	}, now)
}

func (c *Client) onSessionEnd(r session.Record) {
	observability.LogSessionEnd(c.logger, r.ID, r.Duration, r.PageViews)

	props := event.Properties{
		"session_id":        event.String(r.ID),
		"duration":          event.Int(int(r.Duration.Milliseconds())),
		"page_views":        event.Int(r.PageViews),
		"click_events":      event.Int(r.ClickEvents),
		"scroll_events":     event.Int(r.ScrollEvents),
		"max_scroll_depth":  event.Number(r.MaxScrollDepth),
		"engagement_score":  event.Number(r.EngagementScore),
		"bounce_likelihood": event.Number(r.BounceLikelihood),
	}
	if r.Channel != "" {
		props["channel"] = event.String(r.Channel)
	}

	id := c.identitySnapshot()
	id.SessionID = r.ID
	c.enqueue(event.TypeSession, "session_end", props, id, event.WithSession(event.SessionContext{
		PageViews:        r.PageViews,
		DurationMs:       r.Duration.Milliseconds(),
		EngagementScore:  r.EngagementScore,
		BounceLikelihood: r.BounceLikelihood,
		Channel:          r.Channel,
	}))
}

// StartRecording starts the session recorder for the current session.
func (c *Client) StartRecording(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.recorder == nil {
		return ErrNoRecorder
	}
	return c.recorder.Start(ctx, c.sessions.ID())
}

// StopRecording stops the session recorder.
func (c *Client) StopRecording() error {
	if c.recorder == nil {
		return ErrNoRecorder
	}
	return c.recorder.Stop()
}

// PauseRecording pauses the session recorder.
func (c *Client) PauseRecording() error {
	if c.recorder == nil {
		return ErrNoRecorder
	}
	c.recorder.Pause()
	return nil
}

// ResumeRecording resumes the session recorder.
func (c *Client) ResumeRecording() error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.recorder == nil {
		return ErrNoRecorder
	}
	c.recorder.Resume()
	return nil
}
