// Package event defines the canonical analytics event and the factory that
// stamps raw (type, name, properties) tuples with identity and environment
// context.
//
// Events are immutable once built. Property values are restricted to the
// primitive kinds carried by Value; conversion from untyped maps happens at
// the construction boundary via PropertiesFrom.
package event

import (
	"time"
)

// Type classifies an event.
type Type string

// Event types.
const (
	TypeTrack        Type = "track"
	TypePage         Type = "page"
	TypeIdentify     Type = "identify"
	TypeAlias        Type = "alias"
	TypeHeatmap      Type = "heatmap"
	TypeSession      Type = "session"
	TypeError        Type = "error"
	TypeSubscription Type = "subscription"
	TypePayment      Type = "payment"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeTrack, TypePage, TypeIdentify, TypeAlias, TypeHeatmap,
		TypeSession, TypeError, TypeSubscription, TypePayment:
		return true
	}
	return false
}

// Event is one tracked occurrence.
type Event struct {
	ID          string     `json:"id"`
	AnonymousID string     `json:"anonymous_id"`
	UserID      string     `json:"user_id,omitempty"`
	SessionID   string     `json:"session_id"`
	Timestamp   time.Time  `json:"timestamp"`
	Type        Type       `json:"type"`
	Name        string     `json:"name,omitempty"`
	Properties  Properties `json:"properties"`
	Context     Context    `json:"context"`
}

// Identity carries the ids stamped onto every event.
type Identity struct {
	AnonymousID string
	UserID      string
	SessionID   string
}

// Context describes the environment an event was captured in.
type Context struct {
	Page      PageContext `json:"page"`
	UserAgent string      `json:"user_agent,omitempty"`
	Timezone  string      `json:"timezone,omitempty"`
	Locale    string      `json:"locale,omitempty"`
	Screen    Screen      `json:"screen"`
	Library   Library     `json:"library"`

	Performance *Performance    `json:"performance,omitempty"`
	Heatmap     *Heatmap        `json:"heatmap,omitempty"`
	Session     *SessionContext `json:"session,omitempty"`
	Error       *ErrorContext   `json:"error,omitempty"`
}

// PageContext describes the page being viewed.
type PageContext struct {
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	Title    string `json:"title,omitempty"`
	Referrer string `json:"referrer,omitempty"`
	Search   string `json:"search,omitempty"`
}

// Screen holds display dimensions in pixels.
type Screen struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Library identifies the SDK that produced the event.
type Library struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Performance carries page-load timings in milliseconds.
type Performance struct {
	LoadTime               float64 `json:"load_time,omitempty"`
	DOMContentLoaded       float64 `json:"dom_content_loaded,omitempty"`
	FirstContentfulPaint   float64 `json:"first_contentful_paint,omitempty"`
	LargestContentfulPaint float64 `json:"largest_contentful_paint,omitempty"`
	FirstInputDelay        float64 `json:"first_input_delay,omitempty"`
	CumulativeLayoutShift  float64 `json:"cumulative_layout_shift,omitempty"`
}

// Heatmap describes a single pointer interaction.
type Heatmap struct {
	X              int    `json:"x"`
	Y              int    `json:"y"`
	ViewportWidth  int    `json:"viewport_width,omitempty"`
	ViewportHeight int    `json:"viewport_height,omitempty"`
	Element        string `json:"element,omitempty"`
	Interaction    string `json:"interaction,omitempty"`
}

// SessionContext summarizes the session an event belongs to.
type SessionContext struct {
	PageViews        int     `json:"page_views"`
	DurationMs       int64   `json:"duration_ms"`
	EngagementScore  float64 `json:"engagement_score"`
	BounceLikelihood float64 `json:"bounce_likelihood"`
	Channel          string  `json:"channel,omitempty"`
}

// ErrorContext describes a captured application error.
type ErrorContext struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}
