package transport

import (
	"fmt"
	"math"
	"time"

	json "github.com/goccy/go-json"

	"github.com/randalmurphal/beacon/pkg/beacon/event"
	berrors "github.com/randalmurphal/beacon/pkg/beacon/errors"
)

// WireEvent is the collector's JSON representation of one event.
type WireEvent struct {
	EventID    string           `json:"event_id"`
	EventType  string           `json:"event_type"`
	UserID     string           `json:"user_id,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`
	Timestamp  string           `json:"timestamp"`
	Properties event.Properties `json:"properties"`
	UserAgent  string           `json:"user_agent,omitempty"`
}

// typeNames maps non-track event types to collector names.
var typeNames = map[event.Type]string{
	event.TypePage:     "page_view",
	event.TypeIdentify: "user_identify",
	event.TypeAlias:    "user_alias",
}

// nameAliases maps SDK event names to collector names.
var nameAliases = map[string]string{
	"button_clicked": "click",
	"link_clicked":   "click",
	"signup":         "user_signup",
	"sign_up":        "user_signup",
	"login":          "user_login",
	"logout":         "user_logout",
	"form_submitted": "form_submit",
}

// EventType returns the collector event type for e. Unmapped names pass
// through verbatim.
func EventType(e event.Event) string {
	if name, ok := typeNames[e.Type]; ok {
		return name
	}
	if e.Name == "" {
		return string(e.Type)
	}
	if alias, ok := nameAliases[e.Name]; ok {
		return alias
	}
	return e.Name
}

// Transform converts an event to wire format. Context fields are flattened
// into properties without overriding caller-supplied keys; sub-records are
// serialized as JSON strings.
func Transform(e event.Event) (WireEvent, error) {
	props := e.Properties.Clone()
	for k, v := range props {
		if v.Kind() == event.KindNumber && (math.IsNaN(v.AsNumber()) || math.IsInf(v.AsNumber(), 0)) {
			return WireEvent{}, &berrors.EncodeError{
				EventID: e.ID,
				Err:     fmt.Errorf("property %q: %w", k, event.ErrUnsupportedValue),
			}
		}
	}

	setDefault := func(key string, v event.Value) {
		if _, exists := props[key]; !exists {
			props[key] = v
		}
	}
	setString := func(key, v string) {
		if v != "" {
			setDefault(key, event.String(v))
		}
	}

	setString("anonymous_id", e.AnonymousID)
	setString("event_name", e.Name)
	setString("sdk_event_type", string(e.Type))

	ctx := e.Context
	setString("page_url", ctx.Page.URL)
	setString("page_path", ctx.Page.Path)
	setString("page_title", ctx.Page.Title)
	setString("referrer", ctx.Page.Referrer)
	setString("page_search", ctx.Page.Search)
	setString("timezone", ctx.Timezone)
	setString("locale", ctx.Locale)
	if ctx.Screen.Width > 0 {
		setDefault("screen_width", event.Int(ctx.Screen.Width))
		setDefault("screen_height", event.Int(ctx.Screen.Height))
	}
	setString("library_name", ctx.Library.Name)
	setString("library_version", ctx.Library.Version)

	subRecords := []struct {
		key    string
		record any
		isNil  bool
	}{
		{"performance", ctx.Performance, ctx.Performance == nil},
		{"heatmap", ctx.Heatmap, ctx.Heatmap == nil},
		{"session", ctx.Session, ctx.Session == nil},
		{"error", ctx.Error, ctx.Error == nil},
	}
	for _, sub := range subRecords {
		if sub.isNil {
			continue
		}
		data, err := json.Marshal(sub.record)
		if err != nil {
			return WireEvent{}, &berrors.EncodeError{EventID: e.ID, Err: fmt.Errorf("%s context: %w", sub.key, err)}
		}
		setDefault(sub.key, event.String(string(data)))
	}

	return WireEvent{
		EventID:    e.ID,
		EventType:  EventType(e),
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Properties: props,
		UserAgent:  ctx.UserAgent,
	}, nil
}

// TransformBatch converts every event, failing on the first error.
func TransformBatch(events []event.Event) ([]WireEvent, error) {
	out := make([]WireEvent, 0, len(events))
	for _, e := range events {
		w, err := Transform(e)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
