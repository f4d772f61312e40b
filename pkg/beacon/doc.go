/*
Package beacon is a client-side telemetry pipeline.

# Overview

A Client accepts interaction events from the host application, keeps
per-session and per-funnel state, derives engagement, bounce and churn
metrics, and delivers everything to a remote collector in batches with
retry and exponential backoff. Event methods never block on I/O and never
return delivery errors; instrumentation must not break the host.

# Basic Usage

	settings, err := config.FromConfig(config.New(map[string]any{
	    "endpoint":   "https://collector.example.com/v1/events",
	    "api_key":    os.Getenv("BEACON_API_KEY"),
	    "project_id": "shop",
	}))
	if err != nil {
	    log.Fatal(err)
	}

	client, err := beacon.New(settings)
	if err != nil {
	    log.Fatal(err)
	}
	defer client.Close()

	client.Page(event.PageContext{URL: "https://shop.example.com/pricing", Title: "Pricing"}, nil)
	client.Track("button_clicked", event.Properties{"button": event.String("upgrade")})

# Delivery

Events are queued in a bounded buffer that evicts the oldest entries when
full. The queue is flushed when it reaches the batch size, on a recurring
interval, on an explicit Flush, and once more on Close. Each flush splits
the queue into batches that are sent concurrently. A failed batch is
requeued after retry_delay × 2^retries and dropped once it has failed
retry_attempts times.

# Funnels

	client.StartFunnel("checkout", nil)
	client.AdvanceFunnel("checkout", "shipping", nil)
	client.AdvanceFunnel("checkout", "payment", nil)
	client.CompleteFunnel("checkout", nil)

A funnel left untouched for funnel_timeout is abandoned with reason
"timeout".

# Sessions and Metrics

The current session counts page views, clicks and scrolling. Activity
signals reset an inactivity timer; when it fires the session is sealed,
reported as a session_end event, and replaced. CalculateEngagementScore
and ActiveSession read the live session; CalculateChurnRisk combines it
with caller-supplied account signals.

# Testing

Inject a clock.Fake with WithClock and a transport.Func with WithTransport
to drive timers and observe deliveries deterministically.
*/
package beacon
