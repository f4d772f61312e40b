/*
Package config loads and validates pipeline settings.

# Overview

Raw configuration is a map[string]any wrapped in Config, whose accessors
return a default when a key is missing or has the wrong type. Settings is
the typed, validated view the pipeline consumes.

# Loading

	cfg, err := config.FromFile("beacon.yaml") // .yaml, .yml or .json
	cfg, err = config.FromEnv("BEACON_", ".env")

	settings, err := config.FromConfig(cfg)

FromEnv reads variables such as BEACON_API_KEY and BEACON_BATCH_SIZE. Files
passed to it are parsed in dotenv format; real environment variables take
precedence over file values.

# Keys

	endpoint          collector URL (required for the http transport)
	api_key           collector API key (required for the http transport)
	project_id        project identifier (required)
	transport         "http" (default) or "nats"
	nats_url          NATS server URL (required for the nats transport)
	nats_subject      NATS subject (default "beacon.events")
	batch_size        events per transport call (default 10)
	flush_interval    recurring flush period (default 5s)
	max_queue_size    queue bound (default 1000)
	retry_attempts    failed attempts before an event is dropped (default 3)
	retry_delay       base backoff delay (default 1s)
	retry_ordering    "front" (default) or "back"
	session_timeout   inactivity before a session ends (default 30m)
	funnel_timeout    inactivity before a funnel is abandoned (default 5m)
	http_timeout      per-request timeout (default 10s)
	rate_limit        batch sends per second, 0 disables (default 0)
	breaker_failures  consecutive failures that open the circuit, 0 disables (default 5)
	identity_store    "memory" (default) or "sqlite"
	identity_path     sqlite database path (required for the sqlite store)
	debug             verbose logging to stderr (default false)

Durations accept Go duration strings ("30s", "5m") or numbers of seconds.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
