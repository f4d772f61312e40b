package errors

import (
	"math"
	"time"
)

// RetryConfig configures redelivery of failed batches.
type RetryConfig struct {
	// MaxAttempts is the number of failed attempts after which an event
	// is dropped.
	MaxAttempts int

	// BaseDelay is multiplied by 2^attempts to get the requeue delay.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
}

// NoRetry drops events after their first failed attempt.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// Backoff returns BaseDelay × 2^attempts, capped at MaxDelay.
func (c RetryConfig) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^62 already overflows any sane delay.
	if attempts > 62 {
		attempts = 62
	}
	delay := time.Duration(math.MaxInt64)
	if d := float64(c.BaseDelay) * math.Pow(2, float64(attempts)); d < float64(math.MaxInt64) {
		delay = time.Duration(d)
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Exhausted reports whether an event that has failed attempts times
// should be dropped instead of requeued.
func (c RetryConfig) Exhausted(attempts int) bool {
	return attempts >= c.MaxAttempts
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxAttempts = n
	}
}

// WithBaseDelay sets the initial backoff duration.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum backoff duration.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxDelay = d
	}
}

// NewRetryConfig creates a retry configuration with the given options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
