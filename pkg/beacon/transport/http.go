package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	berrors "github.com/randalmurphal/beacon/pkg/beacon/errors"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerFailures = 5
	maxErrorBody           = 512
)

// BreakerConfig configures the circuit breaker guarding the collector.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures
	// that opens the circuit. Zero disables the breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the circuit stays open before a probe.
	OpenTimeout time.Duration

	// OnStateChange is called on every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig provides reasonable defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: defaultBreakerFailures,
	OpenTimeout:      defaultBreakerTimeout,
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithTimeout sets the per-request timeout. Default: 10s.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithRateLimit caps batch sends to r per second with the given burst.
// A zero rate disables limiting.
func WithRateLimit(r float64, burst int) HTTPOption {
	return func(h *HTTP) {
		if r <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithBreaker configures the circuit breaker.
func WithBreaker(cfg BreakerConfig) HTTPOption {
	return func(h *HTTP) { h.breakerCfg = cfg }
}

// WithHTTPLogger sets the logger. A nil logger disables logging.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// HTTP POSTs batches to the collector as a JSON array.
type HTTP struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	projectID  string
	limiter    *rate.Limiter
	breakerCfg BreakerConfig
	breaker    *gobreaker.CircuitBreaker[struct{}]
	logger     *slog.Logger
}

// Compile-time interface check.
var _ Transport = (*HTTP)(nil)

// NewHTTP creates the default HTTP transport.
func NewHTTP(endpoint, apiKey, projectID string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client:     &http.Client{Timeout: defaultTimeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		projectID:  projectID,
		breakerCfg: DefaultBreakerConfig,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.breakerCfg.FailureThreshold > 0 {
		h.breaker = newBreaker("beacon-http", h.breakerCfg, h.logger)
	}
	return h
}

func newBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[struct{}] {
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Rejections such as 401 say nothing about collector health.
		IsSuccessful: func(err error) bool {
			return err == nil || !berrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("collector circuit state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	})
}

// BreakerState reports the circuit state, or "disabled".
func (h *HTTP) BreakerState() string {
	if h.breaker == nil {
		return "disabled"
	}
	return h.breaker.State().String()
}

// Send implements Transport.
func (h *HTTP) Send(ctx context.Context, batch []WireEvent) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return &berrors.EncodeError{EventID: batch[0].EventID, Err: err}
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return berrors.Transient(err, "rate limit wait")
		}
	}

	if h.breaker == nil {
		return h.post(ctx, body)
	}

	_, err = h.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, h.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return berrors.Transient(err, "collector circuit open")
	}
	return err
}

func (h *HTTP) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return berrors.Permanent(err, "build request")
	}
	req.Header.Set(HeaderContentType, "application/json")
	req.Header.Set(HeaderAuthorization, "ApiKey "+h.apiKey)
	req.Header.Set(HeaderProjectID, h.projectID)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	return &berrors.HTTPError{
		StatusCode: resp.StatusCode,
		Message:    string(bytes.TrimSpace(snippet)),
		Endpoint:   h.endpoint,
	}
}
