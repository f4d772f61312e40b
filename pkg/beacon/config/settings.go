package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	berrors "github.com/randalmurphal/beacon/pkg/beacon/errors"
	"github.com/randalmurphal/beacon/pkg/beacon/queue"
)

// ErrInvalidSettings is returned when settings fail validation.
var ErrInvalidSettings = errors.New("invalid settings")

// Transport names.
const (
	TransportHTTP = "http"
	TransportNATS = "nats"
)

// Identity store names.
const (
	IdentityMemory = "memory"
	IdentitySQLite = "sqlite"
)

// Settings is the validated pipeline configuration.
type Settings struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint" validate:"required_if=Transport http,omitempty,url"`
	APIKey    string `yaml:"api_key" json:"api_key" validate:"required_if=Transport http"`
	ProjectID string `yaml:"project_id" json:"project_id" validate:"required"`

	Transport   string `yaml:"transport" json:"transport" validate:"oneof=http nats"`
	NATSURL     string `yaml:"nats_url" json:"nats_url" validate:"required_if=Transport nats,omitempty,url"`
	NATSSubject string `yaml:"nats_subject" json:"nats_subject" validate:"required_if=Transport nats"`

	BatchSize     int           `yaml:"batch_size" json:"batch_size" validate:"min=1,max=1000"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" validate:"gt=0"`
	MaxQueueSize  int           `yaml:"max_queue_size" json:"max_queue_size" validate:"min=1"`

	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts" validate:"min=1,max=20"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay" validate:"gte=0"`
	RetryOrdering string        `yaml:"retry_ordering" json:"retry_ordering" validate:"oneof=front back"`

	SessionTimeout time.Duration `yaml:"session_timeout" json:"session_timeout" validate:"gt=0"`
	FunnelTimeout  time.Duration `yaml:"funnel_timeout" json:"funnel_timeout" validate:"gt=0"`

	HTTPTimeout     time.Duration `yaml:"http_timeout" json:"http_timeout" validate:"gt=0"`
	RateLimit       float64       `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures" validate:"gte=0"`

	IdentityStore string `yaml:"identity_store" json:"identity_store" validate:"oneof=memory sqlite"`
	IdentityPath  string `yaml:"identity_path" json:"identity_path" validate:"required_if=IdentityStore sqlite"`

	Debug bool `yaml:"debug" json:"debug"`
}

// Defaults returns settings with every optional value filled in.
func Defaults() Settings {
	return Settings{
		Transport:       TransportHTTP,
		NATSSubject:     "beacon.events",
		BatchSize:       10,
		FlushInterval:   5 * time.Second,
		MaxQueueSize:    1000,
		RetryAttempts:   3,
		RetryDelay:      time.Second,
		RetryOrdering:   queue.RequeueFront.String(),
		SessionTimeout:  30 * time.Minute,
		FunnelTimeout:   5 * time.Minute,
		HTTPTimeout:     10 * time.Second,
		BreakerFailures: 5,
		IdentityStore:   IdentityMemory,
	}
}

// FromConfig builds validated Settings from raw configuration, using
// Defaults for missing keys.
func FromConfig(cfg Config) (Settings, error) {
	d := Defaults()
	s := Settings{
		Endpoint:        cfg.String("endpoint", d.Endpoint),
		APIKey:          cfg.String("api_key", d.APIKey),
		ProjectID:       cfg.String("project_id", d.ProjectID),
		Transport:       strings.ToLower(cfg.String("transport", d.Transport)),
		NATSURL:         cfg.String("nats_url", d.NATSURL),
		NATSSubject:     cfg.String("nats_subject", d.NATSSubject),
		BatchSize:       cfg.Int("batch_size", d.BatchSize),
		FlushInterval:   cfg.Duration("flush_interval", d.FlushInterval),
		MaxQueueSize:    cfg.Int("max_queue_size", d.MaxQueueSize),
		RetryAttempts:   cfg.Int("retry_attempts", d.RetryAttempts),
		RetryDelay:      cfg.Duration("retry_delay", d.RetryDelay),
		RetryOrdering:   strings.ToLower(cfg.String("retry_ordering", d.RetryOrdering)),
		SessionTimeout:  cfg.Duration("session_timeout", d.SessionTimeout),
		FunnelTimeout:   cfg.Duration("funnel_timeout", d.FunnelTimeout),
		HTTPTimeout:     cfg.Duration("http_timeout", d.HTTPTimeout),
		RateLimit:       cfg.Float("rate_limit", d.RateLimit),
		BreakerFailures: cfg.Int("breaker_failures", d.BreakerFailures),
		IdentityStore:   strings.ToLower(cfg.String("identity_store", d.IdentityStore)),
		IdentityPath:    cfg.String("identity_path", d.IdentityPath),
		Debug:           cfg.Bool("debug", d.Debug),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks every field, reporting all violations at once.
func (s Settings) Validate() error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = describe(fe)
	}
	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "url":
		return field + " must be a valid URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Retry returns the redelivery policy.
func (s Settings) Retry() berrors.RetryConfig {
	return berrors.RetryConfig{MaxAttempts: s.RetryAttempts, BaseDelay: s.RetryDelay}
}

// Ordering returns the retry reinsertion ordering.
func (s Settings) Ordering() queue.Ordering {
	return queue.ParseOrdering(s.RetryOrdering)
}
