package idem

import (
	"context"
	"time"
)

// RemainingTimeFunc reports how many milliseconds of execution budget the
// current invocation has left. The value bounds the reservation deadline
// so a crashed worker's record becomes detectable instead of wedging the
// key. Zero or negative means unknown.
type RemainingTimeFunc func(ctx context.Context) int64

// ContextRemainingTime derives the execution budget from the context
// deadline. It is the default RemainingTimeFunc.
func ContextRemainingTime(ctx context.Context) int64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline).Milliseconds()
}

// Config holds the execution policy for a Handler.
// Expiry durations and key derivation are configured on the store side
// (see the persistence package): they belong to the record layout, not to
// the orchestration loop.
type Config struct {
	// MaxRetries bounds the inconsistent-state retry loop. Total
	// reservation attempts = MaxRetries + 1. Default 2.
	MaxRetries int

	// Disabled bypasses all persistence calls: Execute runs the work
	// directly and returns its result or error unmodified.
	Disabled bool

	// FailOnMissingKey controls what an empty derived key means: true
	// fails fast with ErrMissingIdempotencyKey before any persistence
	// call, false bypasses idempotency for that call entirely.
	FailOnMissingKey bool

	// RemainingTime reports the invocation's execution budget.
	// Defaults to ContextRemainingTime.
	RemainingTime RemainingTimeFunc
}

// DefaultConfig returns the default configuration for a Handler.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       2,
		Disabled:         false,
		FailOnMissingKey: false,
		RemainingTime:    ContextRemainingTime,
	}
}

// Option is a function that modifies the Config.
type Option func(*Config)

// WithMaxRetries sets the inconsistent-state retry bound.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

// WithDisabled toggles the idempotency bypass.
func WithDisabled(disabled bool) Option {
	return func(c *Config) {
		c.Disabled = disabled
	}
}

// WithFailOnMissingKey makes an empty derived key a validation error
// instead of a silent bypass.
func WithFailOnMissingKey(fail bool) Option {
	return func(c *Config) {
		c.FailOnMissingKey = fail
	}
}

// WithRemainingTime sets the execution budget source.
func WithRemainingTime(fn RemainingTimeFunc) Option {
	return func(c *Config) {
		c.RemainingTime = fn
	}
}

// WithConfig applies a complete Config, overriding all values.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// ApplyOptions applies the given options to a default config and returns the result.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	return nil
}
