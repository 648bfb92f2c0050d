package aggregator

import (
	"context"
	"log/slog"
	"time"
)

// Defaults.
const (
	DefaultMaxBuffer = 10
	DefaultSilence   = 3000 * time.Millisecond
)

// Config configures an Aggregator.
type Config struct {
	// Triggers are words that force an immediate dispatch.
	Triggers  []string
	MaxBuffer int
	Silence   time.Duration

	// OnTurn receives each completed turn. It runs on the goroutine that
	// flushed the buffer.
	OnTurn func(ctx context.Context, t Turn)

	// OnReset and OnLeave handle the control phrases.
	OnReset func(ctx context.Context)
	OnLeave func(ctx context.Context)

	Logger *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Config)

// WithTriggers sets the trigger words.
func WithTriggers(words ...string) Option {
	return func(c *Config) { c.Triggers = words }
}

// WithMaxBuffer sets how many utterances force a dispatch.
func WithMaxBuffer(n int) Option { return func(c *Config) { c.MaxBuffer = n } }

// WithSilence sets how long a multi-speaker turn waits for quiet.
func WithSilence(d time.Duration) Option { return func(c *Config) { c.Silence = d } }

// WithTurnHandler sets the turn callback.
func WithTurnHandler(fn func(context.Context, Turn)) Option {
	return func(c *Config) { c.OnTurn = fn }
}

// WithControlHandlers sets the reset and leave callbacks.
func WithControlHandlers(reset, leave func(context.Context)) Option {
	return func(c *Config) {
		c.OnReset = reset
		c.OnLeave = leave
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxBuffer: DefaultMaxBuffer,
		Silence:   DefaultSilence,
		Logger:    slog.Default(),
	}
}

// Apply applies options.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.MaxBuffer < 1 {
		c.MaxBuffer = DefaultMaxBuffer
	}
	if c.Silence <= 0 {
		c.Silence = DefaultSilence
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
