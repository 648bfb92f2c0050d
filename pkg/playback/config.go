package playback

import (
	"log/slog"
	"os"
	"time"
)

// Config configures a Scheduler.
type Config struct {
	// RetryInterval is how long to wait for a missing segment before
	// counting one retry.
	RetryInterval time.Duration

	// MaxRetries is how many intervals may pass without the expected
	// segment before the response is abandoned.
	MaxRetries int

	// Remove deletes a segment's backing file. Defaults to os.Remove.
	Remove func(path string) error

	Logger *slog.Logger
}

// DefaultConfig returns the standard retry policy: 1s interval, 5 retries.
func DefaultConfig() Config {
	return Config{
		RetryInterval: time.Second,
		MaxRetries:    5,
		Remove:        os.Remove,
		Logger:        slog.Default(),
	}
}

// Option configures a Scheduler.
type Option func(*Config)

// WithRetryInterval sets the wait between checks for a missing segment.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Config) { c.RetryInterval = d }
}

// WithMaxRetries sets the retry budget for a missing segment.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// WithRemove overrides how played and abandoned files are deleted.
func WithRemove(fn func(string) error) Option {
	return func(c *Config) { c.Remove = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Remove == nil {
		c.Remove = os.Remove
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
