package capture

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicebot/pkg/stt"
)

// Config configures a Pipeline.
type Config struct {
	Workers   int
	QueueSize int

	// Defaults for captures that do not state their format.
	SampleRate int
	Channels   int

	// TargetRate is the mono rate sent for transcription. Zero keeps the
	// capture rate.
	TargetRate int

	// MinDuration drops captures too short to hold speech.
	MinDuration       time.Duration
	TranscribeTimeout time.Duration

	Replacements map[string]string
	Ignore       []string

	Logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Config)

// WithWorkers sets the worker count.
func WithWorkers(n int) Option { return func(c *Config) { c.Workers = n } }

// WithQueueSize sets the intake queue size.
func WithQueueSize(n int) Option { return func(c *Config) { c.QueueSize = n } }

// WithFormat sets the default PCM format.
func WithFormat(sampleRate, channels int) Option {
	return func(c *Config) {
		c.SampleRate = sampleRate
		c.Channels = channels
	}
}

// WithTargetRate sets the rate captures are resampled to before
// transcription.
func WithTargetRate(rate int) Option { return func(c *Config) { c.TargetRate = rate } }

// WithMinDuration sets the shortest capture worth transcribing.
func WithMinDuration(d time.Duration) Option { return func(c *Config) { c.MinDuration = d } }

// WithTranscribeTimeout bounds each transcription call.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(c *Config) { c.TranscribeTimeout = d }
}

// WithReplacements sets whole-word transcript corrections.
func WithReplacements(m map[string]string) Option { return func(c *Config) { c.Replacements = m } }

// WithIgnore sets the noise phrases.
func WithIgnore(phrases ...string) Option { return func(c *Config) { c.Ignore = phrases } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// DefaultConfig returns the default configuration. Captures default to the
// voice link format, 48 kHz stereo, and are sent for transcription as
// 16 kHz mono.
func DefaultConfig() Config {
	return Config{
		Workers:           2,
		QueueSize:         16,
		SampleRate:        48000,
		Channels:          2,
		TargetRate:        16000,
		MinDuration:       250 * time.Millisecond,
		TranscribeTimeout: 30 * time.Second,
		Ignore:            stt.DefaultIgnore,
		Logger:            slog.Default(),
	}
}

// Apply applies options.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
