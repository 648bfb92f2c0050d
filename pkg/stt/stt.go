// Package stt transcribes captured speech through an OpenAI-compatible
// /v1/audio/transcriptions endpoint.
package stt

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Transcriber turns an audio file into text.
type Transcriber interface {
	// Transcribe sends audio, named filename so the server can sniff its
	// container, and returns the recognised text.
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Config holds transcription client configuration.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Config)

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }

// WithBaseURL sets the server root, for example http://localhost:8000.
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

// WithModel sets the model form field.
func WithModel(model string) Option { return func(c *Config) { c.Model = model } }

// WithLanguage sets the optional language hint.
func WithLanguage(lang string) Option { return func(c *Config) { c.Language = lang } }

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// WithRetry configures retry behaviour.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Config) { c.HTTPClient = hc } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:      "whisper-1",
		Timeout:    30 * time.Second,
		MaxRetries: 1,
		RetryDelay: 250 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies options.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoEndpoint
	}
	return nil
}
