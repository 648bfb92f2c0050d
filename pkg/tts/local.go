package tts

import (
	"context"
	"errors"
	"time"
)

const providerLocal = "local"

// Local implements Provider for a self-hosted synthesis server that accepts
// POST /synthesize {"text": ...} and answers with WAV audio.
type Local struct {
	*backend
}

// NewLocal creates a provider for the synthesis server at BaseURL.
func NewLocal(opts ...Option) (*Local, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Local{backend: newBackend(providerLocal, cfg)}, nil
}

// Synthesize converts text to WAV.
func (l *Local) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()
	audio, err := l.post(ctx, "/synthesize", struct {
		Text string `json:"text"`
	}{text})
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	l.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio), "latency_ms", latency)
	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: 16000, Channels: 1},
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health reports whether the server answers at all. Any HTTP response below
// 500 counts as reachable since synthesis servers rarely expose a probe.
func (l *Local) Health(ctx context.Context) error {
	err := l.get(ctx, "/")
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		return nil
	}
	return err
}

// Close releases idle connections.
func (l *Local) Close() error {
	l.close()
	return nil
}

var _ Provider = (*Local)(nil)
