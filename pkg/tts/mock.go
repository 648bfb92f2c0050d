package tts

import (
	"context"
	"sync"
)

// Mock implements Provider for testing.
type Mock struct {
	// SynthesizeFunc is called by Synthesize. If nil, the mock returns the
	// text itself as WAV bytes.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// HealthFunc is called by Health. If nil, the mock is healthy.
	HealthFunc func(ctx context.Context) error

	mu    sync.Mutex
	texts []string
}

// NewMock creates a mock that echoes text back as audio.
func NewMock() *Mock {
	return &Mock{}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(context.Context, string) (*AudioResult, error) { return nil, err },
		HealthFunc:     func(context.Context) error { return err },
	}
}

// Synthesize records text and calls SynthesizeFunc.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return &AudioResult{
		Audio:     []byte(text),
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: 16000, Channels: 1},
		CharCount: len(text),
	}, nil
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Texts returns every text passed to Synthesize, in call order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// CallCount returns how many times Synthesize was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

var _ Provider = (*Mock)(nil)
