package stt

import (
	"context"
	"sync"
)

// Mock implements Transcriber for tests. By default it returns Text.
type Mock struct {
	TranscribeFunc func(ctx context.Context, filename string, audio []byte) (string, error)
	Text           string

	mu    sync.Mutex
	calls int
}

// Transcribe implements Transcriber.
func (m *Mock) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, filename, audio)
	}
	return m.Text, nil
}

// CallCount returns how many times Transcribe was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Transcriber = (*Mock)(nil)
