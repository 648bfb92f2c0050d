// Package tts turns reply text into audio files the bot can play.
//
// Two backends are supported: the OpenAI speech endpoint, which returns MP3,
// and a local synthesis server that answers POST /synthesize with WAV. Both
// implement Provider; Chain tries several in order.
package tts

import (
	"context"
)

// Provider converts text to audio.
type Provider interface {
	// Synthesize converts text to a complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is one synthesized clip.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	CharCount int
	LatencyMs int64
}

// AudioFormat describes the encoding of an AudioResult.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Encoding is an audio container type.
type Encoding string

const (
	EncodingMP3 Encoding = "mp3"
	EncodingWAV Encoding = "wav"
)

// Ext returns the file extension for the encoding, without the dot.
func (e Encoding) Ext() string {
	if e == "" {
		return "bin"
	}
	return string(e)
}

// Backend names accepted by New.
const (
	BackendOpenAI = "openai"
	BackendLocal  = "speecht5"
)

// New creates the provider for the named backend.
func New(backend string, opts ...Option) (Provider, error) {
	switch backend {
	case "", BackendOpenAI:
		return NewOpenAI(opts...)
	case BackendLocal, "local":
		return NewLocal(opts...)
	}
	return nil, ErrUnknownBackend
}
