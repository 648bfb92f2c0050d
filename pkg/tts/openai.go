package tts

import (
	"context"
	"time"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI voice options.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI model options.
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI implements Provider for OpenAI compatible /audio/speech endpoints.
type OpenAI struct {
	*backend
}

// NewOpenAI creates an OpenAI speech provider. BaseURL is the API root
// including the version, for example https://api.openai.com/v1.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = openAIBaseURL
	cfg.Model = ModelTTS1
	cfg.Voice = VoiceShimmer
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OpenAI{backend: newBackend(providerOpenAI, cfg)}, nil
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to MP3.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()
	audio, err := o.post(ctx, "/audio/speech", speechRequest{
		Model:          o.config.Model,
		Input:          text,
		Voice:          o.config.Voice,
		ResponseFormat: string(EncodingMP3),
		Speed:          o.config.Speed,
	})
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.Voice,
	)
	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingMP3, SampleRate: 24000, Channels: 1},
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health checks API connectivity by listing models.
func (o *OpenAI) Health(ctx context.Context) error {
	return o.get(ctx, "/models")
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.close()
	return nil
}

// Voice returns the configured voice.
func (o *OpenAI) Voice() string {
	return o.config.Voice
}

var _ Provider = (*OpenAI)(nil)
