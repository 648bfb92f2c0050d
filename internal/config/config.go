// Package config loads go-voicebot process configuration.
//
// Values come from built-in defaults, then an optional TOML file, then the
// environment. Both VOICEBOT_* names (dots become underscores) and the bare
// service names used by existing deployments (LLM_ENDPOINT, TTS_VOICE, ...)
// are honoured.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for namespaced environment overrides.
const EnvPrefix = "VOICEBOT"

// Config is the full process configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log" toml:"log"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Bot      BotConfig      `mapstructure:"bot" toml:"bot"`
	LLM      LLMConfig      `mapstructure:"llm" toml:"llm"`
	STT      STTConfig      `mapstructure:"stt" toml:"stt"`
	TTS      TTSConfig      `mapstructure:"tts" toml:"tts"`
	Tools    ToolsConfig    `mapstructure:"tools" toml:"tools"`
	Memory   MemoryConfig   `mapstructure:"memory" toml:"memory"`
	Playback PlaybackConfig `mapstructure:"playback" toml:"playback"`
	Capture  CaptureConfig  `mapstructure:"capture" toml:"capture"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
}

// ServerConfig controls the control API listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// BotConfig holds conversation behaviour.
type BotConfig struct {
	Name             string   `mapstructure:"name" toml:"name"`
	Triggers         []string `mapstructure:"triggers" toml:"triggers"`
	SilenceMS        int      `mapstructure:"silence_ms" toml:"silence_ms"`
	MaxBuffer        int      `mapstructure:"max_buffer" toml:"max_buffer"`
	HistorySize      int      `mapstructure:"history_size" toml:"history_size"`
	Timezone         string   `mapstructure:"timezone" toml:"timezone"`
	SystemPrompt     string   `mapstructure:"system_prompt" toml:"system_prompt"`
	FreeSystemPrompt string   `mapstructure:"free_system_prompt" toml:"free_system_prompt"`
	TranscriptDir    string   `mapstructure:"transcript_dir" toml:"transcript_dir"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	Endpoint     string `mapstructure:"endpoint" toml:"endpoint"`
	APIKey       string `mapstructure:"api_key" toml:"api_key"`
	Model        string `mapstructure:"model" toml:"model"`
	TimeoutMS    int    `mapstructure:"timeout_ms" toml:"timeout_ms"`
	MaxToolRound int    `mapstructure:"max_tool_rounds" toml:"max_tool_rounds"`
	EnableTools  bool   `mapstructure:"enable_tools" toml:"enable_tools"`

	// Fallback is tried when the primary endpoint fails. Empty disables it.
	FallbackEndpoint string `mapstructure:"fallback_endpoint" toml:"fallback_endpoint"`
	FallbackAPIKey   string `mapstructure:"fallback_api_key" toml:"fallback_api_key"`
	FallbackModel    string `mapstructure:"fallback_model" toml:"fallback_model"`
}

// STTConfig points at an OpenAI-compatible transcription endpoint.
type STTConfig struct {
	Endpoint      string            `mapstructure:"endpoint" toml:"endpoint"`
	APIKey        string            `mapstructure:"api_key" toml:"api_key"`
	Model         string            `mapstructure:"model" toml:"model"`
	TimeoutMS     int               `mapstructure:"timeout_ms" toml:"timeout_ms"`
	IgnorePhrases []string          `mapstructure:"ignore_phrases" toml:"ignore_phrases"`
	Replacements  map[string]string `mapstructure:"replacements" toml:"replacements"`
}

// TTSConfig selects and configures the speech synthesis backends.
type TTSConfig struct {
	Type           string `mapstructure:"type" toml:"type"`
	Endpoint       string `mapstructure:"endpoint" toml:"endpoint"`
	OpenAIEndpoint string `mapstructure:"openai_endpoint" toml:"openai_endpoint"`
	APIKey         string `mapstructure:"api_key" toml:"api_key"`
	Model          string `mapstructure:"model" toml:"model"`
	Voice          string `mapstructure:"voice" toml:"voice"`
	TimeoutMS      int    `mapstructure:"timeout_ms" toml:"timeout_ms"`
}

// ToolsConfig configures the tool catalog backends.
type ToolsConfig struct {
	Endpoint        string `mapstructure:"endpoint" toml:"endpoint"`
	GoogleAPIKey    string `mapstructure:"google_api_key" toml:"google_api_key"`
	GoogleEngineID  string `mapstructure:"google_engine_id" toml:"google_engine_id"`
	SearchTimeoutMS int    `mapstructure:"search_timeout_ms" toml:"search_timeout_ms"`
	LocalTimeoutMS  int    `mapstructure:"local_timeout_ms" toml:"local_timeout_ms"`
}

// MemoryConfig configures long-term memory and the chat log.
type MemoryConfig struct {
	Enabled        bool   `mapstructure:"enabled" toml:"enabled"`
	ChatLog        bool   `mapstructure:"chat_log" toml:"chat_log"`
	Path           string `mapstructure:"path" toml:"path"`
	RecallLimit    int    `mapstructure:"recall_limit" toml:"recall_limit"`
	HistoryDays    int    `mapstructure:"history_days" toml:"history_days"`
	HistoryEntries int    `mapstructure:"history_entries" toml:"history_entries"`
}

// PlaybackConfig configures chunking, ordering and the audio sink.
type PlaybackConfig struct {
	ChunkWords      int    `mapstructure:"chunk_words" toml:"chunk_words"`
	RetryIntervalMS int    `mapstructure:"retry_interval_ms" toml:"retry_interval_ms"`
	MaxRetries      int    `mapstructure:"max_retries" toml:"max_retries"`
	OutputDir       string `mapstructure:"output_dir" toml:"output_dir"`
	RTPAddr         string `mapstructure:"rtp_addr" toml:"rtp_addr"`
}

// CaptureConfig configures the inbound capture pipeline.
type CaptureConfig struct {
	QueueSize  int `mapstructure:"queue_size" toml:"queue_size"`
	Workers    int `mapstructure:"workers" toml:"workers"`
	SampleRate int `mapstructure:"sample_rate" toml:"sample_rate"`
	Channels   int `mapstructure:"channels" toml:"channels"`
	TargetRate int `mapstructure:"target_rate" toml:"target_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Addr: ":8080"},
		Bot: BotConfig{
			Name:          "Botty",
			Triggers:      []string{"botty"},
			SilenceMS:     3000,
			MaxBuffer:     10,
			HistorySize:   20,
			Timezone:      "America/Phoenix",
			SystemPrompt:  "You are a helpful assistant in a voice chat. Today is %DATE% and the time is %TIME%. Keep answers short and conversational.",
			TranscriptDir: "transcripts",
		},
		LLM: LLMConfig{
			Endpoint:     "http://localhost:11434/v1",
			Model:        "llama3.1",
			TimeoutMS:    60000,
			MaxToolRound: 5,
			EnableTools:  true,
		},
		STT: STTConfig{
			Endpoint:      "http://localhost:8000",
			Model:         "whisper-1",
			TimeoutMS:     30000,
			IgnorePhrases: []string{"Thank you.", "Bye."},
			Replacements:  map[string]string{},
		},
		TTS: TTSConfig{
			Type:           "openai",
			Endpoint:       "http://localhost:5005",
			OpenAIEndpoint: "http://localhost:8880",
			Model:          "tts-1",
			Voice:          "alloy",
			TimeoutMS:      30000,
		},
		Tools: ToolsConfig{
			Endpoint:        "http://localhost:5001",
			SearchTimeoutMS: 60000,
			LocalTimeoutMS:  5000,
		},
		Memory: MemoryConfig{
			Enabled:        true,
			ChatLog:        true,
			Path:           "voicebot.db",
			RecallLimit:    3,
			HistoryDays:    7,
			HistoryEntries: 5,
		},
		Playback: PlaybackConfig{
			ChunkWords:      60,
			RetryIntervalMS: 1000,
			MaxRetries:      5,
			OutputDir:       "sounds",
			RTPAddr:         "127.0.0.1:5004",
		},
		Capture: CaptureConfig{
			QueueSize:  16,
			Workers:    2,
			SampleRate: 48000,
			Channels:   2,
			TargetRate: 16000,
		},
	}
}

// Legacy environment names accepted alongside VOICEBOT_*.
var legacyEnv = map[string]string{
	"bot.triggers":           "BOT_TRIGGERS",
	"bot.history_size":       "MEMORY_SIZE",
	"bot.timezone":           "TIMEZONE",
	"bot.system_prompt":      "LLM_SYSTEM_PROMPT",
	"bot.free_system_prompt": "LLM_SYSTEM_PROMPT_FREE",
	"llm.endpoint":           "LLM_ENDPOINT",
	"llm.api_key":            "LLM_API",
	"llm.model":              "LLM",
	"llm.enable_tools":       "ENABLE_TOOLS",
	"stt.endpoint":           "STT_ENDPOINT",
	"stt.model":              "STT_MODEL",
	"tts.type":               "TTS_TYPE",
	"tts.endpoint":           "TTS_ENDPOINT",
	"tts.openai_endpoint":    "OPENAI_TTS_ENDPOINT",
	"tts.model":              "TTS_MODEL",
	"tts.voice":              "TTS_VOICE",
	"tools.endpoint":         "TOOLS_ENDPOINT",
	"memory.enabled":         "MEMORY_SYSTEM",
	"memory.chat_log":        "CHAT_LOG",
}

// Load reads configuration. An empty path looks for voicebot.toml in the
// working directory; a missing file is not an error unless path was given.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("voicebot")
		v.AddConfigPath(".")
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds v with Default() rendered through TOML so every key is
// known to viper before environment lookups.
func setDefaults(v *viper.Viper) error {
	data, err := Render(Default())
	if err != nil {
		return err
	}
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("config: seed defaults: %w", err)
	}
	for _, key := range v.AllKeys() {
		v.SetDefault(key, v.Get(key))
	}
	return nil
}

// Render encodes cfg as TOML.
func Render(cfg *Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return data, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Bot.MaxBuffer < 1:
		return errors.New("config: bot.max_buffer must be at least 1")
	case c.Bot.SilenceMS <= 0:
		return errors.New("config: bot.silence_ms must be positive")
	case c.Bot.HistorySize < 1:
		return errors.New("config: bot.history_size must be at least 1")
	case c.LLM.MaxToolRound < 1:
		return errors.New("config: llm.max_tool_rounds must be at least 1")
	case c.Playback.ChunkWords < 1:
		return errors.New("config: playback.chunk_words must be at least 1")
	case c.Playback.MaxRetries < 0:
		return errors.New("config: playback.max_retries must not be negative")
	case c.Capture.QueueSize < 1:
		return errors.New("config: capture.queue_size must be at least 1")
	}
	if _, err := time.LoadLocation(c.Bot.Timezone); err != nil {
		return fmt.Errorf("config: bot.timezone: %w", err)
	}
	return nil
}

// Ms converts a millisecond setting to a duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Location returns the configured timezone, falling back to UTC.
func (b BotConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
