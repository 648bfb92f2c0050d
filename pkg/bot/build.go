package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-voicebot/internal/config"
	"github.com/teslashibe/go-voicebot/internal/httpc"
	"github.com/teslashibe/go-voicebot/pkg/audio"
	"github.com/teslashibe/go-voicebot/pkg/hub"
	"github.com/teslashibe/go-voicebot/pkg/inference"
	"github.com/teslashibe/go-voicebot/pkg/memory"
	"github.com/teslashibe/go-voicebot/pkg/playback"
	"github.com/teslashibe/go-voicebot/pkg/stt"
	"github.com/teslashibe/go-voicebot/pkg/tools"
	"github.com/teslashibe/go-voicebot/pkg/tts"
)

// Build creates every service named by cfg and assembles the bot.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var deps Deps
	fail := func(err error) (*App, error) {
		for _, c := range deps.Closers {
			c.Close()
		}
		return nil, err
	}

	llm, err := BuildLLM(cfg.LLM, logger)
	if err != nil {
		return fail(err)
	}
	deps.LLM = llm
	deps.Closers = append(deps.Closers, llm)

	transcriber, err := stt.NewClient(
		stt.WithBaseURL(cfg.STT.Endpoint),
		stt.WithAPIKey(cfg.STT.APIKey),
		stt.WithModel(cfg.STT.Model),
		stt.WithTimeout(config.Ms(cfg.STT.TimeoutMS)),
		stt.WithLogger(logger),
	)
	if err != nil {
		return fail(fmt.Errorf("bot: stt: %w", err))
	}
	deps.STT = transcriber
	deps.Closers = append(deps.Closers, transcriber)

	synth, err := BuildTTS(cfg.TTS, logger)
	if err != nil {
		return fail(err)
	}
	deps.TTS = synth
	deps.Closers = append(deps.Closers, synth)

	player, closer := BuildPlayer(cfg.Playback, logger)
	deps.Player = player
	if closer != nil {
		deps.Closers = append(deps.Closers, closer)
	}

	if cfg.Memory.Enabled || cfg.Memory.ChatLog {
		store, err := memory.OpenSQLite(cfg.Memory.Path, logger)
		if err != nil {
			return fail(err)
		}
		deps.Store = store
		deps.Closers = append(deps.Closers, store)
	}

	deps.Tools, err = BuildTools(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	deps.Events = hub.New("events", logger)

	app, err := New(cfg, deps, logger)
	if err != nil {
		return fail(err)
	}
	return app, nil
}

// BuildLLM creates the chat client, chained with the fallback endpoint when
// one is configured. Each client sends its own model.
func BuildLLM(cfg config.LLMConfig, logger *slog.Logger) (inference.Provider, error) {
	timeout := config.Ms(cfg.TimeoutMS)
	primary, err := inference.NewClient(
		inference.WithBaseURL(cfg.Endpoint),
		inference.WithAPIKey(cfg.APIKey),
		inference.WithModel(cfg.Model),
		inference.WithTimeout(timeout),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("bot: llm: %w", err)
	}
	if cfg.FallbackEndpoint == "" {
		return primary, nil
	}

	model := cfg.FallbackModel
	if model == "" {
		model = cfg.Model
	}
	fallback, err := inference.NewClient(
		inference.WithBaseURL(cfg.FallbackEndpoint),
		inference.WithAPIKey(cfg.FallbackAPIKey),
		inference.WithModel(model),
		inference.WithTimeout(timeout),
		inference.WithLogger(logger),
	)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("bot: llm fallback: %w", err)
	}
	chain, err := inference.NewChain(logger, primary, fallback)
	if err != nil {
		return nil, fmt.Errorf("bot: llm: %w", err)
	}
	return chain, nil
}

// BuildTTS creates the configured backend, falling back to the other one
// when it is configured too.
func BuildTTS(cfg config.TTSConfig, logger *slog.Logger) (tts.Provider, error) {
	backends := []string{tts.BackendOpenAI, tts.BackendLocal}
	switch strings.ToLower(cfg.Type) {
	case "", tts.BackendOpenAI:
	case tts.BackendLocal, "local":
		backends[0], backends[1] = backends[1], backends[0]
	default:
		return nil, fmt.Errorf("%w: %s", tts.ErrUnknownBackend, cfg.Type)
	}

	var providers []tts.Provider
	for _, name := range backends {
		opts := []tts.Option{tts.WithTimeout(config.Ms(cfg.TimeoutMS)), tts.WithLogger(logger)}
		if name == tts.BackendOpenAI {
			if cfg.OpenAIEndpoint == "" {
				continue
			}
			opts = append(opts,
				tts.WithBaseURL(strings.TrimSuffix(cfg.OpenAIEndpoint, "/")+"/v1"),
				tts.WithAPIKey(cfg.APIKey),
				tts.WithModel(cfg.Model),
				tts.WithVoice(cfg.Voice),
			)
		} else {
			if cfg.Endpoint == "" {
				continue
			}
			opts = append(opts, tts.WithBaseURL(cfg.Endpoint))
		}
		p, err := tts.New(name, opts...)
		if err != nil {
			return nil, fmt.Errorf("bot: tts %s: %w", name, err)
		}
		providers = append(providers, p)
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	chain, err := tts.NewChain(logger, providers...)
	if err != nil {
		return nil, fmt.Errorf("bot: tts: %w", err)
	}
	return chain, nil
}

// BuildPlayer returns an RTP player when an address is configured and a
// local command player otherwise. The closer is nil for the latter.
func BuildPlayer(cfg config.PlaybackConfig, logger *slog.Logger) (playback.Player, io.Closer) {
	if cfg.RTPAddr != "" {
		p := audio.NewRTPPlayer(cfg.RTPAddr, logger)
		return p, p
	}
	return audio.NewCommandPlayer(nil, logger), nil
}

// BuildTools creates the catalog. Search uses Google when a key and engine
// id are configured, the remote tool server when an endpoint is, and is left
// out otherwise.
func BuildTools(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	var searcher tools.Searcher
	switch {
	case cfg.Tools.GoogleAPIKey != "" && cfg.Tools.GoogleEngineID != "":
		g, err := tools.NewGoogleSearcher(ctx, cfg.Tools.GoogleAPIKey, cfg.Tools.GoogleEngineID)
		if err != nil {
			return nil, fmt.Errorf("bot: search: %w", err)
		}
		searcher = g
	case cfg.Tools.Endpoint != "":
		client := tools.NewRemoteClient(cfg.Tools.Endpoint, httpc.NewClient(config.Ms(cfg.Tools.SearchTimeoutMS)))
		searcher = tools.RemoteSearcher{Client: client}
	}

	return tools.Catalog(tools.CatalogConfig{
		Searcher:      searcher,
		SearchTimeout: config.Ms(cfg.Tools.SearchTimeoutMS),
		LocalTimeout:  config.Ms(cfg.Tools.LocalTimeoutMS),
		Location:      cfg.Bot.Location(),
		Logger:        logger,
	})
}
