// Package bot wires the voice pipeline together: capture feeds the
// aggregator, completed turns go to the dispatcher, and answers are spoken
// through the speaker. A process-wide thinking flag spans dispatch through
// playback; captures arriving while it is set are discarded.
package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicebot/internal/config"
	"github.com/teslashibe/go-voicebot/pkg/aggregator"
	"github.com/teslashibe/go-voicebot/pkg/capture"
	"github.com/teslashibe/go-voicebot/pkg/dispatch"
	"github.com/teslashibe/go-voicebot/pkg/hub"
	"github.com/teslashibe/go-voicebot/pkg/inference"
	"github.com/teslashibe/go-voicebot/pkg/memory"
	"github.com/teslashibe/go-voicebot/pkg/playback"
	"github.com/teslashibe/go-voicebot/pkg/recall"
	"github.com/teslashibe/go-voicebot/pkg/session"
	"github.com/teslashibe/go-voicebot/pkg/speech"
	"github.com/teslashibe/go-voicebot/pkg/stt"
	"github.com/teslashibe/go-voicebot/pkg/tools"
	"github.com/teslashibe/go-voicebot/pkg/tts"
	"github.com/teslashibe/go-voicebot/pkg/web"
)

// TranscribeNotice is spoken when a transcribe session starts.
const TranscribeNotice = "Transcription mode is enabled for this conversation. Once you use the leave command, a transcription of the conversation will be returned."

// Deps are the external services the bot talks to.
type Deps struct {
	LLM    inference.Provider
	STT    stt.Transcriber
	TTS    tts.Provider
	Player playback.Player

	// Store backs memories and the chat log. Nil disables both.
	Store *memory.SQLiteStore
	Tools *tools.Registry

	// Events receives the live feed. Optional.
	Events *hub.Hub

	// Closers are released by Close, after the pipeline stops.
	Closers []io.Closer
}

// App is a running bot.
type App struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	sessions   *session.Manager
	aggregator *aggregator.Aggregator
	dispatcher *dispatch.Dispatcher
	speaker    *speech.Speaker
	capture    *capture.Pipeline

	thinking atomic.Bool
}

// New assembles the pipeline from cfg and deps.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*App, error) {
	if deps.LLM == nil || deps.STT == nil || deps.TTS == nil || deps.Player == nil {
		return nil, errors.New("bot: llm, stt, tts and player are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With("component", "bot.app"),
		sessions: session.NewManager(cfg.Bot.TranscriptDir, logger),
	}

	var (
		store   memory.Store
		chatLog memory.ChatLog
		exec    *memory.Executor
	)
	if deps.Store != nil {
		store, chatLog = deps.Store, deps.Store
		exec = &memory.Executor{Store: deps.Store, Logger: logger.With("component", "memory.executor")}
	}
	loc := cfg.Bot.Location()
	builder := recall.New(store, chatLog,
		recall.WithPrompts(cfg.Bot.SystemPrompt, cfg.Bot.FreeSystemPrompt),
		recall.WithMemories(cfg.Memory.Enabled),
		recall.WithChatLog(cfg.Memory.ChatLog),
		recall.WithLimits(cfg.Memory.RecallLimit, cfg.Memory.HistoryDays, cfg.Memory.HistoryEntries),
		recall.WithLocation(loc),
		recall.WithLogger(logger),
	)

	var toolset dispatch.Tools
	if deps.Tools != nil {
		toolset = deps.Tools
	}
	d, err := dispatch.New(deps.LLM, toolset, builder, exec, a.sessions,
		dispatch.WithMaxRounds(cfg.LLM.MaxToolRound),
		dispatch.WithHistorySize(cfg.Bot.HistorySize),
		dispatch.WithTools(cfg.LLM.EnableTools),
		dispatch.WithMemories(cfg.Memory.Enabled),
		dispatch.WithToolObserver(a.observeTool),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	a.dispatcher = d

	a.speaker, err = speech.New(deps.TTS, deps.Player,
		speech.WithDir(cfg.Playback.OutputDir),
		speech.WithMaxWords(cfg.Playback.ChunkWords),
		speech.WithPlayback(
			playback.WithRetryInterval(config.Ms(cfg.Playback.RetryIntervalMS)),
			playback.WithMaxRetries(cfg.Playback.MaxRetries),
		),
		speech.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	a.aggregator = aggregator.New(
		aggregator.WithTriggers(cfg.Bot.Triggers...),
		aggregator.WithMaxBuffer(cfg.Bot.MaxBuffer),
		aggregator.WithSilence(config.Ms(cfg.Bot.SilenceMS)),
		aggregator.WithTurnHandler(a.handleTurn),
		aggregator.WithControlHandlers(a.Reset, a.leaveByVoice),
		aggregator.WithLogger(logger),
	)

	a.capture, err = capture.New(deps.STT, a.aggregator, a.thinking.Load,
		capture.WithWorkers(cfg.Capture.Workers),
		capture.WithQueueSize(cfg.Capture.QueueSize),
		capture.WithFormat(cfg.Capture.SampleRate, cfg.Capture.Channels),
		capture.WithTargetRate(cfg.Capture.TargetRate),
		capture.WithTranscribeTimeout(config.Ms(cfg.STT.TimeoutMS)),
		capture.WithReplacements(cfg.STT.Replacements),
		capture.WithIgnore(cfg.STT.IgnorePhrases...),
		capture.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Sessions exposes the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Thinking reports whether a turn is being answered or spoken.
func (a *App) Thinking() bool { return a.thinking.Load() }

// Join starts a session in mode.
func (a *App) Join(ctx context.Context, mode session.Mode) (*session.Session, error) {
	sess, err := a.sessions.Start(mode)
	if err != nil {
		return nil, err
	}
	a.aggregator.Clear()
	a.aggregator.SetFreeMode(!sess.NeedsTrigger())
	a.publish(hub.EventSessionStarted, sess.ID, map[string]string{"mode": mode.String()})

	if mode == session.ModeTranscribe {
		go a.say(context.WithoutCancel(ctx), TranscribeNotice)
	}
	return sess, nil
}

// Leave ends the session and returns its summary.
func (a *App) Leave(ctx context.Context) (session.Summary, error) {
	a.aggregator.Clear()
	sum, err := a.sessions.End()
	if err != nil {
		return sum, err
	}
	a.publish(hub.EventSessionEnded, sum.ID, map[string]any{
		"mode":     sum.Mode.String(),
		"duration": sum.Duration.String(),
	})
	return sum, nil
}

func (a *App) leaveByVoice(ctx context.Context) {
	if _, err := a.Leave(ctx); err != nil {
		a.logger.Warn("voice leave failed", "error", err)
	}
}

// Reset clears every chat of the active session.
func (a *App) Reset(context.Context) {
	sess, ok := a.sessions.Active()
	if !ok {
		return
	}
	sess.Chats.Reset()
	a.logger.Info("chat history reset", "session", sess.ID)
	a.publish(hub.EventChatReset, sess.ID, nil)
}

// Submit queues a capture for transcription.
func (a *App) Submit(c capture.Capture) error {
	if _, ok := a.sessions.Active(); !ok {
		return session.ErrNoSession
	}
	return a.capture.Submit(c)
}

// Status reports the bot state.
func (a *App) Status() web.Status {
	st := web.Status{
		Thinking: a.thinking.Load(),
		Buffered: a.aggregator.Pending(),
		Capture:  a.capture.Stats(),
		Tools:    []string{},
	}
	if a.deps.Tools != nil && a.cfg.LLM.EnableTools {
		st.Tools = a.deps.Tools.Names()
	}
	if sess, ok := a.sessions.Active(); ok {
		started := sess.StartedAt
		st.Active = true
		st.Session = sess.ID
		st.Mode = sess.Mode.String()
		st.StartedAt = &started
	}
	return st
}

// handleTurn answers one aggregated turn and speaks the reply.
func (a *App) handleTurn(ctx context.Context, turn aggregator.Turn) {
	if !a.thinking.CompareAndSwap(false, true) {
		// Only say() holds the flag outside a turn; retry after it finishes.
		a.logger.Warn("already thinking, turn requeued", "primary", turn.Primary.ID, "utterances", len(turn.Utterances))
		a.aggregator.Requeue(turn)
		return
	}
	defer a.thinking.Store(false)

	sess, ok := a.sessions.Active()
	if !ok {
		return
	}
	start := time.Now()
	a.publish(hub.EventTurnDispatched, sess.ID, map[string]any{
		"primary":      turn.Primary.ID,
		"participants": len(turn.Participants),
		"reason":       string(turn.Reason),
		"text":         turn.Text,
	})

	participants := make([]recall.Participant, len(turn.Participants))
	for i, p := range turn.Participants {
		participants[i] = recall.Participant{ID: p.ID, DisplayName: p.DisplayName}
	}
	primary := recall.Participant{ID: turn.Primary.ID, DisplayName: turn.Primary.DisplayName}

	answer, err := a.dispatcher.Dispatch(ctx, turn.Text, primary, participants)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, dispatch.ErrIgnored) {
			level = slog.LevelInfo
		}
		a.logger.Log(ctx, level, "turn dropped", "primary", primary.ID, "error", err)
		a.publish(hub.EventTurnDropped, sess.ID, map[string]string{"error": err.Error()})
		return
	}
	a.publish(hub.EventAnswer, sess.ID, map[string]any{
		"primary":    primary.ID,
		"text":       answer,
		"latency_ms": time.Since(start).Milliseconds(),
	})

	a.speak(ctx, sess.ID, answer)
}

// say speaks text outside of a turn, holding the thinking flag.
func (a *App) say(ctx context.Context, text string) {
	if !a.thinking.CompareAndSwap(false, true) {
		return
	}
	defer a.thinking.Store(false)

	var id string
	if sess, ok := a.sessions.Active(); ok {
		id = sess.ID
	}
	a.speak(ctx, id, text)
}

func (a *App) speak(ctx context.Context, sessionID, text string) {
	if err := a.speaker.Speak(ctx, text); err != nil {
		a.publish(hub.EventPlaybackAbandoned, sessionID, map[string]string{"error": err.Error()})
		return
	}
	a.publish(hub.EventPlaybackFinished, sessionID, nil)
}

func (a *App) observeTool(call inference.ToolCall, result string, took time.Duration) {
	var id string
	if sess, ok := a.sessions.Active(); ok {
		id = sess.ID
	}
	a.publish(hub.EventToolCalled, id, map[string]any{
		"tool":        call.Name,
		"arguments":   call.Arguments,
		"result":      result,
		"duration_ms": took.Milliseconds(),
	})
}

func (a *App) publish(typ, sessionID string, data any) {
	if a.deps.Events != nil {
		a.deps.Events.Publish(hub.NewEvent(typ, sessionID, data))
	}
}

// Serve runs the event hub and the control API on cfg.Server.Addr until
// ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if a.deps.Events != nil {
		go a.deps.Events.Run(ctx)
	}
	var runner web.ToolRunner
	if a.deps.Tools != nil {
		runner = a.deps.Tools
	}
	srv := web.NewServer(a, runner, a.deps.Events, a.logger)
	return srv.ListenAndServe(ctx, a.cfg.Server.Addr)
}

// Close stops the pipeline and releases the services.
func (a *App) Close() error {
	var errs []error
	a.aggregator.Close()
	errs = append(errs, a.capture.Close())
	if _, err := a.sessions.End(); err != nil && !errors.Is(err, session.ErrNoSession) {
		errs = append(errs, err)
	}
	for _, c := range a.deps.Closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

var _ web.Controller = (*App)(nil)
