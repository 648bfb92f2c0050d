// Package dispatch runs one conversational turn against the language model:
// it drives the tool-calling loop, then post-processes the final answer
// (ignore sentinel, memory instructions, cleanup) and records it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-voicebot/pkg/inference"
	"github.com/teslashibe/go-voicebot/pkg/memory"
	"github.com/teslashibe/go-voicebot/pkg/recall"
	"github.com/teslashibe/go-voicebot/pkg/session"
)

var (
	// ErrRoundLimit is returned when the model keeps calling tools past the
	// round cap. The turn is dropped.
	ErrRoundLimit = errors.New("dispatch: tool round limit reached")

	// ErrIgnored is returned when the model declined to answer.
	ErrIgnored = errors.New("dispatch: model ignored the turn")

	// ErrEmptyResponse is returned when nothing speakable is left.
	ErrEmptyResponse = errors.New("dispatch: empty response")

	// ErrNoSession is returned when no voice session is active.
	ErrNoSession = errors.New("dispatch: no active session")
)

// Tools runs catalog tools. Execute never fails; errors come back as text.
type Tools interface {
	Definitions() []inference.Tool
	Execute(ctx context.Context, name, arguments string) string
}

// Sessions yields the active session.
type Sessions interface {
	Active() (*session.Session, bool)
}

// Config configures a Dispatcher.
type Config struct {
	Model       string
	MaxRounds   int
	HistorySize int
	Tools       bool
	Memories    bool

	// OnToolCall, if set, observes every executed call.
	OnToolCall func(call inference.ToolCall, result string, took time.Duration)

	Logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Config)

// WithModel sets the model name sent with each request.
func WithModel(m string) Option { return func(c *Config) { c.Model = m } }

// WithMaxRounds caps model round trips per turn.
func WithMaxRounds(n int) Option { return func(c *Config) { c.MaxRounds = n } }

// WithHistorySize bounds the chat kept per speaker.
func WithHistorySize(n int) Option { return func(c *Config) { c.HistorySize = n } }

// WithTools toggles offering the tool catalog.
func WithTools(on bool) Option { return func(c *Config) { c.Tools = on } }

// WithMemories toggles executing memory instructions.
func WithMemories(on bool) Option { return func(c *Config) { c.Memories = on } }

// WithToolObserver sets the OnToolCall hook.
func WithToolObserver(fn func(inference.ToolCall, string, time.Duration)) Option {
	return func(c *Config) { c.OnToolCall = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRounds:   5,
		HistorySize: 20,
		Tools:       true,
		Memories:    true,
		Logger:      slog.Default(),
	}
}

// Dispatcher turns aggregated turns into answers.
type Dispatcher struct {
	llm      inference.Provider
	tools    Tools
	context  *recall.Builder
	memory   *memory.Executor
	sessions Sessions
	cfg      Config
	logger   *slog.Logger
}

// New creates a Dispatcher. tools and mem may be nil.
func New(llm inference.Provider, tools Tools, ctxBuilder *recall.Builder, mem *memory.Executor, sessions Sessions, opts ...Option) (*Dispatcher, error) {
	if llm == nil {
		return nil, inference.ErrProviderUnavailable
	}
	if ctxBuilder == nil || sessions == nil {
		return nil, errors.New("dispatch: context builder and sessions are required")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 1
	}
	if cfg.HistorySize < 2 {
		cfg.HistorySize = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		llm:      llm,
		tools:    tools,
		context:  ctxBuilder,
		memory:   mem,
		sessions: sessions,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "dispatch.dispatcher"),
	}, nil
}

// Dispatch answers one turn on behalf of primary and returns the text to
// speak. Any error means the turn was dropped and the speaker's chat is
// left as it was.
func (d *Dispatcher) Dispatch(ctx context.Context, turnText string, primary recall.Participant, participants []recall.Participant) (string, error) {
	sess, ok := d.sessions.Active()
	if !ok {
		return "", ErrNoSession
	}
	logger := d.logger.With("session", sess.ID, "owner", primary.ID)

	chat := sess.Chats.Get(primary.ID)
	work := chat.Clone()
	turn := recall.Turn{
		Text:         turnText,
		Owner:        primary.ID,
		SessionID:    sess.ID,
		Free:         !sess.NeedsTrigger(),
		Participants: participants,
	}

	res, err := d.context.Prepare(ctx, work, turn)
	if err != nil {
		return "", err
	}
	work.Append(inference.NewUserMessage(turnText))
	limit := d.cfg.HistorySize
	if res.Injected() {
		limit += 2
	}
	work.Trim(limit)

	reply, err := d.converse(ctx, work, logger)
	if err != nil {
		return "", err
	}
	if strings.Contains(reply, IgnoreSentinel) {
		logger.Info("model ignored the turn")
		return "", ErrIgnored
	}

	instrs, rest := memory.ParseInstructions(reply)
	if len(instrs) > 0 {
		if d.cfg.Memories && d.memory != nil {
			n := d.memory.Apply(ctx, primary.ID, sess.ID, instrs)
			logger.Info("memory instructions applied", "instructions", len(instrs), "changed", n)
		} else {
			logger.Debug("memory instructions discarded", "instructions", len(instrs))
		}
	}

	answer := Clean(rest)
	if answer == "" {
		return "", ErrEmptyResponse
	}

	work.Append(inference.NewAssistantMessage(answer))
	chat.Replace(work.Messages())

	if err := d.context.Record(ctx, turn, answer); err != nil {
		logger.Warn("chat log write failed", "error", err)
	}
	if sess.Transcript != nil {
		if err := sess.Transcript.Append(turnText, answer); err != nil {
			logger.Warn("transcript write failed", "error", err)
		}
	}
	logger.Info("turn answered", "chars", len(answer))
	return answer, nil
}

// converse runs the model until it answers without tool calls.
func (d *Dispatcher) converse(ctx context.Context, chat *session.Chat, logger *slog.Logger) (string, error) {
	var defs []inference.Tool
	if d.cfg.Tools && d.tools != nil {
		defs = d.tools.Definitions()
	}

	for round := 1; round <= d.cfg.MaxRounds; round++ {
		req := &inference.ChatRequest{
			Model:    d.cfg.Model,
			Messages: chat.Messages(),
			Tools:    defs,
		}
		if len(defs) > 0 {
			req.ToolChoice = "auto"
		}

		logger.Debug("sending model request", "round", round, "max_rounds", d.cfg.MaxRounds, "messages", len(req.Messages))
		resp, err := d.llm.Chat(ctx, req)
		if err != nil {
			return "", fmt.Errorf("dispatch: model request: %w", err)
		}

		if len(defs) == 0 || !resp.HasToolCalls() {
			logger.Debug("final reply received", "round", round, "chars", len(resp.Message.Content))
			return resp.Message.Content, nil
		}

		calls := resp.Message.ToolCalls
		logger.Info("model requested tools", "round", round, "calls", len(calls))
		chat.Append(inference.NewToolCallMessage(resp.Message.Content, calls))
		for _, call := range calls {
			start := time.Now()
			result := d.tools.Execute(ctx, call.Name, call.Arguments)
			chat.Append(inference.NewToolMessage(call.ID, call.Name, result))
			if d.cfg.OnToolCall != nil {
				d.cfg.OnToolCall(call, result, time.Since(start))
			}
		}
	}

	logger.Warn("tool round limit reached", "max_rounds", d.cfg.MaxRounds)
	return "", ErrRoundLimit
}
