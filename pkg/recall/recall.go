// Package recall assembles the context sent with each turn: the system
// priming message on a chat's first turn, memories pulled in by keywords the
// speakers used, and recent chat history. It also records answered turns.
package recall

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-voicebot/pkg/inference"
	"github.com/teslashibe/go-voicebot/pkg/memory"
	"github.com/teslashibe/go-voicebot/pkg/session"
)

// Defaults for recall limits.
const (
	DefaultRecallLimit    = 3
	DefaultHistoryDays    = 7
	DefaultHistoryEntries = 5
	DefaultTokenWarn      = 3000
)

// Config configures a Builder.
type Config struct {
	// SystemPrompt primes trigger and transcribe sessions; FreePrompt primes
	// free sessions. Both accept %DATE%, %TIME%, %YEAR% and %DATETIME%.
	SystemPrompt string
	FreePrompt   string

	// Memories enables keyword recall and the memory instructions.
	Memories bool

	// ChatLog enables recent history injection and turn recording.
	ChatLog bool

	RecallLimit    int
	HistoryDays    int
	HistoryEntries int
	TokenWarn      int

	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// Option configures a Builder.
type Option func(*Config)

// WithPrompts sets the trigger and free mode system prompts.
func WithPrompts(system, free string) Option {
	return func(c *Config) { c.SystemPrompt, c.FreePrompt = system, free }
}

// WithMemories toggles memory recall.
func WithMemories(on bool) Option { return func(c *Config) { c.Memories = on } }

// WithChatLog toggles history injection and turn recording.
func WithChatLog(on bool) Option { return func(c *Config) { c.ChatLog = on } }

// WithLimits sets the recall limit and the history window.
func WithLimits(recall, days, entries int) Option {
	return func(c *Config) { c.RecallLimit, c.HistoryDays, c.HistoryEntries = recall, days, entries }
}

// WithLocation sets the timezone used for prompt placeholders.
func WithLocation(loc *time.Location) Option { return func(c *Config) { c.Location = loc } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Config) { c.Now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Memories:       true,
		ChatLog:        true,
		RecallLimit:    DefaultRecallLimit,
		HistoryDays:    DefaultHistoryDays,
		HistoryEntries: DefaultHistoryEntries,
		TokenWarn:      DefaultTokenWarn,
		Location:       time.Local,
		Now:            time.Now,
		Logger:         slog.Default(),
	}
}

// Participant is someone contributing to a turn.
type Participant struct {
	ID          string
	DisplayName string
}

// Turn is the context needed to prepare one dispatch.
type Turn struct {
	Text         string
	Owner        string
	SessionID    string
	Free         bool
	Participants []Participant
}

// Result reports what Prepare added.
type Result struct {
	// Primed is set when the system priming message was written.
	Primed bool

	// Memories recalled for this turn.
	Memories []memory.Record

	// History is the number of chat log entries injected.
	History int

	// PromptTokens estimates the priming message size.
	PromptTokens int
}

// Injected reports whether memories or history were added, which lets the
// chat grow by two extra messages this turn.
func (r Result) Injected() bool {
	return len(r.Memories) > 0 || r.History > 0
}

// Builder prepares turn context. Store and Log may be nil when the
// corresponding feature is off.
type Builder struct {
	store  memory.Store
	log    memory.ChatLog
	cfg    Config
	logger *slog.Logger
}

// New creates a Builder.
func New(store memory.Store, chatLog memory.ChatLog, opts ...Option) *Builder {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = DefaultRecallLimit
	}
	if cfg.TokenWarn <= 0 {
		cfg.TokenWarn = DefaultTokenWarn
	}
	return &Builder{
		store:  store,
		log:    chatLog,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "recall.builder"),
	}
}

// MatchKeywords returns the stored memory keywords spoken in text.
func (b *Builder) MatchKeywords(text string) []string {
	if !b.memoriesOn() {
		return nil
	}
	return memory.MatchKeywords(text, b.store.Keywords())
}

// Prepare adds this turn's context to chat. On a chat's first turn it writes
// the system priming message; later turns only get recalled memories as an
// extra system message. The turn's own user message is not added. Store
// failures are logged and leave the turn without memories; only context
// cancellation is returned.
func (b *Builder) Prepare(ctx context.Context, chat *session.Chat, turn Turn) (Result, error) {
	var res Result

	if found := b.MatchKeywords(turn.Text); len(found) > 0 {
		b.logger.Info("memory keywords matched", "owner", turn.Owner, "keywords", found)
		recs, err := b.store.FindByKeywords(ctx, turn.Owner, turn.SessionID, found, b.cfg.RecallLimit)
		switch {
		case ctx.Err() != nil:
			return res, ctx.Err()
		case err != nil:
			b.logger.Warn("memory recall failed", "owner", turn.Owner, "error", err)
		default:
			res.Memories = recs
		}
	}

	if chat.Len() > 0 {
		if len(res.Memories) > 0 {
			chat.Append(inference.NewSystemMessage("=== MEMORIES RECALLED ===\n" + FormatMemories(res.Memories, b.cfg.Location)))
			b.logger.Info("memories injected into ongoing chat", "owner", turn.Owner, "count", len(res.Memories))
		}
		return res, nil
	}

	var sb strings.Builder
	prompt := b.cfg.SystemPrompt
	if turn.Free && b.cfg.FreePrompt != "" {
		prompt = b.cfg.FreePrompt
	}
	sb.WriteString(ExpandPlaceholders(prompt, b.cfg.Now().In(b.cfg.Location)))
	sb.WriteString(participantsSection(turn.Participants))
	if b.memoriesOn() {
		sb.WriteString(MemoryInstructions)
	}
	if len(res.Memories) > 0 {
		sb.WriteString("\n")
		sb.WriteString(FormatMemories(res.Memories, b.cfg.Location))
	}

	if b.chatLogOn() {
		entries, err := b.log.RecentChats(ctx, turn.Owner, turn.SessionID, b.cfg.HistoryDays, b.cfg.HistoryEntries)
		if err != nil {
			b.logger.Warn("recent chats unavailable", "owner", turn.Owner, "error", err)
		} else if len(entries) > 0 {
			sb.WriteString(FormatHistory(entries, b.cfg.Location))
			res.History = len(entries)
		}
	}

	system := sb.String()
	chat.Append(inference.NewSystemMessage(system))
	res.Primed = true
	res.PromptTokens = EstimateTokens(system)

	b.logger.Info("chat primed",
		"owner", turn.Owner,
		"participants", len(turn.Participants),
		"memories", len(res.Memories),
		"history", res.History,
		"prompt_tokens", res.PromptTokens,
	)
	if res.PromptTokens > b.cfg.TokenWarn {
		b.logger.Warn("large prompt", "prompt_tokens", res.PromptTokens)
	}
	return res, nil
}

// Record persists an answered turn to the chat log.
func (b *Builder) Record(ctx context.Context, turn Turn, answer string) error {
	if !b.chatLogOn() {
		return nil
	}
	name := ""
	for _, p := range turn.Participants {
		if p.ID == turn.Owner {
			name = p.DisplayName
		}
	}
	return b.log.AppendChat(ctx, memory.ChatEntry{
		OwnerID:     turn.Owner,
		SessionID:   turn.SessionID,
		DisplayName: name,
		UserMessage: turn.Text,
		Response:    answer,
		At:          b.cfg.Now(),
	})
}

func (b *Builder) memoriesOn() bool { return b.cfg.Memories && b.store != nil }
func (b *Builder) chatLogOn() bool  { return b.cfg.ChatLog && b.log != nil }

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
