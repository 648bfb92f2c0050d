// Package session owns the state of the one active voice session: its
// identifier, mode, per-speaker chat histories and optional transcript.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionActive is returned when starting while a session is running.
	ErrSessionActive = errors.New("session: a session is already active")

	// ErrNoSession is returned when no session is active.
	ErrNoSession = errors.New("session: no active session")

	// ErrUnknownMode is returned by ParseMode.
	ErrUnknownMode = errors.New("session: unknown mode")
)

// Mode selects how the bot listens.
type Mode int

const (
	// ModeTrigger answers only when addressed by a trigger word, or when a
	// single speaker is talking.
	ModeTrigger Mode = iota

	// ModeFree answers every turn without a trigger word.
	ModeFree

	// ModeTranscribe behaves like ModeTrigger and also keeps a transcript
	// that is returned when the session ends.
	ModeTranscribe
)

func (m Mode) String() string {
	switch m {
	case ModeFree:
		return "free"
	case ModeTranscribe:
		return "transcribe"
	default:
		return "trigger"
	}
}

// ParseMode parses a mode name. The empty string is ModeTrigger.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trigger", "default":
		return ModeTrigger, nil
	case "free":
		return ModeFree, nil
	case "transcribe", "transcription":
		return ModeTranscribe, nil
	}
	return ModeTrigger, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Session is one active voice session.
type Session struct {
	ID        string
	Mode      Mode
	StartedAt time.Time

	Chats      *Chats
	Transcript *Transcript
}

// NeedsTrigger reports whether turns must name the bot to be answered.
func (s *Session) NeedsTrigger() bool {
	return s.Mode != ModeFree
}

// Summary describes a session that has ended.
type Summary struct {
	ID         string
	Mode       Mode
	Duration   time.Duration
	Transcript string
}

// Manager enforces that at most one session is active at a time.
type Manager struct {
	mu            sync.Mutex
	active        *Session
	transcriptDir string
	now           func() time.Time
	logger        *slog.Logger
}

// NewManager creates a manager. Transcripts are written under transcriptDir.
func NewManager(transcriptDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if transcriptDir == "" {
		transcriptDir = "."
	}
	return &Manager{
		transcriptDir: transcriptDir,
		now:           time.Now,
		logger:        logger.With("component", "session.manager"),
	}
}

// Start begins a new session. It fails with ErrSessionActive if one is
// already running.
func (m *Manager) Start(mode Mode) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrSessionActive
	}

	s := &Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: m.now(),
		Chats:     NewChats(),
	}
	if mode == ModeTranscribe {
		t, err := NewTranscript(m.transcriptDir, s.ID)
		if err != nil {
			return nil, err
		}
		s.Transcript = t
	}
	m.active = s
	m.logger.Info("session started", "session", s.ID, "mode", mode)
	return s, nil
}

// Active returns the running session.
func (m *Manager) Active() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// End stops the running session and returns its summary. The transcript, if
// any, is read into the summary and its file removed.
func (m *Manager) End() (Summary, error) {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()

	if s == nil {
		return Summary{}, ErrNoSession
	}

	sum := Summary{ID: s.ID, Mode: s.Mode, Duration: m.now().Sub(s.StartedAt)}
	if s.Transcript != nil {
		text, err := s.Transcript.Finalize()
		if err != nil {
			m.logger.Warn("transcript finalize failed", "session", s.ID, "error", err)
		}
		sum.Transcript = text
	}
	s.Chats.Reset()
	m.logger.Info("session ended", "session", s.ID, "duration", sum.Duration)
	return sum, nil
}
