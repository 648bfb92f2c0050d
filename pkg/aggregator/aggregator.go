// Package aggregator groups transcribed utterances from several speakers
// into conversational turns and decides when a turn is complete.
//
// A turn is dispatched at once when the buffer is full, when the latest
// utterance names the bot (or the session needs no trigger) or when only one
// person is talking. Otherwise it waits for a stretch of silence.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("aggregator: closed")

// Utterance is one transcribed capture.
type Utterance struct {
	SpeakerID   string
	DisplayName string
	Text        string
	CapturedAt  time.Time
}

// Participant is someone who spoke during a turn.
type Participant struct {
	ID          string
	DisplayName string
}

// Reason records why a turn was dispatched.
type Reason string

const (
	ReasonBufferFull Reason = "buffer_full"
	ReasonTrigger    Reason = "trigger"
	ReasonFreeMode   Reason = "free_mode"
	ReasonSolo       Reason = "solo"
	ReasonSilence    Reason = "silence"
)

// Decision is what OnUtterance did with an utterance.
type Decision int

const (
	// Wait means the utterance was buffered and the silence timer armed.
	Wait Decision = iota
	// Dispatch means the buffer was flushed.
	Dispatch
	// Dropped means the utterance was discarded.
	Dropped
)

func (d Decision) String() string {
	switch d {
	case Dispatch:
		return "dispatch"
	case Dropped:
		return "dropped"
	default:
		return "wait"
	}
}

// Turn is a completed, snapshotted buffer.
type Turn struct {
	// Text is one "Name: text" line per utterance.
	Text         string
	Utterances   []Utterance
	Primary      Participant
	Participants []Participant
	Reason       Reason
}

// Spoken returns the utterance texts without speaker names.
func (t Turn) Spoken() string {
	parts := make([]string, len(t.Utterances))
	for i, u := range t.Utterances {
		parts[i] = u.Text
	}
	return strings.Join(parts, " ")
}

// Aggregator buffers utterances until a turn is complete.
type Aggregator struct {
	cfg     Config
	trigger *regexp.Regexp
	logger  *slog.Logger

	mu           sync.Mutex
	buffer       []Utterance
	lastActivity time.Time
	timer        *time.Timer
	timerGen     uint64
	processing   bool
	free         bool
	closed       bool

	// base is the context handed to timer-driven flushes.
	base   context.Context
	cancel context.CancelFunc
}

// New creates an Aggregator.
func New(opts ...Option) *Aggregator {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	base, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		cfg:     cfg,
		trigger: triggerPattern(cfg.Triggers),
		logger:  cfg.Logger.With("component", "aggregator.aggregator"),
		base:    base,
		cancel:  cancel,
	}
}

func triggerPattern(words []string) *regexp.Regexp {
	var alts []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			alts = append(alts, regexp.QuoteMeta(w))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// SetFreeMode switches whether turns need a trigger word.
func (a *Aggregator) SetFreeMode(free bool) {
	a.mu.Lock()
	a.free = free
	a.mu.Unlock()
}

// HasTrigger reports whether text names a trigger word.
func (a *Aggregator) HasTrigger(text string) bool {
	return a.trigger != nil && a.trigger.MatchString(text)
}

// OnUtterance buffers u and dispatches the turn if it is complete.
func (a *Aggregator) OnUtterance(ctx context.Context, u Utterance) Decision {
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" || u.SpeakerID == "" {
		return Dropped
	}
	if u.DisplayName == "" {
		u.DisplayName = u.SpeakerID
	}
	if u.CapturedAt.IsZero() {
		u.CapturedAt = time.Now()
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Dropped
	}
	a.buffer = append(a.buffer, u)
	a.lastActivity = u.CapturedAt
	reason, now := a.decide(u)
	if !now {
		a.armTimer()
		size := len(a.buffer)
		a.mu.Unlock()
		a.logger.Debug("waiting for silence", "speaker", u.SpeakerID, "buffered", size)
		return Wait
	}
	a.mu.Unlock()

	ok, err := a.flush(ctx, reason)
	switch {
	case err != nil:
		return Dropped
	case !ok:
		// A turn is in flight; this one is picked up when it finishes.
		return Wait
	}
	return Dispatch
}

// decide applies the dispatch rules in precedence order. Caller holds mu.
func (a *Aggregator) decide(latest Utterance) (Reason, bool) {
	switch {
	case len(a.buffer) >= a.cfg.MaxBuffer:
		return ReasonBufferFull, true
	case a.free:
		return ReasonFreeMode, true
	case a.HasTrigger(latest.Text):
		return ReasonTrigger, true
	case len(participants(a.buffer)) == 1:
		return ReasonSolo, true
	}
	return "", false
}

// armTimer starts or restarts the silence timer. Caller holds mu.
func (a *Aggregator) armTimer() {
	a.stopTimer()
	a.timerGen++
	gen := a.timerGen
	a.timer = time.AfterFunc(a.cfg.Silence, func() { a.onSilence(gen) })
}

// stopTimer cancels the silence timer. A callback already running sees the
// generation move on and does nothing. Caller holds mu.
func (a *Aggregator) stopTimer() {
	a.timerGen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// onSilence flushes the buffer if timer gen is still the current one.
func (a *Aggregator) onSilence(gen uint64) {
	a.mu.Lock()
	if gen != a.timerGen {
		a.mu.Unlock()
		return
	}
	snapshot, _ := a.take()
	a.mu.Unlock()
	if snapshot != nil {
		a.dispatch(a.base, snapshot, ReasonSilence)
	}
}

// Flush dispatches whatever is buffered. It does nothing while a turn is
// being processed or when the buffer is empty.
func (a *Aggregator) Flush(ctx context.Context) error {
	_, err := a.flush(ctx, ReasonSilence)
	return err
}

// flush reports whether a turn was handed off.
func (a *Aggregator) flush(ctx context.Context, reason Reason) (bool, error) {
	a.mu.Lock()
	snapshot, err := a.take()
	a.mu.Unlock()
	if snapshot == nil {
		return false, err
	}
	a.dispatch(ctx, snapshot, reason)
	return true, nil
}

// take claims the buffer for a new turn. It returns nil when closed, busy or
// empty. Caller holds mu.
func (a *Aggregator) take() ([]Utterance, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.processing || len(a.buffer) == 0 {
		return nil, nil
	}
	snapshot := a.buffer
	a.buffer = nil
	a.stopTimer()
	a.processing = true
	return snapshot, nil
}

func (a *Aggregator) dispatch(ctx context.Context, snapshot []Utterance, reason Reason) {
	defer a.finish()

	turn := buildTurn(snapshot, reason)
	logger := a.logger.With("reason", reason, "utterances", len(snapshot), "participants", len(turn.Participants))

	spoken := turn.Spoken()
	switch {
	case IsReset(spoken):
		logger.Info("reset requested")
		if a.cfg.OnReset != nil {
			a.cfg.OnReset(ctx)
		}
	case IsLeave(spoken):
		logger.Info("leave requested")
		if a.cfg.OnLeave != nil {
			a.cfg.OnLeave(ctx)
		}
	default:
		logger.Info("turn dispatched", "primary", turn.Primary.ID)
		if a.cfg.OnTurn != nil {
			a.cfg.OnTurn(ctx, turn)
		}
	}
}

// finish clears the processing guard. Utterances buffered meanwhile start
// a fresh turn and wait for silence.
func (a *Aggregator) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processing = false
	if len(a.buffer) > 0 && !a.closed {
		a.armTimer()
	}
}

// Requeue puts a turn that could not be answered back at the front of the
// buffer and waits for silence before dispatching it again.
func (a *Aggregator) Requeue(t Turn) {
	if len(t.Utterances) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.buffer = append(append([]Utterance(nil), t.Utterances...), a.buffer...)
	if !a.processing {
		a.armTimer()
	}
}

// Pending returns the number of buffered utterances.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// Processing reports whether a turn is in flight.
func (a *Aggregator) Processing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processing
}

// LastActivity returns when the latest utterance was captured.
func (a *Aggregator) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

// Clear empties the buffer and cancels the silence timer.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = nil
	a.stopTimer()
}

// Close clears the buffer and rejects further utterances.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	a.closed = true
	a.buffer = nil
	a.stopTimer()
	a.mu.Unlock()
	a.cancel()
	return nil
}

func buildTurn(utts []Utterance, reason Reason) Turn {
	lines := make([]string, len(utts))
	for i, u := range utts {
		lines[i] = u.DisplayName + ": " + u.Text
	}
	return Turn{
		Text:         strings.Join(lines, "\n"),
		Utterances:   utts,
		Primary:      primary(utts),
		Participants: participants(utts),
		Reason:       reason,
	}
}

// participants lists speakers in order of first appearance, with the display
// name they used last.
func participants(utts []Utterance) []Participant {
	var out []Participant
	index := make(map[string]int)
	for _, u := range utts {
		if i, ok := index[u.SpeakerID]; ok {
			out[i].DisplayName = u.DisplayName
			continue
		}
		index[u.SpeakerID] = len(out)
		out = append(out, Participant{ID: u.SpeakerID, DisplayName: u.DisplayName})
	}
	return out
}

// primary is the speaker with the most utterances. On a tie the speaker who
// reached that count last wins.
func primary(utts []Utterance) Participant {
	counts := make(map[string]int)
	var best Participant
	top := 0
	for _, u := range utts {
		counts[u.SpeakerID]++
		if n := counts[u.SpeakerID]; n >= top {
			top = n
			best = Participant{ID: u.SpeakerID, DisplayName: u.DisplayName}
		}
	}
	return best
}

// IsReset reports whether text asks to reset the chat history.
func IsReset(text string) bool {
	return containsAll(text, "reset", "chat", "history")
}

// IsLeave reports whether text asks the bot to leave the voice chat.
func IsLeave(text string) bool {
	return containsAll(text, "leave", "voice", "chat")
}

func containsAll(text string, words ...string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if !strings.Contains(lower, w) {
			return false
		}
	}
	return true
}
