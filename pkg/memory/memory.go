// Package memory provides long-term memory and chat history for the bot.
//
// Memories are short facts the model asks to keep, tagged with keywords that
// later pull them back into context when someone says them. Each record
// belongs to one owner and remembers the session that created it; recall
// only ever returns records from earlier sessions.
//
// The chat log keeps one row per answered turn so a new session can be
// primed with what was said recently.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Default record values.
const (
	DefaultType       = "general"
	DefaultImportance = 5
)

var (
	// ErrNotFound is returned when a record does not exist for the owner.
	ErrNotFound = errors.New("memory: not found")

	// ErrEmptyRecord is returned when saving a record without a summary.
	ErrEmptyRecord = errors.New("memory: summary is required")
)

// Record is one stored memory.
type Record struct {
	ID             int64
	OwnerID        string
	SessionID      string
	Keywords       []string
	Summary        string
	Content        string
	Type           string
	Importance     int
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
}

// Update holds the fields to change on a record. Empty fields are left alone.
type Update struct {
	Keywords   []string
	Summary    string
	Content    string
	Importance int
}

func (u Update) empty() bool {
	return len(u.Keywords) == 0 && u.Summary == "" && u.Content == "" && u.Importance == 0
}

// ChatEntry is one answered turn in the chat log.
type ChatEntry struct {
	OwnerID     string
	SessionID   string
	DisplayName string
	UserMessage string
	Response    string
	At          time.Time
}

// Store persists memory records.
type Store interface {
	// Save inserts a record and returns its id.
	Save(ctx context.Context, r Record) (int64, error)

	// FindByKeywords returns up to limit records for owner, excluding those
	// created in excludeSession, whose keywords, summary or content contain
	// any of the given terms. Results are ranked by importance, then access
	// count, then recency, and each returned record is marked accessed.
	FindByKeywords(ctx context.Context, owner, excludeSession string, terms []string, limit int) ([]Record, error)

	// FindByID returns the owner's record with the given id.
	FindByID(ctx context.Context, owner string, id int64) (Record, error)

	Update(ctx context.Context, owner string, id int64, u Update) error
	Delete(ctx context.Context, owner string, id int64) error

	// Keywords returns every keyword currently registered, lowercased.
	Keywords() []string
}

// ChatLog persists answered turns.
type ChatLog interface {
	AppendChat(ctx context.Context, e ChatEntry) error

	// RecentChats returns up to limit entries for owner from the last days,
	// excluding excludeSession, oldest first.
	RecentChats(ctx context.Context, owner, excludeSession string, days, limit int) ([]ChatEntry, error)
}

// SplitKeywords splits a comma separated keyword list, trimming and
// lowercasing each entry and dropping blanks.
func SplitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// MatchKeywords returns the registered keywords that appear as whole words in
// text, in the order they occur. Matching ignores case and punctuation.
func MatchKeywords(text string, keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		known[strings.ToLower(k)] = struct{}{}
	}

	var found []string
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = stripNonWord(w)
		if w == "" {
			continue
		}
		if _, ok := known[w]; !ok {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		found = append(found, w)
	}
	return found
}

func stripNonWord(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, s)
}
