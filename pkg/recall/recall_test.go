package recall

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebot/internal/log"
	"github.com/teslashibe/go-voicebot/pkg/inference"
	"github.com/teslashibe/go-voicebot/pkg/memory"
	"github.com/teslashibe/go-voicebot/pkg/session"
)

func newStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	s, err := memory.OpenSQLite(filepath.Join(t.TempDir(), "recall.db"), log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newBuilder(store *memory.SQLiteStore, opts ...Option) *Builder {
	base := []Option{
		WithPrompts("You are Botty. Today is %DATE%.", "You are Botty, chatting freely in %YEAR%."),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return time.Date(2024, time.July, 4, 15, 5, 0, 0, time.UTC) }),
		WithLogger(log.Nop()),
	}
	return New(store, store, append(base, opts...)...)
}

func TestExpandPlaceholders(t *testing.T) {
	now := time.Date(2024, time.July, 4, 9, 5, 0, 0, time.UTC)
	got := ExpandPlaceholders("%DATE% | %TIME% | %YEAR% | %DATETIME%", now)
	want := "Thursday, July 4, 2024 | 9:05 AM | 2024 | Thursday, July 4, 2024 at 9:05 AM"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestPrepareFirstTurnPrimesChat(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, memory.Record{OwnerID: "alice", SessionID: "old", Keywords: []string{"guitar"}, Summary: "Alice plays guitar", Content: "Fender, since 2010"}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendChat(ctx, memory.ChatEntry{OwnerID: "alice", SessionID: "old", DisplayName: "Alice", UserMessage: "hi", Response: "hello", At: time.Now()}); err != nil {
		t.Fatal(err)
	}

	b := newBuilder(store)
	chat := &session.Chat{}
	res, err := b.Prepare(ctx, chat, Turn{
		Text:         "Alice: Botty, what about my Guitar?",
		Owner:        "alice",
		SessionID:    "current",
		Participants: []Participant{{ID: "alice", DisplayName: "Alice"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !res.Primed || len(res.Memories) != 1 || res.History != 1 || !res.Injected() {
		t.Fatalf("unexpected result %+v", res)
	}
	msgs := chat.Messages()
	if len(msgs) != 1 || msgs[0].Role != inference.RoleSystem {
		t.Fatalf("expected one system message, got %d", len(msgs))
	}
	sys := msgs[0].Content
	for _, want := range []string{
		"You are Botty. Today is Thursday, July 4, 2024.",
		"You are currently talking to Alice.",
		"=== MEMORY SYSTEM INSTRUCTIONS ===",
		"=== RELEVANT MEMORIES ===\n1. Alice plays guitar (id ",
		"   Details: Fender, since 2010",
		"=== RECENT CONVERSATION HISTORY ===",
		"Alice: hi\nAssistant: hello",
	} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if res.PromptTokens != EstimateTokens(sys) {
		t.Errorf("PromptTokens = %d", res.PromptTokens)
	}

	rec, err := store.FindByID(ctx, "alice", res.Memories[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessCount != 1 {
		t.Errorf("recall should bump access count, got %d", rec.AccessCount)
	}
}

func TestPrepareExcludesCurrentSession(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	store.Save(ctx, memory.Record{OwnerID: "alice", SessionID: "current", Keywords: []string{"pizza"}, Summary: "Ordered pizza"})
	store.AppendChat(ctx, memory.ChatEntry{OwnerID: "alice", SessionID: "current", UserMessage: "x", Response: "y", At: time.Now()})

	b := newBuilder(store)
	res, err := b.Prepare(ctx, &session.Chat{}, Turn{Text: "pizza please", Owner: "alice", SessionID: "current"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Memories) != 0 || res.History != 0 || res.Injected() {
		t.Errorf("current session rows leaked into recall: %+v", res)
	}
}

func TestPrepareLaterTurnAddsRecalledMemories(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	store.Save(ctx, memory.Record{OwnerID: "bob", SessionID: "old", Keywords: []string{"cats"}, Summary: "Bob has two cats"})

	b := newBuilder(store)
	chat := &session.Chat{}
	chat.Append(inference.NewSystemMessage("primed"), inference.NewUserMessage("hello"), inference.NewAssistantMessage("hi"))

	res, err := b.Prepare(ctx, chat, Turn{Text: "Bob: my cats are loud", Owner: "bob", SessionID: "now"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Primed || len(res.Memories) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	msgs := chat.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != inference.RoleSystem || !strings.HasPrefix(last.Content, "=== MEMORIES RECALLED ===\n=== RELEVANT MEMORIES ===") {
		t.Errorf("unexpected recall message %q", last.Content)
	}

	// Nothing matched: the chat is left alone.
	before := chat.Len()
	if _, err := b.Prepare(ctx, chat, Turn{Text: "what time is it", Owner: "bob", SessionID: "now"}); err != nil {
		t.Fatal(err)
	}
	if chat.Len() != before {
		t.Error("no keywords should add nothing")
	}
}

func TestPrepareMultipleParticipantsAndFreePrompt(t *testing.T) {
	b := newBuilder(newStore(t), WithMemories(false), WithChatLog(false))
	chat := &session.Chat{}
	_, err := b.Prepare(context.Background(), chat, Turn{
		Text:         "hello",
		Owner:        "a",
		Free:         true,
		Participants: []Participant{{ID: "a", DisplayName: "Ann"}, {ID: "b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	sys := chat.Messages()[0].Content
	if !strings.HasPrefix(sys, "You are Botty, chatting freely in 2024.") {
		t.Errorf("free prompt not used: %q", sys)
	}
	if !strings.Contains(sys, "multiple people: Ann, User b.") {
		t.Errorf("participants missing: %q", sys)
	}
	if strings.Contains(sys, "MEMORY SYSTEM") {
		t.Error("memory instructions should be absent when memories are off")
	}
}

func TestRecord(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	b := New(store, store, WithLogger(log.Nop()))

	turn := Turn{Text: "Ann: hi", Owner: "a", SessionID: "s1", Participants: []Participant{{ID: "a", DisplayName: "Ann"}}}
	if err := b.Record(ctx, turn, "Hello Ann."); err != nil {
		t.Fatal(err)
	}
	entries, err := store.RecentChats(ctx, "a", "s2", 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].DisplayName != "Ann" || entries[0].Response != "Hello Ann." {
		t.Errorf("unexpected entries %+v", entries)
	}

	off := New(store, store, WithChatLog(false), WithLogger(log.Nop()))
	if err := off.Record(ctx, turn, "ignored"); err != nil {
		t.Fatal(err)
	}
	entries, _ = store.RecentChats(ctx, "a", "s2", 1, 5)
	if len(entries) != 1 {
		t.Error("disabled chat log should not record")
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 || EstimateTokens("abcd") != 1 || EstimateTokens("abcde") != 2 {
		t.Error("EstimateTokens should round up chars/4")
	}
}
