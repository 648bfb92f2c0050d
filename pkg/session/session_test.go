package session

import (
	"errors"
	"os"
	"testing"

	"github.com/teslashibe/go-voicebot/internal/log"
	"github.com/teslashibe/go-voicebot/pkg/inference"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		err  bool
	}{
		{"", ModeTrigger, false},
		{"Trigger", ModeTrigger, false},
		{"free", ModeFree, false},
		{" transcribe ", ModeTranscribe, false},
		{"karaoke", ModeTrigger, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
		if err != nil && !errors.Is(err, ErrUnknownMode) {
			t.Errorf("error %v is not ErrUnknownMode", err)
		}
	}
	if ModeFree.String() != "free" || ModeTranscribe.String() != "transcribe" || ModeTrigger.String() != "trigger" {
		t.Error("unexpected mode names")
	}
}

func TestManagerSingleSession(t *testing.T) {
	m := NewManager(t.TempDir(), log.Nop())

	s, err := m.Start(ModeFree)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" || s.NeedsTrigger() || s.Transcript != nil {
		t.Errorf("unexpected session %+v", s)
	}
	if _, err := m.Start(ModeTrigger); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start error = %v, want ErrSessionActive", err)
	}
	if active, ok := m.Active(); !ok || active.ID != s.ID {
		t.Error("Active should return the running session")
	}

	s.Chats.Get("alice").Append(inference.NewUserMessage("hi"))
	sum, err := m.End()
	if err != nil {
		t.Fatal(err)
	}
	if sum.ID != s.ID || s.Chats.Len() != 0 {
		t.Errorf("End did not reset: %+v chats=%d", sum, s.Chats.Len())
	}
	if _, err := m.End(); !errors.Is(err, ErrNoSession) {
		t.Errorf("second End error = %v", err)
	}

	next, err := m.Start(ModeTrigger)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID == s.ID {
		t.Error("session ids must differ")
	}
}

func TestTranscribeModeTranscript(t *testing.T) {
	m := NewManager(t.TempDir(), log.Nop())
	s, err := m.Start(ModeTranscribe)
	if err != nil {
		t.Fatal(err)
	}
	if s.Transcript == nil {
		t.Fatal("transcribe mode should keep a transcript")
	}
	if err := s.Transcript.Append("Alice: hello bot", "Hi Alice."); err != nil {
		t.Fatal(err)
	}
	if err := s.Transcript.Append("Bob: bye", "Goodbye."); err != nil {
		t.Fatal(err)
	}

	sum, err := m.End()
	if err != nil {
		t.Fatal(err)
	}
	want := "Alice: hello bot\n\nAssistant: Hi Alice.\n\nBob: bye\n\nAssistant: Goodbye.\n\n"
	if sum.Transcript != want {
		t.Errorf("transcript = %q", sum.Transcript)
	}
	if _, err := os.Stat(s.Transcript.Path()); !os.IsNotExist(err) {
		t.Error("transcript file should be removed")
	}
}

func roles(msgs []inference.Message) string {
	out := ""
	for _, m := range msgs {
		out += string(m.Role)[:1]
	}
	return out
}

func TestChatTrim(t *testing.T) {
	call := inference.ToolCall{ID: "c1", Name: "roll_dice", Arguments: `{}`}

	tests := []struct {
		name    string
		history []inference.Message
		max     int
		want    string
	}{
		{
			name: "keeps leading system",
			history: []inference.Message{
				inference.NewSystemMessage("sys"),
				inference.NewUserMessage("1"), inference.NewAssistantMessage("1"),
				inference.NewUserMessage("2"), inference.NewAssistantMessage("2"),
			},
			max:  3,
			want: "sua",
		},
		{
			name: "no system",
			history: []inference.Message{
				inference.NewUserMessage("1"), inference.NewAssistantMessage("1"), inference.NewUserMessage("2"),
			},
			max:  2,
			want: "au",
		},
		{
			name: "drops orphaned tool results",
			history: []inference.Message{
				inference.NewSystemMessage("sys"),
				inference.NewUserMessage("1"),
				inference.NewToolCallMessage("", []inference.ToolCall{call}),
				inference.NewToolMessage("c1", "roll_dice", "4"),
				inference.NewAssistantMessage("you rolled 4"),
			},
			max:  3,
			want: "sa",
		},
		{
			name: "keeps recalled memories",
			history: []inference.Message{
				inference.NewSystemMessage("sys"),
				inference.NewUserMessage("1"), inference.NewAssistantMessage("1"),
				inference.NewSystemMessage("=== MEMORIES RECALLED ==="),
				inference.NewUserMessage("2"), inference.NewAssistantMessage("2"),
			},
			max:  4,
			want: "ssua",
		},
		{
			name: "drops oldest later system when only system is left",
			history: []inference.Message{
				inference.NewSystemMessage("sys"),
				inference.NewSystemMessage("m1"),
				inference.NewUserMessage("1"),
				inference.NewSystemMessage("m2"),
			},
			max:  2,
			want: "ss",
		},
		{
			name: "tool results behind a kept system message",
			history: []inference.Message{
				inference.NewUserMessage("1"),
				inference.NewToolCallMessage("", []inference.ToolCall{call}),
				inference.NewSystemMessage("m"),
				inference.NewToolMessage("c1", "roll_dice", "4"),
				inference.NewAssistantMessage("you rolled 4"),
			},
			max:  3,
			want: "sa",
		},
		{
			name:    "under limit",
			history: []inference.Message{inference.NewUserMessage("1")},
			max:     5,
			want:    "u",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Chat{}
			c.Append(tt.history...)
			c.Trim(tt.max)
			if got := roles(c.Messages()); got != tt.want {
				t.Errorf("roles after Trim(%d) = %q, want %q", tt.max, got, tt.want)
			}
		})
	}
}

func TestChatsPerSpeaker(t *testing.T) {
	chats := NewChats()
	chats.Get("a").Append(inference.NewUserMessage("x"))
	if chats.Get("a").Len() != 1 || chats.Get("b").Len() != 0 {
		t.Error("chats should be per speaker")
	}
	chats.Reset()
	if chats.Len() != 0 {
		t.Error("Reset should forget every chat")
	}
}
