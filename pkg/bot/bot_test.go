package bot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebot/internal/config"
	"github.com/teslashibe/go-voicebot/internal/log"
	"github.com/teslashibe/go-voicebot/pkg/aggregator"
	"github.com/teslashibe/go-voicebot/pkg/capture"
	"github.com/teslashibe/go-voicebot/pkg/inference"
	"github.com/teslashibe/go-voicebot/pkg/memory"
	"github.com/teslashibe/go-voicebot/pkg/playback"
	"github.com/teslashibe/go-voicebot/pkg/session"
	"github.com/teslashibe/go-voicebot/pkg/stt"
	"github.com/teslashibe/go-voicebot/pkg/tools"
	"github.com/teslashibe/go-voicebot/pkg/tts"
)

type recordingPlayer struct {
	mu    sync.Mutex
	texts []string
}

func (p *recordingPlayer) Play(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.texts = append(p.texts, string(data))
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

type harness struct {
	app    *App
	llm    *inference.Mock
	stt    *stt.Mock
	tts    *tts.Mock
	heard  chan string
	player *recordingPlayer
	store  *memory.SQLiteStore
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Bot.Triggers = []string{"botty"}
	cfg.Bot.SilenceMS = 50
	cfg.Bot.Timezone = "UTC"
	cfg.Bot.TranscriptDir = filepath.Join(dir, "transcripts")
	cfg.Playback.OutputDir = filepath.Join(dir, "sounds")
	cfg.Playback.RetryIntervalMS = 10
	cfg.Capture.SampleRate = 16000
	cfg.Capture.Channels = 1
	cfg.Memory.Path = filepath.Join(dir, "bot.db")
	return cfg
}

func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	cfg := testConfig(t)
	store, err := memory.OpenSQLite(cfg.Memory.Path, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	reg, err := tools.Catalog(tools.CatalogConfig{Logger: log.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		llm:    inference.NewMock(replies...),
		stt:    &stt.Mock{},
		heard:  make(chan string, 4),
		tts:    tts.NewMock(),
		player: &recordingPlayer{},
		store:  store,
	}
	h.stt.TranscribeFunc = func(context.Context, string, []byte) (string, error) {
		select {
		case text := <-h.heard:
			return text, nil
		default:
			return "", nil
		}
	}
	h.app, err = New(cfg, Deps{
		LLM:     h.llm,
		STT:     h.stt,
		TTS:     h.tts,
		Player:  h.player,
		Store:   store,
		Tools:   reg,
		Closers: []io.Closer{store},
	}, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.app.Close() })
	return h
}

func (h *harness) say(t *testing.T, speaker, text string) {
	t.Helper()
	h.heard <- text
	err := h.app.Submit(capture.Capture{
		SpeakerID:   speaker,
		DisplayName: strings.ToUpper(speaker[:1]) + speaker[1:],
		PCM:         make([]byte, 32000),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTurnIsAnsweredAndSpoken(t *testing.T) {
	h := newHarness(t, "Hello Ann, nice to meet you.")
	if _, err := h.app.Join(context.Background(), session.ModeTrigger); err != nil {
		t.Fatal(err)
	}

	h.say(t, "ann", "Hi Botty")
	waitFor(t, func() bool { return len(h.player.Played()) == 1 })
	waitFor(t, func() bool { return !h.app.Thinking() })

	if got := h.player.Played()[0]; got != "Hello Ann, nice to meet you." {
		t.Errorf("played %q", got)
	}
	req := h.llm.Requests()[0]
	if last := req.Messages[len(req.Messages)-1]; last.Content != "Ann: Hi Botty" {
		t.Errorf("user message = %q", last.Content)
	}
	entries, err := h.store.RecentChats(context.Background(), "ann", "", 7, 5)
	if err != nil || len(entries) != 1 {
		t.Fatalf("chat log = %v, %v", entries, err)
	}

	st := h.app.Status()
	if !st.Active || st.Mode != "trigger" || st.Capture.Transcribed != 1 || len(st.Tools) != 4 {
		t.Errorf("status = %+v", st)
	}
}

func TestCaptureRejectedWhileThinking(t *testing.T) {
	h := newHarness(t)
	if _, err := h.app.Join(context.Background(), session.ModeTrigger); err != nil {
		t.Fatal(err)
	}
	h.app.thinking.Store(true)
	err := h.app.Submit(capture.Capture{SpeakerID: "ann", PCM: make([]byte, 32000)})
	if !errors.Is(err, capture.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestTurnRequeuedWhileSpeaking(t *testing.T) {
	h := newHarness(t, "Hi Ann.")
	if _, err := h.app.Join(context.Background(), session.ModeTrigger); err != nil {
		t.Fatal(err)
	}

	h.app.thinking.Store(true)
	h.app.handleTurn(context.Background(), aggregator.Turn{
		Text:       "Ann: Hi Botty",
		Utterances: []aggregator.Utterance{{SpeakerID: "ann", DisplayName: "Ann", Text: "Hi Botty"}},
		Primary:    aggregator.Participant{ID: "ann", DisplayName: "Ann"},
	})
	if h.app.aggregator.Pending() != 1 || h.llm.CallCount() != 0 {
		t.Fatalf("pending = %d, calls = %d", h.app.aggregator.Pending(), h.llm.CallCount())
	}
	h.app.thinking.Store(false)

	waitFor(t, func() bool { return len(h.player.Played()) == 1 })
	if got := h.player.Played()[0]; got != "Hi Ann." {
		t.Errorf("played %q", got)
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	h := newHarness(t)
	err := h.app.Submit(capture.Capture{SpeakerID: "ann", PCM: make([]byte, 32000)})
	if !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestVoiceControlPhrases(t *testing.T) {
	h := newHarness(t)
	sess, err := h.app.Join(context.Background(), session.ModeTrigger)
	if err != nil {
		t.Fatal(err)
	}
	sess.Chats.Get("ann").Append(inference.NewUserMessage("earlier"))

	h.say(t, "ann", "please reset chat history")
	waitFor(t, func() bool { return sess.Chats.Len() == 0 })

	h.say(t, "ann", "ok leave voice chat")
	waitFor(t, func() bool {
		_, active := h.app.Sessions().Active()
		return !active
	})
	if h.llm.CallCount() != 0 {
		t.Errorf("control phrases reached the model %d times", h.llm.CallCount())
	}
}

func TestJoinTranscribeSpeaksNotice(t *testing.T) {
	h := newHarness(t)
	if _, err := h.app.Join(context.Background(), session.ModeTranscribe); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(h.player.Played()) > 0 })
	if !strings.HasPrefix(h.player.Played()[0], "Transcription mode is enabled") {
		t.Errorf("played %q", h.player.Played()[0])
	}

	if _, err := h.app.Join(context.Background(), session.ModeFree); !errors.Is(err, session.ErrSessionActive) {
		t.Errorf("second join err = %v", err)
	}
}

func TestDroppedTurnClearsThinking(t *testing.T) {
	h := newHarness(t)
	h.llm.ChatFunc = func(context.Context, *inference.ChatRequest) (*inference.ChatResponse, error) {
		return nil, errors.New("model down")
	}
	if _, err := h.app.Join(context.Background(), session.ModeTrigger); err != nil {
		t.Fatal(err)
	}
	h.say(t, "ann", "Botty?")
	waitFor(t, func() bool { return h.llm.CallCount() == 1 })
	waitFor(t, func() bool { return !h.app.Thinking() })
	if len(h.player.Played()) != 0 {
		t.Error("dropped turn was spoken")
	}
}

func TestBuildTTS(t *testing.T) {
	cfg := config.Default().TTS

	p, err := BuildTTS(cfg, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*tts.Chain); !ok {
		t.Errorf("both endpoints set: got %T, want chain", p)
	}

	cfg.Endpoint = ""
	p, err = BuildTTS(cfg, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*tts.OpenAI); !ok {
		t.Errorf("openai only: got %T", p)
	}

	cfg = config.Default().TTS
	cfg.Type = "speecht5"
	cfg.OpenAIEndpoint = ""
	p, err = BuildTTS(cfg, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*tts.Local); !ok {
		t.Errorf("local only: got %T", p)
	}

	cfg.Type = "espeak"
	if _, err := BuildTTS(cfg, log.Nop()); !errors.Is(err, tts.ErrUnknownBackend) {
		t.Errorf("err = %v", err)
	}
}

func TestBuildLLM(t *testing.T) {
	cfg := config.Default().LLM

	p, err := BuildLLM(cfg, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*inference.Client); !ok {
		t.Errorf("no fallback: got %T", p)
	}

	cfg.FallbackEndpoint = "https://api.example.com/v1"
	p, err = BuildLLM(cfg, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if _, ok := p.(*inference.Chain); !ok {
		t.Errorf("with fallback: got %T", p)
	}
}

func TestBuildToolsWithoutSearch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tools.Endpoint = ""
	reg, err := BuildTools(context.Background(), cfg, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Lookup(tools.NameSearchWeb); ok {
		t.Error("search tool registered without a backend")
	}

	cfg.Tools.Endpoint = "http://127.0.0.1:1"
	reg, err = BuildTools(context.Background(), cfg, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.Names()) != 6 {
		t.Errorf("tools = %v", reg.Names())
	}
}

func TestBuildPlayer(t *testing.T) {
	p, c := BuildPlayer(config.PlaybackConfig{RTPAddr: "127.0.0.1:5004"}, log.Nop())
	if c == nil || p == nil {
		t.Fatal("rtp player without closer")
	}
	c.Close()

	p, c = BuildPlayer(config.PlaybackConfig{}, log.Nop())
	if c != nil {
		t.Error("command player should not need closing")
	}
	var _ playback.Player = p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
