package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebot/internal/log"
	"github.com/teslashibe/go-voicebot/pkg/aggregator"
	"github.com/teslashibe/go-voicebot/pkg/audio"
	"github.com/teslashibe/go-voicebot/pkg/stt"
)

type sinkRecorder struct {
	mu   sync.Mutex
	utts []aggregator.Utterance
}

func (s *sinkRecorder) OnUtterance(_ context.Context, u aggregator.Utterance) aggregator.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utts = append(s.utts, u)
	return aggregator.Wait
}

func (s *sinkRecorder) Utterances() []aggregator.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]aggregator.Utterance(nil), s.utts...)
}

// speech returns d of 16 kHz mono silence.
func speech(d time.Duration) []byte {
	return make([]byte, int(d.Seconds()*16000)*2)
}

func capture(id string, d time.Duration) Capture {
	return Capture{SpeakerID: id, DisplayName: "User " + id, PCM: speech(d), SampleRate: 16000, Channels: 1}
}

func TestPipelineTranscribesIntoSink(t *testing.T) {
	var gotWAV []byte
	var mu sync.Mutex
	mock := &stt.Mock{TranscribeFunc: func(_ context.Context, name string, wav []byte) (string, error) {
		mu.Lock()
		gotWAV = wav
		mu.Unlock()
		return "  hey   burger  ", nil
	}}
	sink := &sinkRecorder{}
	p, err := New(mock, sink, nil, WithReplacements(map[string]string{"burger": "Berger"}), WithLogger(log.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Submit(capture("a", time.Second)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(sink.Utterances()) == 1 })

	u := sink.Utterances()[0]
	if u.SpeakerID != "a" || u.DisplayName != "User a" || u.Text != "hey Berger" {
		t.Errorf("utterance = %+v", u)
	}

	mu.Lock()
	defer mu.Unlock()
	w, err := audio.DecodeWAV(gotWAV)
	if err != nil {
		t.Fatal(err)
	}
	if w.SampleRate != 16000 || w.Channels != 1 || !bytes.Equal(w.Data, speech(time.Second)) {
		t.Errorf("wav = %d Hz %d ch %d bytes", w.SampleRate, w.Channels, len(w.Data))
	}
}

func TestPipelineConvertsVoiceLinkFormat(t *testing.T) {
	wavs := make(chan []byte, 1)
	mock := &stt.Mock{TranscribeFunc: func(_ context.Context, _ string, wav []byte) (string, error) {
		wavs <- wav
		return "hello", nil
	}}
	p, err := New(mock, &sinkRecorder{}, nil, WithLogger(log.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// One second at the default 48 kHz stereo.
	pcm := make([]byte, 48000*2*2)
	if err := p.Submit(Capture{SpeakerID: "a", PCM: pcm}); err != nil {
		t.Fatal(err)
	}

	select {
	case wav := <-wavs:
		w, err := audio.DecodeWAV(wav)
		if err != nil {
			t.Fatal(err)
		}
		if w.SampleRate != 16000 || w.Channels != 1 {
			t.Errorf("wav = %d Hz %d ch", w.SampleRate, w.Channels)
		}
		if n := len(w.Data) / 2; n < 12000 || n > 17600 {
			t.Errorf("wav holds %d samples, want about 16000", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture never transcribed")
	}
}

func TestPipelineDropsNoiseAndShortCaptures(t *testing.T) {
	mock := &stt.Mock{Text: "Thank you."}
	sink := &sinkRecorder{}
	p, _ := New(mock, sink, nil, WithLogger(log.Nop()))
	defer p.Close()

	if err := p.Submit(capture("a", 100*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(capture("a", time.Second)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		s := p.Stats()
		return s.TooShort == 1 && s.Noise == 1
	})
	if mock.CallCount() != 1 {
		t.Errorf("transcribe calls = %d, want 1", mock.CallCount())
	}
	if len(sink.Utterances()) != 0 {
		t.Error("noise reached the sink")
	}
}

func TestPipelineRejectsWhileBusy(t *testing.T) {
	var busy atomic.Bool
	busy.Store(true)
	mock := &stt.Mock{Text: "hi"}
	p, _ := New(mock, &sinkRecorder{}, busy.Load, WithLogger(log.Nop()))
	defer p.Close()

	if err := p.Submit(capture("a", time.Second)); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if p.Stats().Busy != 1 || mock.CallCount() != 0 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestPipelineQueueFull(t *testing.T) {
	release := make(chan struct{})
	mock := &stt.Mock{TranscribeFunc: func(ctx context.Context, _ string, _ []byte) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "hi", nil
	}}
	p, _ := New(mock, &sinkRecorder{}, nil, WithWorkers(1), WithQueueSize(1), WithLogger(log.Nop()))
	defer p.Close()
	defer close(release)

	if err := p.Submit(capture("a", time.Second)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return mock.CallCount() == 1 })
	if err := p.Submit(capture("b", time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(capture("c", time.Second)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestPipelineTranscriptionFailure(t *testing.T) {
	mock := &stt.Mock{TranscribeFunc: func(context.Context, string, []byte) (string, error) {
		return "", errors.New("down")
	}}
	sink := &sinkRecorder{}
	p, _ := New(mock, sink, nil, WithLogger(log.Nop()))
	defer p.Close()

	if err := p.Submit(capture("a", time.Second)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Stats().Failed == 1 })
	if len(sink.Utterances()) != 0 {
		t.Error("failed capture reached the sink")
	}
}

func TestPipelineSubmitValidation(t *testing.T) {
	p, _ := New(&stt.Mock{}, &sinkRecorder{}, nil, WithLogger(log.Nop()))
	if err := p.Submit(Capture{SpeakerID: "a"}); !errors.Is(err, ErrInvalidCapture) {
		t.Errorf("err = %v", err)
	}
	p.Close()
	if err := p.Submit(capture("a", time.Second)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if _, err := New(nil, &sinkRecorder{}, nil); err == nil {
		t.Error("expected error without transcriber")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
