// Package capture turns raw per-speaker PCM captures into utterances for the
// aggregator. Each capture moves through a fixed set of stages on a small
// worker pool: downmix and resample to mono, wrap in WAV, transcribe, clean
// up, drop noise, hand off.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicebot/pkg/aggregator"
	"github.com/teslashibe/go-voicebot/pkg/audio"
	"github.com/teslashibe/go-voicebot/pkg/stt"
)

var (
	// ErrBusy is returned while the bot is thinking; the capture is discarded.
	ErrBusy = errors.New("capture: bot is busy")

	// ErrQueueFull is returned when the intake queue has no room.
	ErrQueueFull = errors.New("capture: queue full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture: pipeline closed")

	// ErrInvalidCapture is returned for captures without audio or speaker.
	ErrInvalidCapture = errors.New("capture: invalid capture")
)

// Capture is one utterance worth of raw audio from a speaker.
type Capture struct {
	SpeakerID   string
	DisplayName string

	// PCM is signed 16-bit little-endian audio.
	PCM        []byte
	SampleRate int
	Channels   int
	CapturedAt time.Time
}

// Sink receives cleaned utterances.
type Sink interface {
	OnUtterance(ctx context.Context, u aggregator.Utterance) aggregator.Decision
}

// Stats counts what happened to submitted captures.
type Stats struct {
	Accepted    int64
	Busy        int64
	QueueFull   int64
	TooShort    int64
	Noise       int64
	Failed      int64
	Transcribed int64
}

// Pipeline is the staged capture processor.
type Pipeline struct {
	stt     stt.Transcriber
	cleaner *stt.Cleaner
	sink    Sink
	busy    func() bool
	cfg     Config
	logger  *slog.Logger

	queue  chan Capture
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	accepted    atomic.Int64
	dropBusy    atomic.Int64
	dropFull    atomic.Int64
	dropShort   atomic.Int64
	dropNoise   atomic.Int64
	failed      atomic.Int64
	transcribed atomic.Int64
}

// New starts a pipeline. busy reports whether the bot is thinking; it may be
// nil.
func New(transcriber stt.Transcriber, sink Sink, busy func() bool, opts ...Option) (*Pipeline, error) {
	if transcriber == nil || sink == nil {
		return nil, errors.New("capture: transcriber and sink are required")
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if busy == nil {
		busy = func() bool { return false }
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		stt:     transcriber,
		cleaner: stt.NewCleaner(cfg.Replacements, cfg.Ignore),
		sink:    sink,
		busy:    busy,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "capture.pipeline"),
		queue:   make(chan Capture, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p, nil
}

// Submit queues a capture. It never blocks.
func (p *Pipeline) Submit(c Capture) error {
	if c.SpeakerID == "" || len(c.PCM) == 0 {
		return ErrInvalidCapture
	}
	if c.SampleRate <= 0 {
		c.SampleRate = p.cfg.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = p.cfg.Channels
	}
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.busy() {
		p.dropBusy.Add(1)
		p.logger.Debug("bot is thinking, capture discarded", "speaker", c.SpeakerID)
		return ErrBusy
	}

	select {
	case p.queue <- c:
		p.accepted.Add(1)
		return nil
	default:
		p.dropFull.Add(1)
		p.logger.Warn("capture queue full", "speaker", c.SpeakerID, "size", cap(p.queue))
		return ErrQueueFull
	}
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)
	for {
		select {
		case <-p.ctx.Done():
			return
		case c, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.process(p.ctx, c); err != nil {
				p.failed.Add(1)
				logger.Warn("capture failed", "speaker", c.SpeakerID, "error", err)
			}
		}
	}
}

// process runs one capture through every stage.
func (p *Pipeline) process(ctx context.Context, c Capture) error {
	if p.busy() {
		p.dropBusy.Add(1)
		return nil
	}
	if d := audio.Duration(len(c.PCM), c.SampleRate, c.Channels); d < p.cfg.MinDuration {
		p.dropShort.Add(1)
		p.logger.Debug("capture too short", "speaker", c.SpeakerID, "duration", d)
		return nil
	}

	rate := c.SampleRate
	if p.cfg.TargetRate > 0 {
		rate = p.cfg.TargetRate
	}
	pcm, err := audio.ToMono(c.PCM, c.SampleRate, c.Channels, rate)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	wav := audio.EncodeWAV(pcm, rate, 1)

	tctx, cancel := context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
	defer cancel()
	text, err := p.stt.Transcribe(tctx, fmt.Sprintf("%s_%d.wav", c.SpeakerID, c.CapturedAt.UnixMilli()), wav)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	p.transcribed.Add(1)

	text = p.cleaner.Clean(text)
	if p.cleaner.Ignore(text) {
		p.dropNoise.Add(1)
		p.logger.Info("ignoring background noise", "speaker", c.SpeakerID, "text", text)
		return nil
	}

	p.logger.Info("transcription", "speaker", c.SpeakerID, "text", text)
	decision := p.sink.OnUtterance(ctx, aggregator.Utterance{
		SpeakerID:   c.SpeakerID,
		DisplayName: c.DisplayName,
		Text:        text,
		CapturedAt:  c.CapturedAt,
	})
	p.logger.Debug("utterance handed off", "speaker", c.SpeakerID, "decision", decision)
	return nil
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:    p.accepted.Load(),
		Busy:        p.dropBusy.Load(),
		QueueFull:   p.dropFull.Load(),
		TooShort:    p.dropShort.Load(),
		Noise:       p.dropNoise.Load(),
		Failed:      p.failed.Load(),
		Transcribed: p.transcribed.Load(),
	}
}

// Close stops accepting captures and waits for the workers. Queued captures
// that have not started are dropped.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	return nil
}
