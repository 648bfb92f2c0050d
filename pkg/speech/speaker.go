// Package speech speaks a reply: it splits the text into segments,
// synthesizes them concurrently into audio files, and plays them back in
// order through a playback.Scheduler.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/teslashibe/go-voicebot/pkg/chunker"
	"github.com/teslashibe/go-voicebot/pkg/playback"
	"github.com/teslashibe/go-voicebot/pkg/tts"
)

// ErrNoProvider is returned by New without a TTS provider.
var ErrNoProvider = errors.New("speech: tts provider required")

// Config configures a Speaker.
type Config struct {
	// Dir is where segment files are written. Created if missing.
	Dir string

	// MaxWords is the longest segment, in words.
	MaxWords int

	// Concurrency caps simultaneous synthesis requests.
	Concurrency int

	// Playback options passed to every scheduler.
	Playback []playback.Option

	Logger *slog.Logger
}

// Option configures a Speaker.
type Option func(*Config)

// WithDir sets the segment output directory.
func WithDir(dir string) Option { return func(c *Config) { c.Dir = dir } }

// WithMaxWords sets the segment size.
func WithMaxWords(n int) Option { return func(c *Config) { c.MaxWords = n } }

// WithConcurrency sets how many segments synthesize at once.
func WithConcurrency(n int) Option { return func(c *Config) { c.Concurrency = n } }

// WithPlayback appends scheduler options.
func WithPlayback(opts ...playback.Option) Option {
	return func(c *Config) { c.Playback = append(c.Playback, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// Speaker turns text into ordered playback.
type Speaker struct {
	tts    tts.Provider
	player playback.Player
	cfg    Config
	logger *slog.Logger
}

// New creates a Speaker that synthesizes with provider and plays through player.
func New(provider tts.Provider, player playback.Player, opts ...Option) (*Speaker, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if player == nil {
		return nil, playback.ErrNoPlayer
	}
	cfg := Config{
		Dir:         "sounds",
		MaxWords:    chunker.DefaultMaxWords,
		Concurrency: 2,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("speech: create %s: %w", cfg.Dir, err)
	}
	return &Speaker{
		tts:    provider,
		player: player,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "speech.speaker"),
	}, nil
}

// Speak plays text and returns once playback has finished or been
// abandoned. A segment that fails to synthesize never arrives, so playback
// stops at that point with playback.ErrSegmentMissing.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	segments := chunker.Split(text, s.cfg.MaxWords)
	if len(segments) == 0 {
		return nil
	}

	sched, err := playback.New(s.player, append([]playback.Option{playback.WithLogger(s.cfg.Logger)}, s.cfg.Playback...)...)
	if err != nil {
		return err
	}

	id := ulid.Make().String()
	logger := s.logger.With("response", id, "segments", len(segments))
	logger.Info("speaking", "chars", len(text))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Slots are taken in index order. Playback runs while later segments
	// wait for one.
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Concurrency)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, seg := range segments {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				path, err := s.synthesize(ctx, id, seg)
				if err != nil {
					logger.Warn("segment synthesis failed", "index", seg.Index, "error", err)
					return
				}
				if err := sched.Add(playback.Segment{Index: seg.Index, Path: path}); err != nil {
					logger.Debug("segment dropped", "index", seg.Index, "error", err)
				}
			}()
		}
	}()

	err = sched.Run(ctx, len(segments))
	cancel()
	wg.Wait()

	if err != nil {
		logger.Warn("playback ended early", "error", err)
		return err
	}
	logger.Info("finished speaking")
	return nil
}

func (s *Speaker) synthesize(ctx context.Context, id string, seg chunker.Segment) (string, error) {
	res, err := s.tts.Synthesize(ctx, seg.Text)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.Dir, fmt.Sprintf("%s_%d.%s", id, seg.Index, res.Format.Encoding.Ext()))
	if err := os.WriteFile(path, res.Audio, 0o644); err != nil {
		return "", fmt.Errorf("speech: write segment: %w", err)
	}
	return path, nil
}
