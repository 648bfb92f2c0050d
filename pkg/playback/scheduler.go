// Package playback emits synthesized segments strictly in index order.
//
// Segments for one response are synthesized concurrently and may become ready
// in any order. A Scheduler collects them as they arrive and hands them to a
// Player one at a time, starting at index 0. When the next index is late it
// waits in fixed intervals; once the retry budget is spent the remaining
// segments are discarded rather than played out of order.
package playback

import (
	"context"
	"sync"
	"time"
)

// Player emits one audio file to the output.
type Player interface {
	Play(ctx context.Context, path string) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, path string) error

// Play calls f.
func (f PlayerFunc) Play(ctx context.Context, path string) error { return f(ctx, path) }

// Segment is a synthesized chunk ready to play.
type Segment struct {
	Index int
	Path  string
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateClosed
)

// Scheduler orders the segments of a single response. Create one per
// response; it cannot be reused after Run returns.
type Scheduler struct {
	cfg    Config
	player Player

	mu      sync.Mutex
	state   state
	pending map[int]Segment
	current int
	retries int
	ready   chan struct{}
}

// New creates a scheduler that plays through player.
func New(player Player, opts ...Option) (*Scheduler, error) {
	if player == nil {
		return nil, ErrNoPlayer
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	cfg.Logger = cfg.Logger.With("component", "playback.scheduler")

	return &Scheduler{
		cfg:     cfg,
		player:  player,
		pending: make(map[int]Segment),
		ready:   make(chan struct{}, 1),
	}, nil
}

// Add marks a segment ready. Segments for indexes already played, or added
// after the scheduler closed, are deleted immediately.
func (s *Scheduler) Add(seg Segment) error {
	s.mu.Lock()
	if s.state == stateClosed || seg.Index < s.current {
		s.mu.Unlock()
		s.remove(seg.Path)
		return ErrClosed
	}
	if old, ok := s.pending[seg.Index]; ok && old.Path != seg.Path {
		s.remove(old.Path)
	}
	s.pending[seg.Index] = seg
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of segments waiting to play.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Run plays segments 0..total-1 in order and returns when all have played,
// when a segment is missing past the retry budget (ErrSegmentMissing), or
// when ctx is done. Every file handed to the scheduler is deleted by the
// time Run returns, whether it played or not.
func (s *Scheduler) Run(ctx context.Context, total int) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = stateRunning
	s.mu.Unlock()

	var wait *time.Timer
	stopWait := func() {
		if wait != nil {
			wait.Stop()
			wait = nil
		}
	}
	defer stopWait()

	for {
		seg, ok, done := s.next(total)
		if done {
			s.close()
			s.cfg.Logger.Debug("response finished", "segments", total)
			return nil
		}

		if ok {
			stopWait()
			s.play(ctx, seg)
			continue
		}

		if s.exhausted() {
			missing := s.abandon()
			s.cfg.Logger.Warn("abandoning response",
				"missing_index", missing,
				"retries", s.cfg.MaxRetries)
			return ErrSegmentMissing
		}

		if wait == nil {
			wait = time.NewTimer(s.cfg.RetryInterval)
		}
		select {
		case <-ctx.Done():
			s.abandon()
			return ctx.Err()
		case <-s.ready:
			// Something arrived; recheck without spending a retry.
		case <-wait.C:
			wait = nil
			s.mu.Lock()
			s.retries++
			s.mu.Unlock()
		}
	}
}

// next reports the segment for the current index if it is ready.
func (s *Scheduler) next(total int) (Segment, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current >= total {
		return Segment{}, false, true
	}
	seg, ok := s.pending[s.current]
	return seg, ok, false
}

func (s *Scheduler) play(ctx context.Context, seg Segment) {
	if err := s.player.Play(ctx, seg.Path); err != nil {
		s.cfg.Logger.Error("segment playback failed", "index", seg.Index, "error", err)
	}
	s.remove(seg.Path)

	s.mu.Lock()
	delete(s.pending, seg.Index)
	s.current++
	s.retries = 0
	s.mu.Unlock()
}

func (s *Scheduler) exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries >= s.cfg.MaxRetries
}

// abandon drops every pending segment and closes the scheduler.
// It returns the index that was being waited for.
func (s *Scheduler) abandon() int {
	s.mu.Lock()
	missing := s.current
	dropped := s.pending
	s.pending = make(map[int]Segment)
	s.current = 0
	s.retries = 0
	s.state = stateClosed
	s.mu.Unlock()

	for _, seg := range dropped {
		s.remove(seg.Path)
	}
	return missing
}

func (s *Scheduler) close() {
	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
}

func (s *Scheduler) remove(path string) {
	if path == "" {
		return
	}
	if err := s.cfg.Remove(path); err != nil {
		s.cfg.Logger.Warn("failed to delete segment file", "path", path, "error", err)
	}
}
