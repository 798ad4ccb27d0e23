package mpris

import (
	"sync"
	"time"
)

// SeekCoalescer merges seek requests arriving within a window and submits only the
// final target.
type SeekCoalescer struct {
	mu       sync.Mutex
	window   time.Duration
	position func() time.Duration
	submit   func(time.Duration)

	pending bool
	target  time.Duration
	timer   *time.Timer
	closed  bool
}

// NewSeekCoalescer creates a coalescer. position returns the current playback position,
// the base for relative seeks.
func NewSeekCoalescer(window time.Duration, position func() time.Duration, submit func(time.Duration)) *SeekCoalescer {
	return &SeekCoalescer{window: window, position: position, submit: submit}
}

// Relative moves the pending target by delta.
func (s *SeekCoalescer) Relative(delta time.Duration) {
	s.RelativeWithin(delta, 0)
}

// RelativeWithin moves the pending target by delta. When limit is positive and the
// target reaches it, the pending seek is dropped and RelativeWithin returns false.
func (s *SeekCoalescer) RelativeWithin(delta, limit time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	target := s.target
	if !s.pending {
		target = s.position()
	}
	target += delta
	if target < 0 {
		target = 0
	}
	if limit > 0 && target >= limit {
		s.cancelLocked()
		return false
	}
	s.target = target
	s.armLocked()
	return true
}

// Absolute sets the pending target.
func (s *SeekCoalescer) Absolute(position time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if position < 0 {
		position = 0
	}
	s.target = position
	s.armLocked()
}

func (s *SeekCoalescer) armLocked() {
	if s.pending {
		return
	}
	s.pending = true
	if s.window <= 0 {
		s.timer = time.AfterFunc(0, s.flush)
		return
	}
	s.timer = time.AfterFunc(s.window, s.flush)
}

func (s *SeekCoalescer) flush() {
	s.mu.Lock()
	if !s.pending || s.closed {
		s.mu.Unlock()
		return
	}
	target := s.target
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	s.submit(target)
}

// Close drops any pending seek.
func (s *SeekCoalescer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cancelLocked()
}

func (s *SeekCoalescer) cancelLocked() {
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
