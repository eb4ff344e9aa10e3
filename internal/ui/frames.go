package ui

import (
	"sync"
	"time"

	"fyne.io/fyne/v2"
)

// FrameScheduler runs requested frames on fyne's animation tick, which fires
// once per display refresh on the UI goroutine.
type FrameScheduler struct {
	mu      sync.Mutex
	pending []func()
	anim    *fyne.Animation
}

// NewFrameScheduler returns a stopped scheduler.
func NewFrameScheduler() *FrameScheduler {
	s := &FrameScheduler{}
	s.anim = fyne.NewAnimation(time.Second, func(float32) { s.pump() })
	s.anim.Curve = fyne.AnimationLinear
	s.anim.RepeatCount = fyne.AnimationRepeatForever
	return s
}

// Start begins ticking. Requested frames wait until then.
func (s *FrameScheduler) Start() { s.anim.Start() }

// Stop halts the animation and drops pending frames.
func (s *FrameScheduler) Stop() {
	s.anim.Stop()
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *FrameScheduler) RequestFrame(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
}

// pump runs the frames requested before this tick; frames they request wait
// for the next one.
func (s *FrameScheduler) pump() int {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}
