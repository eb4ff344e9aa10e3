package sampler

import (
	"context"
	"sync"
	"time"
)

// DefaultFrameRate is used by TickerScheduler when no rate is given.
const DefaultFrameRate = 60

// TickerScheduler runs requested frames from a fixed-rate ticker goroutine.
// It stands in for a display refresh callback in headless mode.
type TickerScheduler struct {
	interval time.Duration

	mu      sync.Mutex
	pending []func()
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTickerScheduler returns a scheduler ticking fps times per second.
func NewTickerScheduler(fps int) *TickerScheduler {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return &TickerScheduler{interval: time.Second / time.Duration(fps)}
}

// Start launches the ticker goroutine. It is a no-op when already running.
func (s *TickerScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the ticker and waits for the goroutine to exit. Pending frames
// are dropped.
func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.pending = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}

func (s *TickerScheduler) RequestFrame(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
}

func (s *TickerScheduler) run(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runFrame(&s.mu, &s.pending)
		}
	}
}

// ManualScheduler runs frames only when Step is called. Useful for tests and
// for hosts that pump frames themselves.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (s *ManualScheduler) RequestFrame(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
}

// Step runs the frames requested before the call and returns how many ran.
// Frames requested while stepping wait for the next Step.
func (s *ManualScheduler) Step() int {
	return runFrame(&s.mu, &s.pending)
}

// Pending reports the number of requested frames.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func runFrame(mu *sync.Mutex, pending *[]func()) int {
	mu.Lock()
	batch := *pending
	*pending = nil
	mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}
