// Package sampler drives the per-frame telemetry loop of a playing radio. The
// loop asks its Scheduler for one frame at a time and divides the frame rate
// into position and spectrum cadences.
package sampler

import "sync"

const (
	// DefaultStateFrequency publishes position once a second at 60fps.
	DefaultStateFrequency = 60
	// DefaultSpectrumFrequency samples the analyser every third frame.
	DefaultSpectrumFrequency = 3
	// CounterCeiling bounds the frame counter independently of the cadences.
	CounterCeiling = 1024

	MaxStateFrequency    = 1024
	MaxSpectrumFrequency = 256
)

// Scheduler runs fn once on a later frame. Implementations must never call
// fn from inside RequestFrame.
type Scheduler interface {
	RequestFrame(fn func())
}

// Tick tells the target which dividers fired on this frame.
type Tick struct {
	Frame    int
	Position bool
	Spectrum bool
}

// Target performs the work of one frame. It must check liveness before any
// telemetry and return false to end the loop without rescheduling.
type Target interface {
	Step(t Tick) bool
}

// Loop is a self-rescheduling frame loop. Restarting it supersedes any tick
// already requested, so at most one chain of frames is ever live.
type Loop struct {
	sched  Scheduler
	target Target

	mu                sync.Mutex
	frameCount        int
	stateFrequency    int
	spectrumFrequency int
	running           bool
	gen               uint64
}

// New returns a stopped loop with default cadences.
func New(sched Scheduler, target Target) *Loop {
	return &Loop{
		sched:             sched,
		target:            target,
		stateFrequency:    DefaultStateFrequency,
		spectrumFrequency: DefaultSpectrumFrequency,
	}
}

// Start begins a new chain of frames, superseding any previous one.
func (l *Loop) Start() {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.running = true
	l.mu.Unlock()
	l.sched.RequestFrame(func() { l.tick(gen) })
}

// Stop abandons the current chain; its pending frame becomes a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.gen++
	l.running = false
	l.mu.Unlock()
}

// Reset zeroes the frame counter.
func (l *Loop) Reset() {
	l.mu.Lock()
	l.frameCount = 0
	l.mu.Unlock()
}

// Running reports whether a chain of frames is live.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// FrameCount reports the current divider counter.
func (l *Loop) FrameCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frameCount
}

// SetStateFrequency changes the position cadence from the next frame on.
// Values below one are ignored.
func (l *Loop) SetStateFrequency(n int) {
	if n < 1 {
		return
	}
	l.mu.Lock()
	l.stateFrequency = n
	l.frameCount %= counterBound(n)
	l.mu.Unlock()
}

// SetSpectrumFrequency changes the spectrum cadence from the next frame on.
// Values below one are ignored.
func (l *Loop) SetSpectrumFrequency(n int) {
	if n < 1 {
		return
	}
	l.mu.Lock()
	l.spectrumFrequency = n
	l.mu.Unlock()
}

// StateFrequency reports the position cadence.
func (l *Loop) StateFrequency() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateFrequency
}

// SpectrumFrequency reports the spectrum cadence.
func (l *Loop) SpectrumFrequency() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spectrumFrequency
}

func counterBound(stateFrequency int) int {
	if stateFrequency > CounterCeiling {
		return stateFrequency
	}
	return CounterCeiling
}

func (l *Loop) tick(gen uint64) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	fc := l.frameCount
	t := Tick{
		Frame:    fc,
		Position: fc%l.stateFrequency == 0,
		Spectrum: fc%l.spectrumFrequency == 0,
	}
	l.mu.Unlock()

	alive := l.target.Step(t)

	l.mu.Lock()
	if gen != l.gen {
		// restarted or stopped while stepping
		l.mu.Unlock()
		return
	}
	if !alive {
		l.running = false
		l.mu.Unlock()
		return
	}
	l.frameCount = (l.frameCount + 1) % counterBound(l.stateFrequency)
	l.mu.Unlock()
	l.sched.RequestFrame(func() { l.tick(gen) })
}
