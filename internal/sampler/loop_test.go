package sampler

import (
	"sync/atomic"
	"testing"
	"time"
)

type recordTarget struct {
	ticks []Tick
	alive bool
}

func (r *recordTarget) Step(t Tick) bool {
	r.ticks = append(r.ticks, t)
	return r.alive
}

func runFrames(t *testing.T, s *ManualScheduler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if s.Step() == 0 {
			t.Fatalf("loop stopped after %d frames", i)
		}
	}
}

func TestLoopDividers(t *testing.T) {
	sched := &ManualScheduler{}
	target := &recordTarget{alive: true}
	l := New(sched, target)
	if l.Running() {
		t.Fatal("new loop must be stopped")
	}
	l.Start()
	if sched.Pending() != 1 {
		t.Fatalf("Start requested %d frames, want 1", sched.Pending())
	}
	if len(target.ticks) != 0 {
		t.Fatal("Start must not tick inline")
	}
	runFrames(t, sched, 121)

	var positions, spectra int
	for _, tk := range target.ticks {
		if tk.Position {
			positions++
			if tk.Frame%DefaultStateFrequency != 0 {
				t.Fatalf("position fired on frame %d", tk.Frame)
			}
		}
		if tk.Spectrum {
			spectra++
		}
	}
	if positions != 3 {
		t.Fatalf("positions = %d, want 3 (frames 0, 60, 120)", positions)
	}
	if spectra != 41 {
		t.Fatalf("spectra = %d, want 41", spectra)
	}
	if !l.Running() {
		t.Fatal("loop should still be running")
	}
}

func TestLoopSelfTerminates(t *testing.T) {
	sched := &ManualScheduler{}
	target := &recordTarget{alive: false}
	l := New(sched, target)
	l.Start()
	sched.Step()
	if len(target.ticks) != 1 {
		t.Fatalf("ticks = %d, want 1", len(target.ticks))
	}
	if l.Running() {
		t.Fatal("loop should have stopped")
	}
	if sched.Pending() != 0 {
		t.Fatal("terminated loop must not reschedule")
	}
	if l.FrameCount() != 0 {
		t.Fatalf("terminated tick advanced the counter to %d", l.FrameCount())
	}
}

func TestLoopRestartSupersedesPendingTick(t *testing.T) {
	sched := &ManualScheduler{}
	target := &recordTarget{alive: true}
	l := New(sched, target)
	l.Start()
	l.Start()
	sched.Step()
	if len(target.ticks) != 1 {
		t.Fatalf("ticks = %d, want 1 after double start", len(target.ticks))
	}
	if sched.Pending() != 1 {
		t.Fatalf("pending = %d, want a single chain", sched.Pending())
	}

	l.Stop()
	sched.Step()
	if len(target.ticks) != 1 || l.Running() {
		t.Fatal("stopped loop kept ticking")
	}
}

func TestLoopCounterWrapsAtCeiling(t *testing.T) {
	sched := &ManualScheduler{}
	l := New(sched, &recordTarget{alive: true})
	l.Start()
	runFrames(t, sched, CounterCeiling+5)
	if got := l.FrameCount(); got != 5 {
		t.Fatalf("FrameCount() = %d, want 5", got)
	}
}

func TestLoopCounterBoundFollowsStateFrequency(t *testing.T) {
	sched := &ManualScheduler{}
	target := &recordTarget{alive: true}
	l := New(sched, target)
	l.SetStateFrequency(2000)
	l.Start()
	runFrames(t, sched, 1500)
	if got := l.FrameCount(); got != 1500 {
		t.Fatalf("FrameCount() = %d, want 1500", got)
	}

	l.SetStateFrequency(10)
	if got := l.FrameCount(); got >= CounterCeiling {
		t.Fatalf("FrameCount() = %d after shrinking cadence", got)
	}
	before := len(target.ticks)
	runFrames(t, sched, 3000)
	for _, tk := range target.ticks[before:] {
		if tk.Frame >= CounterCeiling {
			t.Fatalf("frame %d exceeds bound", tk.Frame)
		}
	}
	// new cadence applies on the very next tick
	last := target.ticks[len(target.ticks)-1]
	if last.Position != (last.Frame%10 == 0) {
		t.Fatalf("frame %d position=%v with cadence 10", last.Frame, last.Position)
	}
}

func TestLoopIgnoresInvalidFrequencies(t *testing.T) {
	l := New(&ManualScheduler{}, &recordTarget{})
	l.SetStateFrequency(0)
	l.SetSpectrumFrequency(-3)
	if l.StateFrequency() != DefaultStateFrequency || l.SpectrumFrequency() != DefaultSpectrumFrequency {
		t.Fatalf("cadences changed to %d/%d", l.StateFrequency(), l.SpectrumFrequency())
	}
	l.SetSpectrumFrequency(7)
	if l.SpectrumFrequency() != 7 {
		t.Fatalf("SpectrumFrequency() = %d", l.SpectrumFrequency())
	}
}

func TestLoopResetZeroesCounter(t *testing.T) {
	sched := &ManualScheduler{}
	l := New(sched, &recordTarget{alive: true})
	l.Start()
	runFrames(t, sched, 7)
	l.Reset()
	if l.FrameCount() != 0 {
		t.Fatalf("FrameCount() = %d after Reset", l.FrameCount())
	}
}

type countTarget struct{ n atomic.Int32 }

func (c *countTarget) Step(Tick) bool {
	return c.n.Add(1) < 5
}

func TestTickerSchedulerDrivesLoop(t *testing.T) {
	sched := NewTickerScheduler(200)
	sched.Start()
	defer sched.Stop()

	target := &countTarget{}
	l := New(sched, target)
	l.Start()

	deadline := time.Now().Add(3 * time.Second)
	for l.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.Running() {
		t.Fatal("loop did not terminate")
	}
	if got := target.n.Load(); got != 5 {
		t.Fatalf("steps = %d, want 5", got)
	}
}
