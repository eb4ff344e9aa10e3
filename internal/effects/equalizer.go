package effects

import (
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	beepfx "github.com/gopxl/beep/v2/effects"
)

// octave-wide peaking sections: edges at f0/√2 and f0·√2
var bandwidthRatio = math.Sqrt2 - 1/math.Sqrt2

// Equalizer applies peaking sections at Bands. beep's equalizer fixes its
// gains at construction, so every update builds a new one over the same input.
type Equalizer struct {
	in   beep.Streamer
	rate beep.SampleRate

	mu    sync.Mutex
	gains []float64
	st    beep.Streamer
}

func newEqualizer(in beep.Streamer, rate beep.SampleRate) *Equalizer {
	return &Equalizer{
		in:    in,
		rate:  rate,
		gains: make([]float64, len(Bands)),
		st:    in,
	}
}

// Set replaces all band gains.
func (e *Equalizer) Set(gains []float64) error {
	if err := ValidateGains(gains); err != nil {
		return err
	}
	sections := make(beepfx.MonoEqualizerSections, 0, len(Bands))
	for i, g := range gains {
		if g == 0 {
			continue
		}
		f0 := Bands[i]
		sections = append(sections, beepfx.MonoEqualizerSection{
			F0: f0,
			Bf: f0 * bandwidthRatio,
			GB: g / 2,
			G0: 0,
			G:  g,
		})
	}
	st := e.in
	if len(sections) > 0 {
		st = beepfx.NewEqualizer(e.in, e.rate, sections)
	}

	e.mu.Lock()
	e.gains = append(e.gains[:0], gains...)
	e.st = st
	e.mu.Unlock()
	return nil
}

// Gains returns a copy of the current band gains.
func (e *Equalizer) Gains() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.gains))
	copy(out, e.gains)
	return out
}

// Flat reports whether every band is at 0 dB.
func (e *Equalizer) Flat() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range e.gains {
		if g != 0 {
			return false
		}
	}
	return true
}

func (e *Equalizer) Stream(samples [][2]float64) (int, bool) {
	e.mu.Lock()
	st := e.st
	e.mu.Unlock()
	return st.Stream(samples)
}

func (e *Equalizer) Err() error { return e.in.Err() }
