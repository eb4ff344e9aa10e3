package effects

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Analyser defaults, matching the usual browser analyser node.
const (
	DefaultFFTSize   = 512
	MinFFTSize       = 32
	MaxFFTSize       = 32768
	DefaultSmoothing = 0.8
	DefaultMinDB     = -100.0
	DefaultMaxDB     = -30.0
)

// Analyser taps a mono mix of the signal into a ring buffer and turns the
// most recent FFTSize samples into smoothed byte magnitudes on demand.
type Analyser struct {
	in beep.Streamer

	mu        sync.Mutex
	size      int
	ring      []float64
	pos       int
	win       []float64
	smoothed  []float64
	smoothing float64
	minDB     float64
	maxDB     float64
}

func newAnalyser(in beep.Streamer, size int) *Analyser {
	size = normaliseFFTSize(size)
	return &Analyser{
		in:        in,
		size:      size,
		ring:      make([]float64, size),
		win:       window.Blackman(size),
		smoothed:  make([]float64, size/2),
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
	}
}

// normaliseFFTSize rounds size to a power of two within the accepted range.
func normaliseFFTSize(size int) int {
	if size <= 0 {
		return DefaultFFTSize
	}
	if size < MinFFTSize {
		return MinFFTSize
	}
	if size > MaxFFTSize {
		return MaxFFTSize
	}
	p := MinFFTSize
	for p < size {
		p <<= 1
	}
	return p
}

func (a *Analyser) Stream(samples [][2]float64) (int, bool) {
	n, ok := a.in.Stream(samples)
	a.mu.Lock()
	for i := 0; i < n; i++ {
		a.ring[a.pos] = (samples[i][0] + samples[i][1]) / 2
		a.pos = (a.pos + 1) % a.size
	}
	a.mu.Unlock()
	return n, ok
}

func (a *Analyser) Err() error { return a.in.Err() }

// FFTSize is the analysis window length in samples.
func (a *Analyser) FFTSize() int { return a.size }

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.size / 2 }

// ByteFrequencyData computes the current spectrum and writes up to len(dst)
// bins scaled so that minDB maps to 0 and maxDB to 255.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frame := make([]float64, a.size)
	for i := range frame {
		frame[i] = a.ring[(a.pos+i)%a.size] * a.win[i]
	}
	spec := fft.FFTReal(frame)

	scale := 1 / float64(a.size)
	span := a.maxDB - a.minDB
	for k := range a.smoothed {
		mag := cmplx.Abs(spec[k]) * scale
		s := a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		a.smoothed[k] = s
		if k >= len(dst) {
			continue
		}
		db := math.Inf(-1)
		if s > 0 {
			db = 20 * math.Log10(s)
		}
		v := 255 * (db - a.minDB) / span
		switch {
		case v <= 0 || math.IsNaN(v):
			dst[k] = 0
		case v >= 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
}
