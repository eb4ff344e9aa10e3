package effects

import (
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/mjibson/go-dsp/fft"
)

// partitionSize is the convolver block length in frames. Latency is one block.
const partitionSize = 512

// Impulse is a stereo impulse response split into FFT partitions.
type Impulse struct {
	frames int
	parts  [2][][]complex128
}

// NewImpulse normalises ir to unit energy and pre-computes the spectra of its
// partitions.
func NewImpulse(ir [][2]float64) *Impulse {
	if len(ir) == 0 {
		return nil
	}
	var energy float64
	for _, s := range ir {
		energy += s[0]*s[0] + s[1]*s[1]
	}
	scale := 1.0
	if energy > 0 {
		scale = 1 / math.Sqrt(energy/2)
	}

	count := (len(ir) + partitionSize - 1) / partitionSize
	imp := &Impulse{frames: len(ir)}
	for ch := 0; ch < 2; ch++ {
		imp.parts[ch] = make([][]complex128, count)
		for p := 0; p < count; p++ {
			block := make([]complex128, 2*partitionSize)
			for i := 0; i < partitionSize; i++ {
				idx := p*partitionSize + i
				if idx >= len(ir) {
					break
				}
				block[i] = complex(ir[idx][ch]*scale, 0)
			}
			imp.parts[ch][p] = fft.FFT(block)
		}
	}
	return imp
}

// Frames is the impulse length.
func (imp *Impulse) Frames() int { return imp.frames }

// Convolver runs a uniformly partitioned overlap-save convolution. With no
// impulse loaded it passes its input through untouched.
type Convolver struct {
	in beep.Streamer

	mu  sync.Mutex
	imp *Impulse

	// per channel: previous input block and the frequency-domain delay line
	prev [2][]float64
	fdl  [2][][]complex128
	head int

	inBlock  [][2]float64
	outBlock [][2]float64
	outPos   int
}

func newConvolver(in beep.Streamer) *Convolver {
	return &Convolver{
		in:       in,
		inBlock:  make([][2]float64, partitionSize),
		outBlock: make([][2]float64, partitionSize),
		outPos:   partitionSize,
	}
}

// SetImpulse swaps the impulse response; nil bypasses convolution. Any
// convolution tail of the previous response is discarded.
func (c *Convolver) SetImpulse(imp *Impulse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imp = imp
	c.head = 0
	c.outPos = partitionSize
	for ch := 0; ch < 2; ch++ {
		c.prev[ch] = make([]float64, partitionSize)
		c.fdl[ch] = nil
		if imp != nil {
			c.fdl[ch] = make([][]complex128, len(imp.parts[ch]))
		}
	}
}

// Active reports whether an impulse is loaded.
func (c *Convolver) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imp != nil
}

func (c *Convolver) Stream(samples [][2]float64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.imp == nil {
		return c.in.Stream(samples)
	}

	filled := 0
	for filled < len(samples) {
		if c.outPos >= len(c.outBlock) {
			n, ok := c.in.Stream(c.inBlock)
			if !ok {
				n = 0
			}
			if n == 0 && filled > 0 {
				break
			}
			if n == 0 {
				return 0, false
			}
			for i := n; i < len(c.inBlock); i++ {
				c.inBlock[i] = [2]float64{}
			}
			c.process()
			c.outPos = 0
		}
		k := copy(samples[filled:], c.outBlock[c.outPos:])
		filled += k
		c.outPos += k
	}
	return filled, true
}

func (c *Convolver) Err() error { return c.in.Err() }

// process convolves inBlock into outBlock, one channel at a time.
func (c *Convolver) process() {
	parts := len(c.fdl[0])
	c.head = (c.head + parts - 1) % parts
	for ch := 0; ch < 2; ch++ {
		window := make([]complex128, 2*partitionSize)
		for i := 0; i < partitionSize; i++ {
			window[i] = complex(c.prev[ch][i], 0)
			cur := c.inBlock[i][ch]
			window[partitionSize+i] = complex(cur, 0)
			c.prev[ch][i] = cur
		}
		c.fdl[ch][c.head] = fft.FFT(window)

		acc := make([]complex128, 2*partitionSize)
		for p := 0; p < parts; p++ {
			x := c.fdl[ch][(c.head+p)%parts]
			if x == nil {
				continue
			}
			h := c.imp.parts[ch][p]
			for k := range acc {
				acc[k] += x[k] * h[k]
			}
		}
		y := fft.IFFT(acc)
		for i := 0; i < partitionSize; i++ {
			c.outBlock[i][ch] = real(y[partitionSize+i])
		}
	}
}
