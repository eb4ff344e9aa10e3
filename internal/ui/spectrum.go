package ui

import (
	"image/color"
	"math"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

// DefaultBars is the bar count of a new SpectrumView.
const DefaultBars = 24

// SpectrumView draws analyser byte data as vertical bars. Update is safe
// from any goroutine.
type SpectrumView struct {
	widget.BaseWidget

	mu     sync.Mutex
	levels []float32
	color  color.Color
}

// NewSpectrumView creates a view with n bars.
func NewSpectrumView(n int) *SpectrumView {
	if n <= 0 {
		n = DefaultBars
	}
	v := &SpectrumView{levels: make([]float32, n), color: color.NRGBA{0x00, 0x99, 0xFF, 0xC0}}
	v.ExtendBaseWidget(v)
	return v
}

// Update replaces the bar levels with data grouped into bars.
func (v *SpectrumView) Update(data []byte) {
	v.mu.Lock()
	v.levels = barLevels(data, len(v.levels))
	v.mu.Unlock()
	CallOnMain(v.Refresh)
}

// Clear drops all bars to zero.
func (v *SpectrumView) Clear() { v.Update(nil) }

// Levels returns a copy of the current bar levels in 0..1.
func (v *SpectrumView) Levels() []float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]float32(nil), v.levels...)
}

func (v *SpectrumView) CreateRenderer() fyne.WidgetRenderer {
	r := &spectrumRenderer{v: v}
	r.bars = make([]*canvas.Rectangle, len(v.levels))
	for i := range r.bars {
		r.bars[i] = canvas.NewRectangle(v.color)
		r.objs = append(r.objs, r.bars[i])
	}
	return r
}

// barLevels groups bins into n bars on a logarithmic frequency scale. Every
// bar owns at least one bin while bins last; each is the peak of its bins
// scaled to 0..1.
func barLevels(data []byte, n int) []float32 {
	out := make([]float32, n)
	if len(data) == 0 || n == 0 {
		return out
	}
	bins := float64(len(data))
	start := 0
	for i := 0; i < n; i++ {
		end := int(math.Round(math.Pow(bins, float64(i+1)/float64(n))))
		if end <= start {
			end = start + 1
		}
		if end > len(data) {
			end = len(data)
		}
		lo := start
		if lo >= end {
			lo = end - 1
		}
		var peak byte
		for _, b := range data[lo:end] {
			if b > peak {
				peak = b
			}
		}
		out[i] = float32(peak) / 255
		start = end
	}
	return out
}

type spectrumRenderer struct {
	v    *SpectrumView
	bars []*canvas.Rectangle
	objs []fyne.CanvasObject
	size fyne.Size
}

func (r *spectrumRenderer) Layout(size fyne.Size) {
	r.size = size
	levels := r.v.Levels()
	if len(r.bars) == 0 {
		return
	}
	gap := float32(2)
	w := (size.Width - gap*float32(len(r.bars)-1)) / float32(len(r.bars))
	if w < 1 {
		w = 1
	}
	for i, bar := range r.bars {
		h := size.Height * levels[i]
		bar.Resize(fyne.NewSize(w, h))
		bar.Move(fyne.NewPos(float32(i)*(w+gap), size.Height-h))
	}
}

func (r *spectrumRenderer) MinSize() fyne.Size {
	return fyne.NewSize(float32(len(r.bars))*3, 24)
}

func (r *spectrumRenderer) Refresh() {
	r.Layout(r.size)
	for _, bar := range r.bars {
		bar.Refresh()
	}
}

func (r *spectrumRenderer) Objects() []fyne.CanvasObject { return r.objs }

func (r *spectrumRenderer) Destroy() {}
