package ui

import (
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
)

// IndicatorState is what the stream indicator shows.
type IndicatorState int32

const (
	IndicatorIdle IndicatorState = iota
	IndicatorBuffering
	IndicatorLive
	IndicatorError
)

var (
	idleColor  = color.NRGBA{0x80, 0x80, 0x80, 0xFF}
	bufferHue  = 40.0
	errorColor = color.NRGBA{0xD0, 0x30, 0x30, 0xFF}
)

// StreamIndicator is a tiny circle: gray when idle, pulsing amber while
// buffering, breathing through green hues while live and red after a fault.
type StreamIndicator struct {
	wrap   *fyne.Container
	circle *canvas.Circle
	state  atomic.Int32

	mu      sync.Mutex
	running bool
	phase   float64
}

// NewStreamIndicator constructs a StreamIndicator with the given diameter.
func NewStreamIndicator(diameter float32) *StreamIndicator {
	c := canvas.NewCircle(idleColor)
	c.StrokeColor = color.NRGBA{0, 0, 0, 0}
	inner := container.New(layout.NewGridWrapLayout(fyne.NewSize(diameter, diameter)), c)
	return &StreamIndicator{wrap: container.NewCenter(inner), circle: c}
}

// CanvasObject returns the fyne object suitable for embedding in layouts.
func (s *StreamIndicator) CanvasObject() fyne.CanvasObject { return s.wrap }

// State reports the current state.
func (s *StreamIndicator) State() IndicatorState { return IndicatorState(s.state.Load()) }

// SetState switches the indicator. Safe from any goroutine.
func (s *StreamIndicator) SetState(st IndicatorState) {
	s.state.Store(int32(st))
	if animated(st) {
		s.mu.Lock()
		start := !s.running
		s.running = true
		s.mu.Unlock()
		if start {
			go s.animate()
		}
		return
	}
	col := indicatorColor(st, 0)
	CallOnMain(func() {
		s.circle.FillColor = col
		s.circle.Refresh()
	})
}

func animated(st IndicatorState) bool {
	return st == IndicatorBuffering || st == IndicatorLive
}

func (s *StreamIndicator) animate() {
	t := time.NewTicker(90 * time.Millisecond)
	defer t.Stop()
	for {
		st := s.State()
		s.mu.Lock()
		if !animated(st) {
			s.running = false
			s.phase = 0
			s.mu.Unlock()
			return
		}
		s.phase = math.Mod(s.phase+8, 360)
		phase := s.phase
		s.mu.Unlock()

		col := indicatorColor(st, phase)
		CallOnMain(func() {
			if s.State() != st {
				return
			}
			s.circle.FillColor = col
			s.circle.Refresh()
		})
		<-t.C
	}
}

// indicatorColor is the fill for st at animation phase (degrees).
func indicatorColor(st IndicatorState, phase float64) color.NRGBA {
	switch st {
	case IndicatorLive:
		// cycle through greenish hues for a subtle breathing effect
		return hsvToNRGBA(90+math.Mod(phase, 360)/6, 0.65, 0.95)
	case IndicatorBuffering:
		v := 0.55 + 0.4*(1+math.Sin(phase*math.Pi/180))/2
		return hsvToNRGBA(bufferHue, 0.8, v)
	case IndicatorError:
		return errorColor
	}
	return idleColor
}

// hsvToNRGBA converts HSV (0..360, 0..1, 0..1) to color.NRGBA.
func hsvToNRGBA(h, s, v float64) color.NRGBA {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = clampFloat64(s, 0, 1)
	v = clampFloat64(v, 0, 1)
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60.0, 2)-1))
	m := v - c
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return color.NRGBA{
		R: uint8((r+m)*255 + 0.5),
		G: uint8((g+m)*255 + 0.5),
		B: uint8((b+m)*255 + 0.5),
		A: 0xFF,
	}
}
