package player

import (
	"errors"
	"strings"
	"sync"

	vlc "github.com/adrg/libvlc-go/v3"

	"github.com/edward-ap/liveradio/internal/audio"
	"github.com/edward-ap/liveradio/internal/effects"
)

// ErrUnsupported is returned for effects libVLC cannot provide.
var ErrUnsupported = errors.New("effect not supported by the vlc backend")

// Effects drives libVLC's built-in equalizer. libVLC exposes neither
// convolution nor PCM taps, so impulse responses are rejected and there is
// no analyser.
type Effects struct {
	pl *Player

	mu sync.Mutex
	eq *vlc.Equalizer
}

// NewEffects returns an effects unit applying to pl.
func NewEffects(pl *Player) *Effects {
	return &Effects{pl: pl}
}

// UpdateEQ maps the gains onto libVLC's bands by index.
func (e *Effects) UpdateEQ(values []float64) error {
	if err := effects.ValidateGains(values); err != nil {
		return err
	}
	newEq, err := vlc.NewEqualizer()
	if err != nil {
		return err
	}
	bands := int(vlc.EqualizerBandCount())
	for i, v := range values {
		if i >= bands {
			break
		}
		_ = newEq.SetAmpValueAtIndex(v, uint(i))
	}
	if err := e.pl.SetAudioEqualizer(newEq); err != nil {
		_ = newEq.Release()
		return err
	}

	e.mu.Lock()
	old := e.eq
	e.eq = newEq
	e.mu.Unlock()
	if old != nil {
		_ = old.Release()
	}
	return nil
}

// UpdateIR accepts only an empty source, which is already the libVLC state.
func (e *Effects) UpdateIR(source string) error {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	return ErrUnsupported
}

// Analyser is always nil for libVLC.
func (e *Effects) Analyser() audio.Analyser { return nil }

// Release frees the current equalizer.
func (e *Effects) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eq != nil {
		_ = e.eq.Release()
		e.eq = nil
	}
}
