// Package effects implements the native audio effects unit: a ten band
// equalizer, an impulse-response convolver and a spectrum analyser chained
// as beep streamers ahead of the output gain stage.
package effects

import (
	"errors"
	"fmt"
	"strings"
)

// Bands are the equalizer centre frequencies in Hz, low to high.
var Bands = []float64{32, 64, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

// Gain limits accepted by the equalizer, in dB.
const (
	MinGain = -20.0
	MaxGain = 20.0
)

// ErrBandCount is returned when an EQ update does not carry one gain per band.
var ErrBandCount = errors.New("equalizer band count mismatch")

// Preset is a named set of band gains.
type Preset struct {
	Name  string
	Gains []float64
}

// PresetFlat is the neutral preset and the fallback for unknown names.
const PresetFlat = "Flat"

var defaultPresets = []Preset{
	{Name: PresetFlat, Gains: []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	{Name: "Bass Boost", Gains: []float64{6, 5, 4, 2, 1, 0, -1, -2, -3, -4}},
	{Name: "Treble Boost", Gains: []float64{-4, -3, -2, -1, 0, 1, 2, 4, 5, 6}},
	{Name: "Vocal Boost", Gains: []float64{-2, -1, 1, 3, 4, 3, 1, -1, -2, -3}},
}

// Presets returns a deep copy of the bundled presets.
func Presets() []Preset {
	out := make([]Preset, len(defaultPresets))
	for i, p := range defaultPresets {
		out[i] = p.clone()
	}
	return out
}

// PresetNames lists the bundled preset names in display order.
func PresetNames() []string {
	names := make([]string, len(defaultPresets))
	for i, p := range defaultPresets {
		names[i] = p.Name
	}
	return names
}

// FindPreset performs a case-insensitive lookup across the bundled presets.
func FindPreset(name string) (Preset, bool) {
	name = strings.TrimSpace(name)
	for _, p := range defaultPresets {
		if strings.EqualFold(p.Name, name) {
			return p.clone(), true
		}
	}
	return Preset{}, false
}

// ValidateGains checks that gains has one finite in-range value per band.
func ValidateGains(gains []float64) error {
	if len(gains) != len(Bands) {
		return fmt.Errorf("%w: got %d, want %d", ErrBandCount, len(gains), len(Bands))
	}
	for i, g := range gains {
		if g != g || g < MinGain || g > MaxGain {
			return fmt.Errorf("band %d gain %.1f dB out of range", i, g)
		}
	}
	return nil
}

func (p Preset) clone() Preset {
	c := Preset{Name: p.Name, Gains: make([]float64, len(p.Gains))}
	copy(c.Gains, p.Gains)
	return c
}
