// Package audio defines the sink-side contracts shared by the radio engine,
// the streaming sessions and the effects graph, and provides the PortAudio
// output used by the native backend.
package audio

import "github.com/gopxl/beep/v2"

// Sink is the single hardware output a radio engine drives.
type Sink interface {
	// Play starts (or resumes) audible output.
	Play() error
	// SetVolume applies a linear gain in [0,1] immediately, without ramping.
	SetVolume(level float64)
}

// Analyser exposes frequency-domain magnitudes of the audio reaching the sink.
type Analyser interface {
	FrequencyBinCount() int
	// ByteFrequencyData writes min(len(dst), FrequencyBinCount()) magnitudes
	// scaled to 0..255.
	ByteFrequencyData(dst []byte)
}

// Effects is the DSP graph attached to a sink: an equalizer, a convolution
// stage and an optional analyser.
type Effects interface {
	UpdateEQ(values []float64) error
	UpdateIR(source string) error
	// Analyser returns nil when the graph has no analysis node.
	Analyser() Analyser
}

// Attacher is implemented by sinks that accept decoded PCM from a session.
type Attacher interface {
	Attach(src beep.Streamer)
	// Detach removes src if it is still the attached source.
	Detach(src beep.Streamer)
	SampleRate() beep.SampleRate
}
