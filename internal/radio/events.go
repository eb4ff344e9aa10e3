package radio

import "github.com/edward-ap/liveradio/internal/bus"

// Inbound command events.
const (
	EventInit                     = "radio-init"
	EventChannelChange            = "radio-channelChange"
	EventPlay                     = "radio-play"
	EventTogglePlay               = "radio-togglePlay"
	EventVolumeSet                = "volume-set"
	EventStop                     = "radio-stop"
	EventQueueEmpty               = "playbackQueue-empty"
	EventTrackPlay                = "track-play"
	EventTrackRestore             = "track-restore"
	EventUpdateEQ                 = "track-updateEQ"
	EventUpdateIR                 = "track-updateIR"
	EventStateRefreshFrequency    = "track-stateRefreshFrequency"
	EventSpectrumRefreshFrequency = "track-spectrumRefreshFrequency"
)

// Outbound telemetry events.
const (
	EventState        = "radio-state"
	EventPosition     = "track-pos"
	EventSpectrumData = "track-spectrumData"
	EventError        = "track-error"
)

// TrackError is published on stream faults. IsRetry is advisory: the engine
// never retries on its own.
type TrackError struct {
	IsRetry     bool
	Channel     *Channel
	CurrentTime float64
	Radio       bool
}

// Observer receives engine telemetry. Calls never happen while the engine
// holds its lock, so observers may call back into the engine.
type Observer interface {
	State(playing bool)
	Position(seconds float64)
	Spectrum(data []byte)
	Error(e TrackError)
}

// NopObserver discards all telemetry.
type NopObserver struct{}

func (NopObserver) State(bool)       {}
func (NopObserver) Position(float64) {}
func (NopObserver) Spectrum([]byte)  {}
func (NopObserver) Error(TrackError) {}

// BusObserver republishes telemetry as bus events with the classic payload
// shapes: bool, float64 seconds, []byte and TrackError.
type BusObserver struct {
	Bus *bus.Bus
}

func (o BusObserver) State(playing bool)       { o.Bus.Emit(EventState, playing) }
func (o BusObserver) Position(seconds float64) { o.Bus.Emit(EventPosition, seconds) }
func (o BusObserver) Spectrum(data []byte)     { o.Bus.Emit(EventSpectrumData, data) }
func (o BusObserver) Error(e TrackError)       { o.Bus.Emit(EventError, e) }

// Observers fans telemetry out to several observers in order.
type Observers []Observer

func (obs Observers) State(playing bool) {
	for _, o := range obs {
		o.State(playing)
	}
}

func (obs Observers) Position(seconds float64) {
	for _, o := range obs {
		o.Position(seconds)
	}
}

func (obs Observers) Spectrum(data []byte) {
	for _, o := range obs {
		o.Spectrum(data)
	}
}

func (obs Observers) Error(e TrackError) {
	for _, o := range obs {
		o.Error(e)
	}
}
