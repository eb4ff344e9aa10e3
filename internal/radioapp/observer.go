package radioapp

import (
	"github.com/rs/zerolog"

	"github.com/edward-ap/liveradio/internal/radio"
	"github.com/edward-ap/liveradio/internal/stream"
)

// logObserver writes engine telemetry to the log: state and errors at info
// and warn, positions at debug, spectrum peaks at trace.
type logObserver struct {
	log zerolog.Logger
}

func (o logObserver) State(playing bool) {
	o.log.Info().Bool("playing", playing).Msg(radio.EventState)
}

func (o logObserver) Position(seconds float64) {
	o.log.Debug().Float64("seconds", seconds).Msg(radio.EventPosition)
}

func (o logObserver) Spectrum(data []byte) {
	if e := o.log.Trace(); e.Enabled() {
		bin, peak := spectrumPeak(data)
		e.Int("bins", len(data)).Int("peakBin", bin).Uint8("peak", peak).Msg(radio.EventSpectrumData)
	}
}

func (o logObserver) Error(te radio.TrackError) {
	o.log.Warn().
		Bool("isRetry", te.IsRetry).
		Str("channel", te.Channel.DisplayName()).
		Msg(radio.EventError)
}

// spectrumPeak returns the loudest bin and its level.
func spectrumPeak(data []byte) (int, byte) {
	bin, peak := -1, byte(0)
	for i, v := range data {
		if bin < 0 || v > peak {
			bin, peak = i, v
		}
	}
	return bin, peak
}

func (o logObserver) Metadata(md stream.Metadata) {
	o.log.Info().Str("station", md.Station).Str("title", md.Title).Msg("now playing")
}

// nowPlaying formats stream metadata for the status line, or returns
// fallback when the stream has not announced a title.
func nowPlaying(md stream.Metadata, fallback string) string {
	switch {
	case md.Title == "":
		return fallback
	case md.Station == "":
		return md.Title
	default:
		return md.Station + ": " + md.Title
	}
}
