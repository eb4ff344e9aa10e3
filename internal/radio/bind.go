package radio

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edward-ap/liveradio/internal/audio"
	"github.com/edward-ap/liveradio/internal/bus"
)

// Bind subscribes e to the inbound command events on b. Payloads of the
// wrong type are logged and ignored.
func Bind(b *bus.Bus, e *Engine, logger *zerolog.Logger) {
	lg := log.Logger
	if logger != nil {
		lg = *logger
	}
	lg = lg.With().Str("component", "radio-bus").Logger()

	stop := func(any) { e.SetChannel(nil) }
	b.On(EventInit, func(p any) {
		sink, ok := p.(audio.Sink)
		if !ok {
			lg.Warn().Type("payload", p).Msg("radio-init without sink")
			return
		}
		if err := e.Initialize(sink); err != nil {
			lg.Warn().Err(err).Msg("radio-init")
		}
	}).
		On(EventChannelChange, func(p any) {
			if ch, ok := channelPayload(p); ok {
				e.SetChannel(ch)
			}
		}).
		On(EventPlay, func(p any) {
			if ch, ok := channelPayload(p); ok {
				e.PlayChannel(ch)
			}
		}).
		On(EventTogglePlay, func(any) { e.TogglePlay() }).
		On(EventVolumeSet, func(p any) {
			if v, ok := numberPayload(p); ok {
				e.SetVolume(v)
			}
		}).
		On(EventStop, stop).
		On(EventQueueEmpty, stop).
		On(EventTrackPlay, stop).
		On(EventTrackRestore, func(p any) {
			if ch, ok := channelPayload(p); ok {
				e.SetChannel(ch)
			}
		}).
		On(EventUpdateEQ, func(p any) {
			values, ok := p.([]float64)
			if !ok {
				lg.Warn().Type("payload", p).Msg("track-updateEQ payload ignored")
				return
			}
			if err := e.UpdateEQ(values); err != nil {
				lg.Warn().Err(err).Msg("track-updateEQ")
			}
		}).
		On(EventUpdateIR, func(p any) {
			source, ok := p.(string)
			if !ok {
				lg.Warn().Type("payload", p).Msg("track-updateIR payload ignored")
				return
			}
			if err := e.UpdateIR(source); err != nil {
				lg.Warn().Err(err).Msg("track-updateIR")
			}
		}).
		On(EventStateRefreshFrequency, func(p any) {
			if n, ok := intPayload(p); ok {
				if err := e.SetStateFrequency(n); err != nil {
					lg.Debug().Err(err).Msg("state refresh frequency ignored")
				}
			}
		}).
		On(EventSpectrumRefreshFrequency, func(p any) {
			if n, ok := intPayload(p); ok {
				if err := e.SetSpectrumFrequency(n); err != nil {
					lg.Debug().Err(err).Msg("spectrum refresh frequency ignored")
				}
			}
		})
}

func channelPayload(p any) (*Channel, bool) {
	switch v := p.(type) {
	case nil:
		return nil, true
	case *Channel:
		return v, true
	case Channel:
		return &v, true
	}
	return nil, false
}

func numberPayload(p any) (float64, bool) {
	switch v := p.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intPayload(p any) (int, bool) {
	switch v := p.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
