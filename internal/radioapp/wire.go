package radioapp

import (
	"github.com/rs/zerolog"

	"github.com/edward-ap/liveradio/internal/audio"
	"github.com/edward-ap/liveradio/internal/bus"
	"github.com/edward-ap/liveradio/internal/config"
	"github.com/edward-ap/liveradio/internal/radio"
	"github.com/edward-ap/liveradio/internal/sampler"
)

// newEngine builds the engine for backend and subscribes it to b.
func newEngine(cfg *config.Config, backend *Backend, b *bus.Bus, sched sampler.Scheduler, obs radio.Observer, logger *zerolog.Logger) (*radio.Engine, error) {
	e, err := radio.New(radio.Options{
		Session:           backend.Session,
		Effects:           backend.Effects,
		Scheduler:         sched,
		Observer:          obs,
		MaxRetry:          cfg.MaxRetry,
		StateFrequency:    cfg.StateFrequency,
		SpectrumFrequency: cfg.SpectrumFrequency,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	radio.Bind(b, e, logger)
	return e, nil
}

// startup replays persisted settings onto the bus. Both effects follow init
// so they apply to the built unit directly; the impulse response loads in
// the background.
func startup(b *bus.Bus, cfg *config.Config, sink audio.Sink) {
	b.Emit(radio.EventInit, sink)
	b.Emit(radio.EventUpdateEQ, cfg.EQGains())
	b.Emit(radio.EventVolumeSet, cfg.Volume)
	if ch := cfg.Restore(); ch != nil {
		b.Emit(radio.EventTrackRestore, ch)
	}
	if cfg.IRSource != "" {
		go b.Emit(radio.EventUpdateIR, cfg.IRSource)
	}
}
