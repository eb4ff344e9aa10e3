package radioapp

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/edward-ap/liveradio/internal/bus"
	"github.com/edward-ap/liveradio/internal/config"
	"github.com/edward-ap/liveradio/internal/radio"
	"github.com/edward-ap/liveradio/internal/sampler"
)

// ErrNoChannel is returned when headless mode has nothing to play.
var ErrNoChannel = errors.New("no channel to play")

// RunHeadless plays url (or the restored or first configured channel)
// without a window, logging telemetry until ctx is done.
func RunHeadless(ctx context.Context, cfg *config.Config, backend *Backend, url string, logger zerolog.Logger) error {
	lg := logger.With().Str("component", "headless").Logger()
	b := bus.New()
	sched := sampler.NewTickerScheduler(cfg.FrameRate)
	lo := logObserver{log: lg}
	obs := radio.Observers{radio.BusObserver{Bus: b}, lo}
	backend.OnMetadata(lo.Metadata)
	defer backend.OnMetadata(nil)

	e, err := newEngine(cfg, backend, b, sched, obs, &logger)
	if err != nil {
		return err
	}
	r := newRetrier(b, e, DefaultRetryDelay, lg)
	unsubscribe := r.subscribe()
	defer unsubscribe()
	defer r.stop()

	sched.Start()
	defer sched.Stop()

	startup(b, cfg, backend.Sink)
	ch := headlessChannel(cfg, url)
	if ch == nil {
		return ErrNoChannel
	}
	lg.Info().Str("channel", ch.DisplayName()).Str("backend", backend.Name).Msg("starting")
	b.Emit(radio.EventPlay, ch)

	<-ctx.Done()
	e.Close()
	lg.Info().Msg("stopped")
	return nil
}

func headlessChannel(cfg *config.Config, url string) *radio.Channel {
	if url != "" {
		return cfg.AddChannel(url, url)
	}
	if ch := cfg.Restore(); ch != nil {
		return ch
	}
	if len(cfg.Channels) > 0 {
		ch := cfg.Channels[0]
		return &ch
	}
	return nil
}
