package radioapp

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edward-ap/liveradio/internal/audio"
	"github.com/edward-ap/liveradio/internal/config"
	"github.com/edward-ap/liveradio/internal/effects"
	"github.com/edward-ap/liveradio/internal/player"
	"github.com/edward-ap/liveradio/internal/radio"
	"github.com/edward-ap/liveradio/internal/stream"
)

// Backend bundles the streaming session, the shared sink and the effects
// factory the engine runs against.
type Backend struct {
	Name    string
	Session stream.Session
	Sink    audio.Sink
	Effects radio.EffectsFactory

	closers []func()

	metaMu sync.Mutex
	onMeta func(stream.Metadata)
}

// metadataPoll is how often the VLC backend rereads now-playing metadata.
const metadataPoll = 5 * time.Second

// OnMetadata sets the receiver of station and title updates. It may be
// called from decoder goroutines.
func (b *Backend) OnMetadata(fn func(stream.Metadata)) {
	b.metaMu.Lock()
	b.onMeta = fn
	b.metaMu.Unlock()
}

func (b *Backend) metadata(md stream.Metadata) {
	b.metaMu.Lock()
	fn := b.onMeta
	b.metaMu.Unlock()
	if fn != nil {
		fn(md)
	}
}

// Close releases the backend in reverse construction order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// NewBackend builds the backend named by cfg.Backend.
func NewBackend(cfg *config.Config, logger *zerolog.Logger) (*Backend, error) {
	if cfg.Backend == config.BackendVLC {
		return newVLCBackend(cfg, logger)
	}
	return newNativeBackend(cfg, logger)
}

// newNativeBackend plays through PortAudio with the beep effects graph.
func newNativeBackend(cfg *config.Config, logger *zerolog.Logger) (*Backend, error) {
	out := audio.NewOutput(audio.OutputConfig{Logger: logger})
	if err := out.Init(); err != nil {
		return nil, fmt.Errorf("native backend: %w", err)
	}
	out.SetVolume(cfg.Volume)
	b := &Backend{
		Name:    config.BackendNative,
		Sink:    out,
		Effects: nativeEffects(cfg.FFTSize, logger),
	}
	sess := stream.NewHTTPSession(stream.HTTPConfig{Logger: logger, OnMetadata: b.metadata})
	b.Session = sess
	b.closers = []func(){out.Close, sess.Close}
	return b, nil
}

// nativeEffects builds the effects unit into the output graph of the sink.
func nativeEffects(fftSize int, logger *zerolog.Logger) radio.EffectsFactory {
	return func(sink audio.Sink) (audio.Effects, error) {
		out, ok := sink.(*audio.Output)
		if !ok {
			return nil, fmt.Errorf("native effects need an audio output, got %T", sink)
		}
		unit := effects.Create(effects.Context{
			SampleRate: out.SampleRate(),
			FFTSize:    fftSize,
			Logger:     logger,
		}, out.Input())
		out.Route(unit)
		return unit, nil
	}
}

// newVLCBackend plays through libVLC; it has an equalizer but no analyser.
func newVLCBackend(cfg *config.Config, logger *zerolog.Logger) (*Backend, error) {
	p := player.NewPlayer(logger)
	if err := p.Init(cfg.Volume); err != nil {
		return nil, fmt.Errorf("vlc backend: %w", err)
	}
	var fx *player.Effects
	b := &Backend{
		Name:    config.BackendVLC,
		Session: p,
		Sink:    p,
		Effects: func(audio.Sink) (audio.Effects, error) {
			fx = player.NewEffects(p)
			return fx, nil
		},
	}
	done := make(chan struct{})
	go pollMetadata(p.NowPlaying, b.metadata, metadataPoll, done)
	b.closers = []func(){
		p.Release,
		func() {
			if fx != nil {
				fx.Release()
			}
		},
		func() { close(done) },
	}
	return b, nil
}

// pollMetadata reports read's result whenever it changes until done closes.
func pollMetadata(read func() stream.Metadata, report func(stream.Metadata), every time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var last stream.Metadata
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		md := read()
		if md.Title == "" || md == last {
			continue
		}
		last = md
		report(md)
	}
}
