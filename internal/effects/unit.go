package effects

import (
	"context"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edward-ap/liveradio/internal/audio"
)

// Context describes the graph the unit is built into.
type Context struct {
	SampleRate beep.SampleRate
	FFTSize    int
	Loader     ImpulseLoader
	Logger     *zerolog.Logger
}

// Unit is the native effects graph: equalizer, convolver, analyser.
//
//	in -> equalizer -> convolver -> analyser -> (output gain)
type Unit struct {
	ctx Context
	log zerolog.Logger

	eq   *Equalizer
	conv *Convolver
	an   *Analyser
}

// Create builds the graph over in. The returned unit is itself the tail
// streamer to route into the sink.
func Create(ctx Context, in beep.Streamer) *Unit {
	if ctx.SampleRate <= 0 {
		ctx.SampleRate = audio.DefaultSampleRate
	}
	lg := log.Logger
	if ctx.Logger != nil {
		lg = *ctx.Logger
	}
	u := &Unit{
		ctx: ctx,
		log: lg.With().Str("component", "effects").Logger(),
	}
	u.eq = newEqualizer(in, ctx.SampleRate)
	u.conv = newConvolver(u.eq)
	u.an = newAnalyser(u.conv, ctx.FFTSize)
	return u
}

// UpdateEQ applies one gain in dB per entry of Bands.
func (u *Unit) UpdateEQ(values []float64) error {
	if err := u.eq.Set(values); err != nil {
		return err
	}
	u.log.Debug().Floats64("gains", values).Msg("equalizer updated")
	return nil
}

// UpdateIR loads the response at source into the convolver. An empty source
// removes the current response.
func (u *Unit) UpdateIR(source string) error {
	source = strings.TrimSpace(source)
	if source == "" {
		u.conv.SetImpulse(nil)
		u.log.Debug().Msg("convolver bypassed")
		return nil
	}
	frames, err := u.ctx.Loader.Load(context.Background(), source, u.ctx.SampleRate)
	if err != nil {
		return err
	}
	u.conv.SetImpulse(NewImpulse(frames))
	u.log.Debug().Str("source", source).Int("frames", len(frames)).Msg("impulse response loaded")
	return nil
}

// Analyser returns the spectrum analyser at the end of the chain.
func (u *Unit) Analyser() audio.Analyser { return u.an }

// Equalizer exposes the equalizer stage.
func (u *Unit) Equalizer() *Equalizer { return u.eq }

// Convolver exposes the convolution stage.
func (u *Unit) Convolver() *Convolver { return u.conv }

func (u *Unit) Stream(samples [][2]float64) (int, bool) { return u.an.Stream(samples) }

func (u *Unit) Err() error { return u.an.Err() }
