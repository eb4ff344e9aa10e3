package radioapp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edward-ap/liveradio/internal/bus"
	"github.com/edward-ap/liveradio/internal/radio"
)

// DefaultRetryDelay is the pause before acting on a retry hint.
const DefaultRetryDelay = 2 * time.Second

// channelState is the part of the engine the retrier consults.
type channelState interface {
	Channel() *radio.Channel
}

// retrier turns advisory track-error hints into a delayed radio-play for the
// same channel. A newer hint or a channel switch cancels the pending one.
type retrier struct {
	bus   *bus.Bus
	state channelState
	delay time.Duration
	log   zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func newRetrier(b *bus.Bus, state channelState, delay time.Duration, logger zerolog.Logger) *retrier {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &retrier{bus: b, state: state, delay: delay, log: logger}
}

// subscribe wires the retrier to track-error on its bus.
func (r *retrier) subscribe() func() {
	return r.bus.Subscribe(radio.EventError, func(p any) {
		if te, ok := p.(radio.TrackError); ok {
			r.handle(te)
		}
	})
}

func (r *retrier) handle(te radio.TrackError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if !te.IsRetry || te.Channel == nil {
		r.log.Warn().Str("channel", te.Channel.DisplayName()).Msg("stream failed, giving up")
		return
	}
	ch := te.Channel
	r.log.Info().Str("channel", ch.DisplayName()).Dur("in", r.delay).Msg("retrying stream")
	r.timer = time.AfterFunc(r.delay, func() {
		if r.state.Channel() != ch {
			return
		}
		r.bus.Emit(radio.EventPlay, ch)
	})
}

// stop cancels any pending retry.
func (r *retrier) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
