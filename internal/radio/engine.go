// Package radio implements the live-radio playback engine: it owns the
// current channel, drives the streaming session against the shared sink,
// applies the advisory retry policy, defers effect requests until the
// effects unit exists and runs the telemetry loop while playing.
package radio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edward-ap/liveradio/internal/audio"
	"github.com/edward-ap/liveradio/internal/sampler"
	"github.com/edward-ap/liveradio/internal/stream"
)

// DefaultMaxRetry is the retry budget advertised through TrackError.IsRetry.
const DefaultMaxRetry = 1

// ErrFrequencyRange is returned for cadences outside their accepted range.
var ErrFrequencyRange = errors.New("refresh frequency out of range")

// EffectsFactory builds the effects unit for a sink. It is called at most
// once per engine.
type EffectsFactory func(sink audio.Sink) (audio.Effects, error)

// Options configures an Engine. Session and Scheduler are required.
type Options struct {
	Session           stream.Session
	Effects           EffectsFactory
	Scheduler         sampler.Scheduler
	Observer          Observer
	MaxRetry          int
	StateFrequency    int
	SpectrumFrequency int
	Logger            *zerolog.Logger
	Now               func() time.Time
}

// Engine is the radio playback state machine. Every mutation is serialised
// by one mutex; telemetry is queued while locked and delivered after.
type Engine struct {
	session    stream.Session
	newEffects EffectsFactory
	obs        Observer
	log        zerolog.Logger
	now        func() time.Time
	maxRetry   int
	loop       *sampler.Loop

	mu             sync.Mutex
	sink           audio.Sink
	fx             audio.Effects
	channel        *Channel
	playing        bool
	channelChanged bool
	retryCount     int
	load           stream.LoadID
	started        time.Time
	pending        *PendingEffect

	outbox   []func(Observer)
	draining bool

	// effect requests are numbered under mu and applied in number order per
	// kind; a request older than the last applied one of its kind is dropped
	fxSeq     uint64
	fxMu      [2]sync.Mutex
	fxApplied [2]uint64
}

// State is a snapshot of the engine.
type State struct {
	Channel           *Channel
	Playing           bool
	ChannelChanged    bool
	RetryCount        int
	Pending           *PendingEffect
	EffectsReady      bool
	LoopRunning       bool
	FrameCount        int
	StateFrequency    int
	SpectrumFrequency int
}

// New builds the engine and binds the session handlers. It is meant to be
// called once, by the composition root.
func New(opts Options) (*Engine, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("radio: session is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("radio: scheduler is required")
	}
	lg := log.Logger
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	e := &Engine{
		session:    opts.Session,
		newEffects: opts.Effects,
		obs:        opts.Observer,
		log:        lg.With().Str("component", "radio").Logger(),
		now:        opts.Now,
		maxRetry:   opts.MaxRetry,
	}
	if e.obs == nil {
		e.obs = NopObserver{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.maxRetry <= 0 {
		e.maxRetry = DefaultMaxRetry
	}
	e.loop = sampler.New(opts.Scheduler, loopTarget{e})
	if opts.StateFrequency != 0 {
		if err := e.SetStateFrequency(opts.StateFrequency); err != nil {
			return nil, err
		}
	}
	if opts.SpectrumFrequency != 0 {
		if err := e.SetSpectrumFrequency(opts.SpectrumFrequency); err != nil {
			return nil, err
		}
	}
	if err := opts.Session.Bind(sessionEvents{e}); err != nil {
		return nil, fmt.Errorf("radio: bind session: %w", err)
	}
	return e, nil
}

// unlock releases the engine lock and delivers queued telemetry in order.
// Only one goroutine drains at a time; re-entrant calls just enqueue.
func (e *Engine) unlock() {
	if e.draining || len(e.outbox) == 0 {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.outbox) > 0 {
		batch := e.outbox
		e.outbox = nil
		e.mu.Unlock()
		for _, fn := range batch {
			fn(e.obs)
		}
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}

func (e *Engine) notify(fn func(Observer)) {
	e.outbox = append(e.outbox, fn)
}

func (e *Engine) setPlaying(v bool) {
	e.playing = v
	e.notify(func(o Observer) { o.State(v) })
}

// Initialize binds the sink and builds the effects unit once. A nil sink is
// ignored; later calls only rebind the sink.
func (e *Engine) Initialize(sink audio.Sink) error {
	if sink == nil {
		return nil
	}
	e.mu.Lock()
	defer e.unlock()
	e.sink = sink
	if e.fx != nil || e.newEffects == nil {
		return nil
	}
	fx, err := e.newEffects(sink)
	if err != nil {
		e.log.Warn().Err(err).Msg("effects unit unavailable")
		return fmt.Errorf("radio: build effects: %w", err)
	}
	e.fx = fx
	e.log.Debug().Bool("pending", e.pending != nil).Msg("effects unit ready")
	return nil
}

// SetChannel stops current playback, abandons in-flight loading and makes
// ch current without starting it. A nil channel just stops.
func (e *Engine) SetChannel(ch *Channel) {
	e.mu.Lock()
	defer e.unlock()
	e.setChannelLocked(ch)
}

func (e *Engine) setChannelLocked(ch *Channel) {
	e.pauseLocked()
	e.session.StopLoad()
	e.load = 0
	e.channel = ch
	e.channelChanged = true
	e.log.Debug().Str("channel", ch.DisplayName()).Msg("channel set")
}

// Play loads the current channel into the session. It is a silent no-op
// without streaming support, sink, channel or URL.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.unlock()
	e.playLocked()
}

func (e *Engine) playLocked() {
	switch {
	case !e.session.Supported():
		e.log.Trace().Msg("play ignored: streaming unsupported")
		return
	case e.sink == nil:
		e.log.Trace().Msg("play ignored: no sink")
		return
	case e.channel == nil:
		e.log.Trace().Msg("play ignored: no channel")
		return
	case !e.channel.Playable():
		e.log.Trace().Str("channel", e.channel.ID).Msg("play ignored: blank url")
		return
	}
	e.load = e.session.LoadAndAttach(e.channel.URL, e.sink)
	e.log.Debug().Uint64("load", uint64(e.load)).Str("url", e.channel.URL).Msg("loading channel")
}

// Pause detaches the session from the sink. It is a silent no-op under the
// Play guards or when not playing.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.unlock()
	e.pauseLocked()
}

func (e *Engine) pauseLocked() {
	if !e.session.Supported() || e.sink == nil || !e.playing {
		return
	}
	e.session.Detach()
	e.setPlaying(false)
}

// TogglePlay pauses when playing and plays otherwise.
func (e *Engine) TogglePlay() {
	e.mu.Lock()
	defer e.unlock()
	if e.playing {
		e.pauseLocked()
	} else {
		e.playLocked()
	}
}

// PlayChannel switches to ch and starts it.
func (e *Engine) PlayChannel(ch *Channel) {
	e.mu.Lock()
	defer e.unlock()
	e.setChannelLocked(ch)
	e.playLocked()
}

// SetVolume sets the sink gain directly, clamped to [0,1].
func (e *Engine) SetVolume(level float64) {
	e.mu.Lock()
	defer e.unlock()
	if !e.session.Supported() || e.sink == nil {
		return
	}
	if math.IsNaN(level) || level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	e.sink.SetVolume(level)
}

// UpdateEQ applies band gains now, or defers them until the effects unit
// exists. A deferred request replaces any earlier one.
func (e *Engine) UpdateEQ(values []float64) error {
	return e.updateEffect(&PendingEffect{Kind: EffectEQ, EQ: append([]float64(nil), values...)})
}

// UpdateIR applies an impulse response source now, or defers it until the
// effects unit exists. A deferred request replaces any earlier one.
func (e *Engine) UpdateIR(source string) error {
	return e.updateEffect(&PendingEffect{Kind: EffectIR, IR: source})
}

func (e *Engine) updateEffect(req *PendingEffect) error {
	e.mu.Lock()
	e.fxSeq++
	req.seq = e.fxSeq
	fx := e.fx
	if fx == nil {
		e.pending = req
		e.unlock()
		e.log.Debug().Stringer("kind", req.Kind).Msg("effect deferred")
		return nil
	}
	e.pending = nil
	e.unlock()
	return e.applyEffect(fx, req)
}

// applyEffect runs req outside the engine lock. Applies of one kind are
// serialised, and a request superseded by a newer one of its kind is skipped.
func (e *Engine) applyEffect(fx audio.Effects, req *PendingEffect) error {
	mu := &e.fxMu[req.Kind]
	mu.Lock()
	defer mu.Unlock()
	if req.seq <= e.fxApplied[req.Kind] {
		e.log.Trace().Stringer("kind", req.Kind).Uint64("seq", req.seq).Msg("superseded effect skipped")
		return nil
	}
	e.fxApplied[req.Kind] = req.seq
	if err := req.apply(fx); err != nil {
		return fmt.Errorf("radio: apply %s: %w", req.Kind, err)
	}
	return nil
}

// flushEffect applies a deferred request taken by a tick. Impulse responses
// may be fetched over the network, so they load off the frame path.
func (e *Engine) flushEffect(fx audio.Effects, req *PendingEffect) {
	run := func() {
		if err := e.applyEffect(fx, req); err != nil {
			e.log.Warn().Err(err).Stringer("kind", req.Kind).Msg("deferred effect failed")
			return
		}
		e.log.Debug().Stringer("kind", req.Kind).Msg("deferred effect applied")
	}
	if req.Kind == EffectIR {
		go run()
		return
	}
	run()
}

// SetStateFrequency sets the position cadence in frames (1-1024).
func (e *Engine) SetStateFrequency(n int) error {
	if n < 1 || n > sampler.MaxStateFrequency {
		return fmt.Errorf("%w: state %d", ErrFrequencyRange, n)
	}
	e.loop.SetStateFrequency(n)
	return nil
}

// SetSpectrumFrequency sets the spectrum cadence in frames (1-256).
func (e *Engine) SetSpectrumFrequency(n int) error {
	if n < 1 || n > sampler.MaxSpectrumFrequency {
		return fmt.Errorf("%w: spectrum %d", ErrFrequencyRange, n)
	}
	e.loop.SetSpectrumFrequency(n)
	return nil
}

// Playing reports the playing flag.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Channel returns the current channel.
func (e *Engine) Channel() *Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	s := State{
		Channel:        e.channel,
		Playing:        e.playing,
		ChannelChanged: e.channelChanged,
		RetryCount:     e.retryCount,
		Pending:        e.pending.clone(),
		EffectsReady:   e.fx != nil,
	}
	e.mu.Unlock()
	s.LoopRunning = e.loop.Running()
	s.FrameCount = e.loop.FrameCount()
	s.StateFrequency = e.loop.StateFrequency()
	s.SpectrumFrequency = e.loop.SpectrumFrequency()
	return s
}

// Close stops playback and the telemetry loop.
func (e *Engine) Close() {
	e.SetChannel(nil)
	e.loop.Stop()
}

// current reports whether id belongs to the load the engine is waiting on.
// Events of abandoned loads fail this check.
func (e *Engine) current(id stream.LoadID) bool {
	return id != 0 && id == e.load && e.channel != nil
}

func (e *Engine) manifestReady(id stream.LoadID) {
	e.mu.Lock()
	defer e.unlock()
	if !e.current(id) {
		e.log.Trace().Uint64("load", uint64(id)).Msg("stale manifest event dropped")
		return
	}
	if err := e.sink.Play(); err != nil {
		e.log.Warn().Err(err).Msg("sink play failed")
	}
	e.setPlaying(true)
	e.channelChanged = false
	e.retryCount = 0
	e.started = e.now()
	e.loop.Reset()
	e.loop.Start()
	e.log.Info().Str("channel", e.channel.DisplayName()).Msg("playing")
}

func (e *Engine) streamError(id stream.LoadID, err error) {
	e.mu.Lock()
	defer e.unlock()
	if !e.current(id) {
		e.log.Trace().Err(err).Uint64("load", uint64(id)).Msg("stale error event dropped")
		return
	}
	e.log.Warn().Err(err).Str("channel", e.channel.DisplayName()).Msg("stream error")
	e.retryPlay(e.maxRetry)
}

// retryPlay publishes the advisory retry hint and advances the budget.
func (e *Engine) retryPlay(maxRetry int) {
	isRetry := e.retryCount < maxRetry
	te := TrackError{IsRetry: isRetry, Channel: e.channel, CurrentTime: 0, Radio: true}
	e.notify(func(o Observer) { o.Error(te) })
	if isRetry {
		e.retryCount++
	} else {
		e.retryCount = 0
	}
}

// step runs one telemetry frame.
func (e *Engine) step(t sampler.Tick) bool {
	e.mu.Lock()
	if !e.playing || e.channel == nil {
		e.unlock()
		return false
	}
	if t.Position {
		secs := 0.0
		if !e.started.IsZero() {
			secs = e.now().Sub(e.started).Seconds()
		}
		e.notify(func(o Observer) { o.Position(secs) })
	}
	fx := e.fx
	var flush *PendingEffect
	if fx != nil && e.pending != nil {
		flush = e.pending
		e.pending = nil
	}
	e.unlock()

	if flush != nil {
		e.flushEffect(fx, flush)
	}

	if fx == nil || !t.Spectrum {
		return true
	}
	an := fx.Analyser()
	if an == nil {
		return true
	}
	data := make([]byte, an.FrequencyBinCount())
	an.ByteFrequencyData(data)
	e.mu.Lock()
	alive := e.playing && e.channel != nil
	if alive {
		e.notify(func(o Observer) { o.Spectrum(data) })
	}
	e.unlock()
	return alive
}

type sessionEvents struct{ e *Engine }

func (s sessionEvents) ManifestReady(id stream.LoadID)    { s.e.manifestReady(id) }
func (s sessionEvents) Error(id stream.LoadID, err error) { s.e.streamError(id, err) }

type loopTarget struct{ e *Engine }

func (t loopTarget) Step(tk sampler.Tick) bool { return t.e.step(tk) }
