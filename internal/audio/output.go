package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSampleRate is the rate the device is opened with; sessions
	// resample to it.
	DefaultSampleRate = beep.SampleRate(44100)
	// DefaultFramesPerBuffer keeps device latency around 23ms.
	DefaultFramesPerBuffer = 1024

	outputChannels = 2
)

// ErrNotStarted is returned by Play when the PortAudio runtime could not be
// initialised.
var ErrNotStarted = errors.New("audio output not initialised")

// OutputConfig configures the PortAudio device.
type OutputConfig struct {
	SampleRate      beep.SampleRate
	FramesPerBuffer int
	Logger          *zerolog.Logger
}

// Output is the native hardware sink: an attached source flows through an
// optional routed processing chain and a gain stage into the default
// PortAudio output device.
//
//	source -> input -> [route] -> volume -> ctrl -> device
type Output struct {
	cfg OutputConfig
	log zerolog.Logger

	// mu guards the graph; the device loop holds it while pulling samples.
	mu     sync.Mutex
	source beep.Streamer
	input  beep.Streamer
	volume *effects.Volume
	ctrl   *beep.Ctrl

	samples [][2]float64
	buf     []float32

	initialised bool
	stream      *portaudio.Stream
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewOutput builds the output graph. Init must succeed before Play opens
// the device.
func NewOutput(cfg OutputConfig) *Output {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	lg := log.Logger
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}
	o := &Output{
		cfg:     cfg,
		log:     lg.With().Str("component", "output").Logger(),
		samples: make([][2]float64, cfg.FramesPerBuffer),
		buf:     make([]float32, cfg.FramesPerBuffer*outputChannels),
	}
	o.input = &inputStreamer{o: o}
	o.volume = &effects.Volume{Streamer: o.input, Base: 2}
	o.ctrl = &beep.Ctrl{Streamer: o.volume, Paused: true}
	return o
}

// Init initialises the PortAudio runtime.
func (o *Output) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init failed: %w", err)
	}
	o.mu.Lock()
	o.initialised = true
	o.mu.Unlock()
	return nil
}

// SampleRate reports the device rate.
func (o *Output) SampleRate() beep.SampleRate { return o.cfg.SampleRate }

// Input is the head of the graph. Processing stages wrap it and are then
// installed with Route.
func (o *Output) Input() beep.Streamer { return o.input }

// Route installs a processing chain between the input and the gain stage.
// A nil chain connects the input directly.
func (o *Output) Route(chain beep.Streamer) {
	if chain == nil {
		chain = o.input
	}
	o.mu.Lock()
	o.volume.Streamer = chain
	o.mu.Unlock()
}

// Attach makes src the current source, replacing any previous one.
func (o *Output) Attach(src beep.Streamer) {
	o.mu.Lock()
	o.source = src
	o.mu.Unlock()
}

// Detach removes src if it is still attached. Output keeps running silent.
func (o *Output) Detach(src beep.Streamer) {
	o.mu.Lock()
	if o.source == src {
		o.source = nil
	}
	o.mu.Unlock()
}

// Attached reports whether a source is currently attached.
func (o *Output) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.source != nil
}

// SetVolume sets the linear gain. Zero silences the output.
func (o *Output) SetVolume(level float64) {
	level = clampUnit(level)
	o.mu.Lock()
	o.volume.Silent = level == 0
	if level > 0 {
		o.volume.Volume = math.Log2(level)
	}
	o.mu.Unlock()
}

// Play opens the device on first use and un-pauses the graph.
func (o *Output) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialised {
		return ErrNotStarted
	}
	if o.stream == nil {
		stream, err := portaudio.OpenDefaultStream(0, outputChannels, float64(o.cfg.SampleRate), o.cfg.FramesPerBuffer, o.buf)
		if err != nil {
			return fmt.Errorf("open output stream: %w", err)
		}
		if err := stream.Start(); err != nil {
			_ = stream.Close()
			return fmt.Errorf("start output stream: %w", err)
		}
		o.stream = stream
		ctx, cancel := context.WithCancel(context.Background())
		o.cancel = cancel
		o.wg.Add(1)
		go o.run(ctx, stream)
		o.log.Debug().Int("rate", int(o.cfg.SampleRate)).Int("frames", o.cfg.FramesPerBuffer).Msg("output device opened")
	}
	o.ctrl.Paused = false
	return nil
}

// Close stops the device loop and terminates PortAudio.
func (o *Output) Close() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		o.wg.Wait()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream != nil {
		_ = o.stream.Stop()
		_ = o.stream.Close()
		o.stream = nil
	}
	if o.initialised {
		_ = portaudio.Terminate()
		o.initialised = false
	}
}

func (o *Output) run(ctx context.Context, stream *portaudio.Stream) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		o.render(o.buf)
		if err := stream.Write(); err != nil {
			// underflows are reported as errors but are not fatal
			o.log.Trace().Err(err).Msg("output write")
		}
	}
}

// render pulls one buffer from the graph into dst as interleaved stereo.
func (o *Output) render(dst []float32) {
	frames := len(dst) / outputChannels
	if frames > len(o.samples) {
		frames = len(o.samples)
	}
	samples := o.samples[:frames]

	o.mu.Lock()
	n, ok := o.ctrl.Stream(samples)
	o.mu.Unlock()
	if !ok {
		n = 0
	}
	for i := 0; i < frames; i++ {
		var l, r float64
		if i < n {
			l, r = samples[i][0], samples[i][1]
		}
		dst[2*i] = float32(clampSample(l))
		dst[2*i+1] = float32(clampSample(r))
	}
}

// inputStreamer reads from the attached source. It is only called from
// render, which already holds o.mu.
type inputStreamer struct {
	o *Output
}

func (in *inputStreamer) Stream(samples [][2]float64) (int, bool) {
	src := in.o.source
	n := 0
	if src != nil {
		var ok bool
		n, ok = src.Stream(samples)
		if !ok {
			n = 0
		}
	}
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (in *inputStreamer) Err() error { return nil }

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSample(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
