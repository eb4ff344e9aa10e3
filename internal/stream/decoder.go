package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/hajimehoshi/go-mp3"
)

const (
	// decodeChunkFrames is the number of stereo frames per buffered chunk.
	decodeChunkFrames = 1024
	// DefaultBufferChunks holds roughly six seconds of 44.1kHz audio.
	DefaultBufferChunks = 256
)

// pcmSource is a beep streamer fed by a decoder goroutine through a bounded
// channel. The audio thread never blocks on the network: when the buffer
// runs dry it plays silence.
type pcmSource struct {
	rate beep.SampleRate
	dec  *mp3.Decoder
	ch   chan [][2]float64

	// only touched by the audio thread
	cur [][2]float64

	mu       sync.Mutex
	err      error
	finished bool
	underrun int
}

// newPCMSource parses the first MP3 frame from r and returns once the stream
// is known to be decodable.
func newPCMSource(r io.Reader, chunks int) (*pcmSource, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCodec, err)
	}
	if chunks <= 0 {
		chunks = DefaultBufferChunks
	}
	return &pcmSource{
		rate: beep.SampleRate(dec.SampleRate()),
		dec:  dec,
		ch:   make(chan [][2]float64, chunks),
	}, nil
}

// start decodes in the background until ctx is cancelled or the reader
// fails; onDone then receives the terminal error.
func (s *pcmSource) start(ctx context.Context, onDone func(error)) {
	go s.decode(ctx, s.dec, onDone)
}

func (s *pcmSource) decode(ctx context.Context, dec *mp3.Decoder, onDone func(error)) {
	defer close(s.ch)
	// go-mp3 always emits 16-bit little-endian stereo
	raw := make([]byte, decodeChunkFrames*4)
	for {
		n, err := io.ReadFull(dec, raw)
		if n >= 4 {
			frames := make([][2]float64, n/4)
			for i := range frames {
				l := int16(binary.LittleEndian.Uint16(raw[4*i:]))
				r := int16(binary.LittleEndian.Uint16(raw[4*i+2:]))
				frames[i] = [2]float64{float64(l) / 32768, float64(r) / 32768}
			}
			select {
			case s.ch <- frames:
			case <-ctx.Done():
				s.finish(nil)
				return
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				s.finish(nil)
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrStreamEnded
			}
			s.finish(err)
			if onDone != nil {
				onDone(err)
			}
			return
		}
	}
}

func (s *pcmSource) finish(err error) {
	s.mu.Lock()
	s.finished = true
	s.err = err
	s.mu.Unlock()
}

// Buffered reports the number of queued chunks.
func (s *pcmSource) Buffered() int { return len(s.ch) }

func (s *pcmSource) Stream(samples [][2]float64) (int, bool) {
	filled := 0
	for filled < len(samples) {
		if len(s.cur) == 0 {
			select {
			case chunk, ok := <-s.ch:
				if !ok {
					if filled == 0 {
						return 0, false
					}
					return filled, true
				}
				s.cur = chunk
			default:
				s.mu.Lock()
				s.underrun++
				s.mu.Unlock()
				for i := filled; i < len(samples); i++ {
					samples[i] = [2]float64{}
				}
				return len(samples), true
			}
		}
		n := copy(samples[filled:], s.cur)
		s.cur = s.cur[n:]
		filled += n
	}
	return filled, true
}

func (s *pcmSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
