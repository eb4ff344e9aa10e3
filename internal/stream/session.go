// Package stream provides the streaming sessions a radio engine loads
// channels into: the contract shared by all backends and the native
// HTTP/HLS implementation that decodes MP3 into an audio.Output.
package stream

import (
	"errors"
	"fmt"

	"github.com/edward-ap/liveradio/internal/audio"
)

// LoadID identifies one LoadAndAttach call. Events carry the id of the load
// that produced them so callers can drop events from abandoned loads.
type LoadID uint64

// Handlers receive session events. They are always invoked asynchronously,
// never from inside a session method call.
type Handlers interface {
	// ManifestReady fires once the stream is decodable and attached.
	ManifestReady(id LoadID)
	// Error reports any fault of the load; severity is not distinguished.
	Error(id LoadID, err error)
}

// Session wraps one streaming client bound to the shared sink.
type Session interface {
	// Bind installs the event handlers. It may be called once.
	Bind(h Handlers) error
	// Supported reports whether this backend can play anything at all.
	Supported() bool
	// LoadAndAttach starts buffering url and attaches decoded output to
	// sink. Failures are reported through Handlers.Error.
	LoadAndAttach(url string, sink audio.Sink) LoadID
	// Detach stops output without discarding buffered state.
	Detach()
	// StopLoad abandons any in-flight buffering.
	StopLoad()
}

var (
	// ErrAlreadyBound is returned by a second Bind call.
	ErrAlreadyBound = errors.New("session handlers already bound")
	// ErrUnsupportedCodec is reported for containers or codecs the native
	// decoder cannot play (MPEG-TS, AAC, fragmented MP4).
	ErrUnsupportedCodec = errors.New("unsupported stream codec")
	// ErrUnsupportedSink is reported when the sink cannot accept PCM.
	ErrUnsupportedSink = errors.New("sink does not accept decoded audio")
	// ErrStreamEnded is reported when a live stream closes.
	ErrStreamEnded = errors.New("stream ended")
)

// StatusError is a non-200 response from the stream origin.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}
