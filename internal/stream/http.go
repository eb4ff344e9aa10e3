package stream

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edward-ap/liveradio/internal/audio"
)

const (
	// DefaultResumeWindow bounds how long a detached load may be resumed
	// before a fresh connection is made.
	DefaultResumeWindow = 5 * time.Second
	defaultUserAgent    = "LiveRadio/1.0"
	resampleQuality     = 4
)

// HTTPConfig configures the native session.
type HTTPConfig struct {
	Client       *http.Client
	UserAgent    string
	ResumeWindow time.Duration
	BufferChunks int
	Logger       *zerolog.Logger
	// OnMetadata receives ICY station and title updates of direct streams.
	OnMetadata func(Metadata)
	// Now is used for resume bookkeeping; tests may override it.
	Now func() time.Time
}

// HTTPSession streams Icecast/HTTP MP3 and HLS channels into an audio
// output. One HTTPSession serves every channel switch.
type HTTPSession struct {
	cfg HTTPConfig
	log zerolog.Logger
	d   Dispatcher

	mu     sync.Mutex
	nextID LoadID
	cur    *load
	closed bool
}

type load struct {
	id     LoadID
	url    string
	cancel context.CancelFunc

	attacher   audio.Attacher
	out        beep.Streamer
	ready      bool
	attached   bool
	failed     bool
	detachedAt time.Time
}

// NewHTTPSession returns a session using cfg; zero fields take defaults.
func NewHTTPSession(cfg HTTPConfig) *HTTPSession {
	if cfg.Client == nil {
		cfg.Client = newStreamClient()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.ResumeWindow <= 0 {
		cfg.ResumeWindow = DefaultResumeWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	lg := log.Logger
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}
	return &HTTPSession{
		cfg: cfg,
		log: lg.With().Str("component", "stream").Logger(),
	}
}

// newStreamClient has no overall timeout: streams are long-lived.
func newStreamClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}
}

func (s *HTTPSession) Bind(h Handlers) error { return s.d.Bind(h) }

// Supported is always true: decoding is pure Go.
func (s *HTTPSession) Supported() bool { return true }

func (s *HTTPSession) LoadAndAttach(rawURL string, sink audio.Sink) LoadID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.closed {
		s.d.Error(id, fmt.Errorf("session closed"))
		return id
	}

	attacher, ok := sink.(audio.Attacher)
	if !ok {
		s.d.Error(id, ErrUnsupportedSink)
		return id
	}

	if l := s.cur; l != nil && s.resumable(l, rawURL, attacher) {
		l.id = id
		l.attached = true
		attacher.Attach(l.out)
		s.log.Debug().Uint64("load", uint64(id)).Str("url", rawURL).Msg("resumed buffered stream")
		s.d.ManifestReady(id)
		return id
	}

	s.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	l := &load{id: id, url: rawURL, cancel: cancel, attacher: attacher, attached: true}
	s.cur = l
	s.log.Debug().Uint64("load", uint64(id)).Str("url", rawURL).Msg("loading stream")
	go s.run(ctx, l)
	return id
}

func (s *HTTPSession) resumable(l *load, rawURL string, attacher audio.Attacher) bool {
	return l.url == rawURL &&
		l.ready && !l.attached && !l.failed &&
		l.attacher == attacher &&
		s.cfg.Now().Sub(l.detachedAt) <= s.cfg.ResumeWindow
}

// Detach removes decoded output from the sink. Decoding keeps filling the
// buffer until it is full.
func (s *HTTPSession) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.cur
	if l == nil || !l.attached {
		return
	}
	l.attached = false
	l.detachedAt = s.cfg.Now()
	if l.out != nil {
		l.attacher.Detach(l.out)
	}
}

func (s *HTTPSession) StopLoad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *HTTPSession) stopLocked() {
	l := s.cur
	if l == nil {
		return
	}
	s.cur = nil
	l.cancel()
	if l.out != nil && l.attached {
		l.attacher.Detach(l.out)
	}
	l.attached = false
	s.log.Debug().Uint64("load", uint64(l.id)).Msg("load stopped")
}

// Close abandons the current load and stops event delivery.
func (s *HTTPSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()
	s.d.Close()
}

func (s *HTTPSession) run(ctx context.Context, l *load) {
	body, err := s.open(ctx, l.url)
	if err != nil {
		s.fail(ctx, l, err)
		return
	}

	src, err := newPCMSource(body, s.cfg.BufferChunks)
	if err != nil {
		body.Close()
		s.fail(ctx, l, err)
		return
	}
	go func() {
		<-ctx.Done()
		body.Close()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.cur != l {
		return
	}
	var out beep.Streamer = src
	if dst := l.attacher.SampleRate(); dst > 0 && dst != src.rate {
		out = beep.Resample(resampleQuality, src.rate, dst, src)
	}
	l.out = out
	l.ready = true
	s.log.Debug().Uint64("load", uint64(l.id)).Int("rate", int(src.rate)).Msg("stream decodable")
	// detached while buffering: a later resume reports readiness
	if l.attached {
		l.attacher.Attach(out)
		s.d.ManifestReady(l.id)
	}
	src.start(ctx, func(err error) {
		body.Close()
		s.fail(ctx, l, err)
	})
}

func (s *HTTPSession) fail(ctx context.Context, l *load, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.cur != l {
		return
	}
	l.failed = true
	l.cancel()
	s.log.Warn().Err(err).Uint64("load", uint64(l.id)).Str("url", l.url).Msg("stream failed")
	s.d.Error(l.id, err)
}

// open resolves rawURL to a reader of MP3 bytes, following HLS playlists.
func (s *HTTPSession) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid stream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid stream url scheme %q", u.Scheme)
	}

	resp, err := s.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	kind := classify(u.Path, resp.Header.Get("Content-Type"))
	switch kind {
	case kindPlaylist:
		h := newHLSReader(s, resp.Request.URL)
		if err := h.start(ctx, resp.Body); err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body.Close()
		return h, nil
	case kindUnsupported:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, resp.Header.Get("Content-Type"))
	}
	return wrapICY(resp, s.cfg.OnMetadata), nil
}

func (s *HTTPSession) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Icy-MetaData", "1")
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return resp, nil
}

type streamKind int

const (
	kindAudio streamKind = iota
	kindPlaylist
	kindUnsupported
)

// classify inspects the content type first and falls back to the extension.
func classify(urlPath, contentType string) streamKind {
	mt, _, _ := mime.ParseMediaType(contentType)
	mt = strings.ToLower(mt)
	switch {
	case strings.Contains(mt, "mpegurl"):
		return kindPlaylist
	case mt == "audio/aac", mt == "audio/aacp", mt == "audio/mp4", mt == "video/mp2t", mt == "video/mp4":
		return kindUnsupported
	}
	switch strings.ToLower(path.Ext(urlPath)) {
	case ".m3u8":
		return kindPlaylist
	case ".ts", ".aac", ".m4s", ".mp4", ".m4a":
		return kindUnsupported
	}
	return kindAudio
}
