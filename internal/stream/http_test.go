package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// silentMP3 builds MPEG-1 Layer III frames (128kbps, 44.1kHz, stereo) whose
// side info and main data are all zero, which decode to silence.
func silentMP3(frames int) []byte {
	const frameLen = 417
	out := make([]byte, 0, frames*frameLen)
	for i := 0; i < frames; i++ {
		frame := make([]byte, frameLen)
		frame[0], frame[1], frame[2], frame[3] = 0xFF, 0xFB, 0x90, 0x00
		out = append(out, frame...)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSession(t *testing.T, rec *recorder, clk *clock) *HTTPSession {
	t.Helper()
	cfg := HTTPConfig{}
	if clk != nil {
		cfg.Now = clk.Now
	}
	s := NewHTTPSession(cfg)
	if err := s.Bind(rec); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestHTTPSessionBindOnce(t *testing.T) {
	s := newTestSession(t, newRecorder(), nil)
	if err := s.Bind(newRecorder()); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("second Bind = %v, want ErrAlreadyBound", err)
	}
	if !s.Supported() {
		t.Fatal("native session should be supported")
	}
}

func TestHTTPSessionDirectStream(t *testing.T) {
	data := silentMP3(40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	rec := newRecorder()
	s := newTestSession(t, rec, nil)
	sink := &fakeSink{rate: 44100}
	id := s.LoadAndAttach(srv.URL+"/stream", sink)

	ev := rec.next(t)
	if !ev.ready || ev.id != id {
		t.Fatalf("first event %+v, want manifest ready for %d", ev, id)
	}
	if src, attaches, _ := sink.state(); src == nil || attaches != 1 {
		t.Fatalf("sink not attached: src=%v attaches=%d", src, attaches)
	}

	// the finite body ends the stream
	ev = rec.next(t)
	if ev.ready || !errors.Is(ev.err, ErrStreamEnded) || ev.id != id {
		t.Fatalf("second event %+v, want ErrStreamEnded", ev)
	}
}

func TestHTTPSessionResamplesToSinkRate(t *testing.T) {
	data := silentMP3(40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	rec := newRecorder()
	s := newTestSession(t, rec, nil)
	sink := &fakeSink{rate: 48000}
	s.LoadAndAttach(srv.URL, sink)
	if ev := rec.next(t); !ev.ready {
		t.Fatalf("event %+v, want ready", ev)
	}
	src, _, _ := sink.state()
	if _, isRaw := src.(*pcmSource); isRaw {
		t.Fatal("expected a resampler between decoder and sink")
	}
}

func TestHTTPSessionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/aac":
			w.Header().Set("Content-Type", "audio/aacp")
			_, _ = w.Write([]byte("aac"))
		case "/garbage":
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("definitely not audio"))
		}
	}))
	defer srv.Close()

	tests := []struct {
		name  string
		url   string
		check func(error) bool
	}{
		{name: "not found", url: srv.URL + "/missing", check: func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.Code == http.StatusNotFound
		}},
		{name: "aac", url: srv.URL + "/aac", check: func(err error) bool { return errors.Is(err, ErrUnsupportedCodec) }},
		{name: "garbage", url: srv.URL + "/garbage", check: func(err error) bool { return errors.Is(err, ErrUnsupportedCodec) }},
		{name: "bad scheme", url: "ftp://example.com/x", check: func(err error) bool { return err != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			s := newTestSession(t, rec, nil)
			sink := &fakeSink{rate: 44100}
			id := s.LoadAndAttach(tt.url, sink)
			ev := rec.next(t)
			if ev.ready || ev.id != id || !tt.check(ev.err) {
				t.Fatalf("event %+v (err %v) did not match", ev, ev.err)
			}
			if src, _, _ := sink.state(); src != nil {
				t.Fatal("failed load attached a source")
			}
		})
	}
}

func TestHTTPSessionRejectsPlainSink(t *testing.T) {
	rec := newRecorder()
	s := newTestSession(t, rec, nil)
	id := s.LoadAndAttach("http://127.0.0.1:1/stream", playOnly{})
	ev := rec.next(t)
	if ev.id != id || !errors.Is(ev.err, ErrUnsupportedSink) {
		t.Fatalf("event %+v, want ErrUnsupportedSink", ev)
	}
}

// endlessServer streams silence until the client goes away.
func endlessServer(requests *int32) *httptest.Server {
	chunk := silentMP3(50)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		w.Header().Set("Content-Type", "audio/mpeg")
		for {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}))
}

func TestHTTPSessionResumeWithinWindow(t *testing.T) {
	var requests int32
	srv := endlessServer(&requests)
	defer srv.Close()

	clk := &clock{now: time.Unix(1000, 0)}
	rec := newRecorder()
	s := newTestSession(t, rec, clk)
	sink := &fakeSink{rate: 44100}

	first := s.LoadAndAttach(srv.URL, sink)
	if ev := rec.next(t); !ev.ready || ev.id != first {
		t.Fatalf("event %+v, want ready", ev)
	}
	s.Detach()
	if src, _, detaches := sink.state(); src != nil || detaches != 1 {
		t.Fatalf("Detach left src=%v detaches=%d", src, detaches)
	}

	clk.Advance(2 * time.Second)
	second := s.LoadAndAttach(srv.URL, sink)
	if second == first {
		t.Fatal("each load must get a fresh id")
	}
	if ev := rec.next(t); !ev.ready || ev.id != second {
		t.Fatalf("event %+v, want ready for resumed load", ev)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Fatalf("resume made %d requests, want 1", n)
	}

	s.Detach()
	clk.Advance(DefaultResumeWindow + time.Second)
	third := s.LoadAndAttach(srv.URL, sink)
	if ev := rec.next(t); !ev.ready || ev.id != third {
		t.Fatalf("event %+v, want ready after reconnect", ev)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Fatalf("stale resume made %d requests, want 2", n)
	}
}

func TestHTTPSessionStopLoadSilencesEvents(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		http.Error(w, "late", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	defer close(release)

	rec := newRecorder()
	s := newTestSession(t, rec, nil)
	s.LoadAndAttach(srv.URL, &fakeSink{rate: 44100})
	s.StopLoad()
	rec.none(t, 200*time.Millisecond)
}

// hlsServer serves a master playlist, two mp3 variants and an AAC variant.
type hlsServer struct {
	mu    sync.Mutex
	live  int
	hits  map[string]int
	final bool
}

func (h *hlsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.hits[r.URL.Path]++
	h.mu.Unlock()
	switch {
	case r.URL.Path == "/master.m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, "#EXTM3U\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=256000,CODECS=\"mp4a.40.2\"\naac/index.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=320000,CODECS=\"mp3\"\nhi/index.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=64000,CODECS=\"mp3\"\nlo/index.m3u8\n")
	case r.URL.Path == "/lo/index.m3u8", r.URL.Path == "/hi/index.m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, mediaPlaylist(0, 2, true, ".mp3"))
	case r.URL.Path == "/live.m3u8":
		h.mu.Lock()
		n, closed := 5, false
		if h.hits[r.URL.Path] > 1 {
			n, closed = 6, true
		}
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, mediaPlaylist(0, n, closed, ".mp3"))
	case r.URL.Path == "/ts.m3u8":
		fmt.Fprint(w, mediaPlaylist(0, 2, true, ".ts"))
	case strings.HasSuffix(r.URL.Path, ".mp3"):
		w.Header().Set("Content-Type", "audio/mpeg")
		fmt.Fprint(w, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".mp3")+";")
	default:
		http.NotFound(w, r)
	}
}

func mediaPlaylist(seq, n int, closed bool, ext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:%d\n", seq)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:1.000,\nseg%d%s\n", seq+i, ext)
	}
	if closed {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func openAll(t *testing.T, s *HTTPSession, url string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := s.open(ctx, url)
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	return string(data), err
}

func TestHLSMasterPicksLowestMP3Variant(t *testing.T) {
	h := &hlsServer{hits: map[string]int{}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := NewHTTPSession(HTTPConfig{})
	got, err := openAll(t, s, srv.URL+"/master.m3u8")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "lo/seg0;lo/seg1;" {
		t.Fatalf("segments = %q", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hits["/aac/index.m3u8"] != 0 {
		t.Fatal("aac variant must never be fetched")
	}
}

func TestHLSLiveStartsNearEdge(t *testing.T) {
	h := &hlsServer{hits: map[string]int{}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := NewHTTPSession(HTTPConfig{})
	got, err := openAll(t, s, srv.URL+"/live.m3u8")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "seg2;seg3;seg4;seg5;" {
		t.Fatalf("segments = %q", got)
	}
}

func TestHLSRejectsTransportStreamSegments(t *testing.T) {
	h := &hlsServer{hits: map[string]int{}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := NewHTTPSession(HTTPConfig{})
	_, err := openAll(t, s, srv.URL+"/ts.m3u8")
	if !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("err = %v, want ErrUnsupportedCodec", err)
	}
}
