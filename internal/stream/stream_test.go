package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/grafov/m3u8"
)

// recorder collects session events on a channel.
type recorder struct {
	events chan event
}

type event struct {
	ready bool
	id    LoadID
	err   error
}

func newRecorder() *recorder { return &recorder{events: make(chan event, 32)} }

func (r *recorder) ManifestReady(id LoadID)    { r.events <- event{ready: true, id: id} }
func (r *recorder) Error(id LoadID, err error) { r.events <- event{id: id, err: err} }

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session event")
	}
	return event{}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

// fakeSink accepts PCM like audio.Output and records attachment.
type fakeSink struct {
	mu       sync.Mutex
	rate     beep.SampleRate
	src      beep.Streamer
	attaches int
	detaches int
}

func (f *fakeSink) Play() error             { return nil }
func (f *fakeSink) SetVolume(level float64) {}

func (f *fakeSink) Attach(src beep.Streamer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src = src
	f.attaches++
}

func (f *fakeSink) Detach(src beep.Streamer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.src == src {
		f.src = nil
	}
	f.detaches++
}

func (f *fakeSink) SampleRate() beep.SampleRate { return f.rate }

func (f *fakeSink) state() (beep.Streamer, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.src, f.attaches, f.detaches
}

// playOnly is a sink without PCM input.
type playOnly struct{}

func (playOnly) Play() error             { return nil }
func (playOnly) SetVolume(level float64) {}

func TestDispatcherBindOnce(t *testing.T) {
	var d Dispatcher
	rec := newRecorder()
	d.ManifestReady(1) // dropped, nothing bound
	if err := d.Bind(rec); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := d.Bind(newRecorder()); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("second Bind = %v, want ErrAlreadyBound", err)
	}
	d.ManifestReady(2)
	d.Error(3, ErrStreamEnded)
	d.ManifestReady(4)
	for _, want := range []LoadID{2, 3, 4} {
		if ev := rec.next(t); ev.id != want {
			t.Fatalf("event id %d, want %d", ev.id, want)
		}
	}
	d.Close()
	d.ManifestReady(5)
	rec.none(t, 50*time.Millisecond)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path, ct string
		want     streamKind
	}{
		{"/live/stream.m3u8", "", kindPlaylist},
		{"/live", "application/vnd.apple.mpegurl", kindPlaylist},
		{"/live", "audio/x-mpegURL; charset=utf-8", kindPlaylist},
		{"/stream", "audio/mpeg", kindAudio},
		{"/stream.mp3", "", kindAudio},
		{"/stream", "audio/aacp", kindUnsupported},
		{"/seg1.ts", "", kindUnsupported},
		{"/seg1.m4s", "application/octet-stream", kindUnsupported},
	}
	for _, tt := range tests {
		if got := classify(tt.path, tt.ct); got != tt.want {
			t.Errorf("classify(%q, %q) = %v, want %v", tt.path, tt.ct, got, tt.want)
		}
	}
}

func variant(uri string, bw uint32, codecs string) *m3u8.Variant {
	return &m3u8.Variant{URI: uri, VariantParams: m3u8.VariantParams{Bandwidth: bw, Codecs: codecs}}
}

func TestPickVariant(t *testing.T) {
	vs := []*m3u8.Variant{
		variant("hi.m3u8", 320000, "mp3"),
		variant("lo.m3u8", 64000, "mp3"),
		variant("mid.m3u8", 128000, "mp3"),
	}
	tests := []struct {
		name       string
		throughput float64
		want       string
	}{
		{name: "unknown throughput starts lowest", throughput: 0, want: "lo.m3u8"},
		{name: "too slow keeps lowest", throughput: 50000, want: "lo.m3u8"},
		{name: "fits mid", throughput: 200000, want: "mid.m3u8"},
		{name: "headroom rule", throughput: 390000, want: "mid.m3u8"},
		{name: "fits high", throughput: 400000, want: "hi.m3u8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickVariant(vs, tt.throughput); got.URI != tt.want {
				t.Fatalf("pickVariant(%v) = %s, want %s", tt.throughput, got.URI, tt.want)
			}
		})
	}
	if pickVariant(nil, 1e9) != nil {
		t.Fatal("expected nil for no variants")
	}
}

func TestPlayableVariants(t *testing.T) {
	iframe := variant("i.m3u8", 1000, "")
	iframe.Iframe = true
	vs := []*m3u8.Variant{
		variant("aac.m3u8", 128000, "mp4a.40.2"),
		variant("mp3.m3u8", 128000, "mp3"),
		variant("plain.m3u8", 64000, ""),
		variant("mp4mp3.m3u8", 96000, "avc1.42e00a, mp4a.40.34"),
		iframe,
		nil,
	}
	got := playableVariants(vs)
	if len(got) != 3 {
		t.Fatalf("playableVariants kept %d, want 3", len(got))
	}
	for _, v := range got {
		if v.URI == "aac.m3u8" || v.URI == "i.m3u8" {
			t.Fatalf("unexpected variant %s", v.URI)
		}
	}
}

func TestReloadInterval(t *testing.T) {
	tests := []struct {
		target float64
		want   time.Duration
	}{
		{0, minReload},
		{1, minReload},
		{6, 3 * time.Second},
		{60, maxReload},
	}
	for _, tt := range tests {
		if got := reloadInterval(tt.target); got != tt.want {
			t.Errorf("reloadInterval(%v) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestPCMSourcePlaysSilenceOnUnderrun(t *testing.T) {
	s := &pcmSource{rate: 44100, ch: make(chan [][2]float64, 2)}
	s.ch <- [][2]float64{{0.5, 0.5}, {0.25, 0.25}}
	buf := make([][2]float64, 4)
	n, ok := s.Stream(buf)
	if n != 4 || !ok {
		t.Fatalf("Stream = %d,%v", n, ok)
	}
	if buf[0][0] != 0.5 || buf[1][0] != 0.25 || buf[2][0] != 0 || buf[3][0] != 0 {
		t.Fatalf("unexpected samples %v", buf)
	}
	close(s.ch)
	if n, ok := s.Stream(buf); n != 0 || ok {
		t.Fatalf("drained source Stream = %d,%v", n, ok)
	}
}
