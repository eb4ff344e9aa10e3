package stream

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

const (
	// liveEdgeSegments is how far behind the live edge playback starts.
	liveEdgeSegments = 3
	// abrSafety is the share of measured throughput a variant may use.
	abrSafety = 0.8
	// throughputWeight is the weight of the newest throughput sample.
	throughputWeight = 0.3

	minReload       = time.Second
	maxReload       = 10 * time.Second
	maxSegmentBytes = 16 << 20
)

// hlsReader turns a live HLS playlist into a continuous MP3 byte stream. A
// pump goroutine polls the media playlist and writes each new segment into
// a pipe that the decoder reads from.
type hlsReader struct {
	s *HTTPSession

	base     *url.URL
	media    *url.URL
	first    *m3u8.MediaPlaylist
	variants []*m3u8.Variant
	current  *m3u8.Variant

	// bits per second, smoothed
	throughput float64

	pr *io.PipeReader
	pw *io.PipeWriter
}

func newHLSReader(s *HTTPSession, base *url.URL) *hlsReader {
	pr, pw := io.Pipe()
	return &hlsReader{s: s, base: base, pr: pr, pw: pw}
}

// start parses the initial playlist and launches the pump.
func (h *hlsReader) start(ctx context.Context, body io.Reader) error {
	pl, lt, err := m3u8.DecodeFrom(body, false)
	if err != nil {
		return fmt.Errorf("parse playlist: %w", err)
	}
	switch lt {
	case m3u8.MASTER:
		master := pl.(*m3u8.MasterPlaylist)
		h.variants = playableVariants(master.Variants)
		if len(h.variants) == 0 {
			return fmt.Errorf("%w: no mp3 variant in playlist", ErrUnsupportedCodec)
		}
		h.current = pickVariant(h.variants, 0)
		if h.media, err = resolve(h.base, h.current.URI); err != nil {
			return err
		}
		h.s.log.Debug().Uint32("bandwidth", h.current.Bandwidth).Int("variants", len(h.variants)).Msg("hls variant selected")
	case m3u8.MEDIA:
		h.media = h.base
		h.first = pl.(*m3u8.MediaPlaylist)
	default:
		return fmt.Errorf("parse playlist: unknown playlist type")
	}
	go h.pump(ctx)
	return nil
}

func (h *hlsReader) Read(p []byte) (int, error) { return h.pr.Read(p) }

func (h *hlsReader) Close() error { return h.pr.Close() }

func (h *hlsReader) pump(ctx context.Context) {
	err := h.loop(ctx)
	if err != nil {
		h.s.log.Debug().Err(err).Msg("hls pump stopped")
	}
	_ = h.pw.CloseWithError(err)
}

func (h *hlsReader) loop(ctx context.Context) error {
	var next uint64
	started := false
	for {
		pl := h.first
		h.first = nil
		if pl == nil {
			var err error
			if pl, err = h.fetchMedia(ctx); err != nil {
				return err
			}
		}
		segs := segments(pl)
		if !started {
			start := 0
			if !pl.Closed && len(segs) > liveEdgeSegments {
				start = len(segs) - liveEdgeSegments
			}
			next = pl.SeqNo + uint64(start)
			started = true
		}
		for i, seg := range segs {
			seq := pl.SeqNo + uint64(i)
			if seq < next {
				continue
			}
			if err := h.copySegment(ctx, seg); err != nil {
				return err
			}
			next = seq + 1
		}
		if pl.Closed {
			return nil
		}
		if err := h.adapt(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reloadInterval(pl.TargetDuration)):
		}
	}
}

func (h *hlsReader) fetchMedia(ctx context.Context) (*m3u8.MediaPlaylist, error) {
	resp, err := h.s.get(ctx, h.media.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	pl, lt, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return nil, fmt.Errorf("parse media playlist: %w", err)
	}
	if lt != m3u8.MEDIA {
		return nil, fmt.Errorf("parse media playlist: expected media playlist")
	}
	return pl.(*m3u8.MediaPlaylist), nil
}

func (h *hlsReader) copySegment(ctx context.Context, seg *m3u8.MediaSegment) error {
	u, err := resolve(h.media, seg.URI)
	if err != nil {
		return err
	}
	if classify(u.Path, "") == kindUnsupported {
		return fmt.Errorf("%w: segment %s", ErrUnsupportedCodec, path.Base(u.Path))
	}

	began := time.Now()
	resp, err := h.s.get(ctx, u.String())
	if err != nil {
		return err
	}
	if classify(u.Path, resp.Header.Get("Content-Type")) == kindUnsupported {
		resp.Body.Close()
		return fmt.Errorf("%w: segment %s", ErrUnsupportedCodec, resp.Header.Get("Content-Type"))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSegmentBytes))
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read segment: %w", err)
	}
	h.measure(len(data), time.Since(began))

	if _, err := h.pw.Write(data); err != nil {
		return err
	}
	return nil
}

func (h *hlsReader) measure(n int, took time.Duration) {
	if n == 0 {
		return
	}
	if took < time.Millisecond {
		took = time.Millisecond
	}
	sample := float64(n*8) / took.Seconds()
	if h.throughput == 0 {
		h.throughput = sample
		return
	}
	h.throughput = (1-throughputWeight)*h.throughput + throughputWeight*sample
}

// adapt switches variant when measured throughput allows a different one.
func (h *hlsReader) adapt() error {
	if len(h.variants) < 2 {
		return nil
	}
	v := pickVariant(h.variants, h.throughput)
	if v == h.current {
		return nil
	}
	u, err := resolve(h.base, v.URI)
	if err != nil {
		return err
	}
	h.s.log.Debug().
		Uint32("from", h.current.Bandwidth).
		Uint32("to", v.Bandwidth).
		Float64("throughput", h.throughput).
		Msg("hls variant switch")
	h.current = v
	h.media = u
	return nil
}

// pickVariant returns the highest-bandwidth variant fitting within the safe
// share of throughput, or the lowest one when none fits.
func pickVariant(variants []*m3u8.Variant, throughput float64) *m3u8.Variant {
	if len(variants) == 0 {
		return nil
	}
	sorted := make([]*m3u8.Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Bandwidth < sorted[j].Bandwidth })

	best := sorted[0]
	budget := throughput * abrSafety
	for _, v := range sorted[1:] {
		if float64(v.Bandwidth) <= budget {
			best = v
		}
	}
	return best
}

// playableVariants keeps variants the MP3 decoder can handle. Variants that
// do not declare codecs are assumed playable.
func playableVariants(variants []*m3u8.Variant) []*m3u8.Variant {
	var out []*m3u8.Variant
	for _, v := range variants {
		if v == nil || v.Iframe {
			continue
		}
		if v.Codecs == "" {
			out = append(out, v)
			continue
		}
		for _, c := range strings.Split(strings.ToLower(v.Codecs), ",") {
			c = strings.TrimSpace(c)
			if c == "mp3" || c == "mp4a.40.34" || c == "mp4a.6b" {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func segments(pl *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	var out []*m3u8.MediaSegment
	for _, seg := range pl.Segments {
		if seg == nil {
			break
		}
		out = append(out, seg)
	}
	return out
}

func reloadInterval(target float64) time.Duration {
	d := time.Duration(target * float64(time.Second) / 2)
	if d < minReload {
		return minReload
	}
	if d > maxReload {
		return maxReload
	}
	return d
}

func resolve(base *url.URL, ref string) (*url.URL, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("invalid playlist uri %q: %w", ref, err)
	}
	return base.ResolveReference(r), nil
}
