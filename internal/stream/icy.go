package stream

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Metadata is the now-playing information a direct stream advertises.
type Metadata struct {
	Station string
	Title   string
}

// TagMetadata builds Metadata from media tags. With a now-playing tag the
// title tag names the station; otherwise artist and title describe the track.
// A lone title is a station name, not a track.
func TagMetadata(title, nowPlaying, artist string) Metadata {
	title = strings.TrimSpace(title)
	nowPlaying = strings.TrimSpace(nowPlaying)
	artist = strings.TrimSpace(artist)
	switch {
	case nowPlaying != "":
		return Metadata{Station: title, Title: nowPlaying}
	case artist != "" && title != "":
		return Metadata{Title: artist + " - " + title}
	case artist != "":
		return Metadata{Title: artist}
	default:
		return Metadata{Station: title}
	}
}

// maxICYBlock is the largest metadata block the length byte can describe.
const maxICYBlock = 255 * 16

// icyReader strips ICY metadata blocks interleaved every metaInt bytes of
// audio and reports stream titles as they change.
type icyReader struct {
	r       *bufio.Reader
	body    io.Closer
	metaInt int
	left    int
	station string
	last    string
	notify  func(Metadata)
	meta    []byte
}

// wrapICY returns body unchanged unless the response carries a valid
// icy-metaint header.
func wrapICY(resp *http.Response, notify func(Metadata)) io.ReadCloser {
	metaInt, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("icy-metaint")))
	station := html.UnescapeString(strings.TrimSpace(resp.Header.Get("icy-name")))
	if station != "" && notify != nil {
		notify(Metadata{Station: station})
	}
	if err != nil || metaInt <= 0 {
		return resp.Body
	}
	return &icyReader{
		r:       bufio.NewReader(resp.Body),
		body:    resp.Body,
		metaInt: metaInt,
		left:    metaInt,
		station: station,
		notify:  notify,
		meta:    make([]byte, maxICYBlock),
	}
}

func (ir *icyReader) Read(p []byte) (int, error) {
	if ir.left == 0 {
		if err := ir.readBlock(); err != nil {
			return 0, err
		}
		ir.left = ir.metaInt
	}
	if len(p) > ir.left {
		p = p[:ir.left]
	}
	n, err := ir.r.Read(p)
	ir.left -= n
	return n, err
}

func (ir *icyReader) readBlock() error {
	lb, err := ir.r.ReadByte()
	if err != nil {
		return err
	}
	size := int(lb) * 16
	if size == 0 {
		return nil
	}
	if _, err := io.ReadFull(ir.r, ir.meta[:size]); err != nil {
		return fmt.Errorf("icy metadata: %w", err)
	}
	title := streamTitle(strings.TrimRight(string(ir.meta[:size]), "\x00"))
	if title != "" && title != ir.last {
		ir.last = title
		if ir.notify != nil {
			ir.notify(Metadata{Station: ir.station, Title: title})
		}
	}
	return nil
}

func (ir *icyReader) Close() error { return ir.body.Close() }

// streamTitle extracts StreamTitle from an ICY metadata block. Quoted values
// may contain the quote character; the closing quote is the one followed by
// the end of the block or by a semicolon and another key.
func streamTitle(meta string) string {
	idx := strings.Index(meta, "StreamTitle=")
	if idx < 0 {
		return ""
	}
	v := strings.TrimSpace(meta[idx+len("StreamTitle="):])
	if v == "" {
		return ""
	}
	if q := v[0]; q == '\'' || q == '"' {
		v = v[1:]
		v = v[:closingQuote(v, q)]
	} else if end := strings.IndexByte(v, ';'); end >= 0 {
		v = v[:end]
	}
	return html.UnescapeString(strings.TrimSpace(v))
}

func closingQuote(v string, q byte) int {
	for i := 0; i < len(v); i++ {
		if v[i] != q {
			continue
		}
		rest := strings.TrimLeft(v[i+1:], " \t")
		if rest == "" {
			return i
		}
		if rest[0] == ';' && (strings.TrimSpace(rest[1:]) == "" || strings.Contains(rest[1:], "=")) {
			return i
		}
	}
	if end := strings.LastIndexByte(v, q); end >= 0 {
		return end
	}
	return len(v)
}
