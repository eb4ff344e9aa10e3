package effects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

const (
	// MaxImpulseSeconds caps loaded responses; longer tails are truncated.
	MaxImpulseSeconds = 3
	maxImpulseBytes   = 32 << 20
	resampleQuality   = 4
)

// ErrImpulseFormat is returned for impulse files that are neither WAV nor MP3.
var ErrImpulseFormat = errors.New("unsupported impulse response format")

// ImpulseLoader fetches and decodes impulse responses.
type ImpulseLoader struct {
	Client  *http.Client
	Timeout time.Duration
}

// Load reads source (a file path or an http(s) URL) and returns the decoded
// stereo frames at rate, truncated to MaxImpulseSeconds.
func (l ImpulseLoader) Load(ctx context.Context, source string, rate beep.SampleRate) ([][2]float64, error) {
	data, err := l.fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	return decodeImpulse(source, data, rate)
}

func (l ImpulseLoader) fetch(ctx context.Context, source string) ([]byte, error) {
	if !isRemote(source) {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read impulse response: %w", err)
		}
		return data, nil
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch impulse response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch impulse response: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImpulseBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch impulse response: %w", err)
	}
	return data, nil
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func decodeImpulse(source string, data []byte, rate beep.SampleRate) ([][2]float64, error) {
	var (
		st     beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch impulseKind(source, data) {
	case "wav":
		st, format, err = wav.Decode(bytes.NewReader(data))
	case "mp3":
		st, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return nil, ErrImpulseFormat
	}
	if err != nil {
		return nil, fmt.Errorf("decode impulse response: %w", err)
	}
	defer st.Close()

	var src beep.Streamer = st
	if format.SampleRate != rate {
		src = beep.Resample(resampleQuality, format.SampleRate, rate, st)
	}

	limit := rate.N(MaxImpulseSeconds * time.Second)
	out := make([][2]float64, 0, limit)
	buf := make([][2]float64, 512)
	for len(out) < limit {
		n, ok := src.Stream(buf)
		out = append(out, buf[:n]...)
		if !ok {
			break
		}
	}
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("decode impulse response: %w", err)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("decode impulse response: empty")
	}
	return out, nil
}

func impulseKind(source string, data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	path := source
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return "wav"
	case ".mp3":
		return "mp3"
	}
	return ""
}
