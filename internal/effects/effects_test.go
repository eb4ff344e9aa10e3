package effects

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// patternStreamer produces a deterministic, non-repeating-looking signal.
type patternStreamer struct{ n int }

func (p *patternStreamer) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{float64(p.n%97) / 97, -float64(p.n%89) / 89}
		p.n++
	}
	return len(samples), true
}

func (*patternStreamer) Err() error { return nil }

// sineStreamer emits a full-scale sine completing cycles every period samples.
type sineStreamer struct {
	n      int
	period float64
}

func (s *sineStreamer) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		v := math.Sin(2 * math.Pi * float64(s.n) / s.period)
		samples[i] = [2]float64{v, v}
		s.n++
	}
	return len(samples), true
}

func (*sineStreamer) Err() error { return nil }

type sliceStreamer struct {
	data [][2]float64
	pos  int
}

func (s *sliceStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.data) {
		return 0, false
	}
	n := copy(samples, s.data[s.pos:])
	s.pos += n
	return n, true
}

func (*sliceStreamer) Err() error { return nil }

func pull(t *testing.T, st beep.Streamer, frames int) [][2]float64 {
	t.Helper()
	out := make([][2]float64, frames)
	// odd chunk size so block boundaries never line up with reads
	const chunk = 300
	for done := 0; done < frames; {
		end := done + chunk
		if end > frames {
			end = frames
		}
		n, ok := st.Stream(out[done:end])
		if !ok {
			t.Fatalf("stream ended after %d frames", done)
		}
		done += n
	}
	return out
}

func delta(length, at int) [][2]float64 {
	ir := make([][2]float64, length)
	ir[at] = [2]float64{1, 1}
	return ir
}

func TestEqualizerRejectsBadGains(t *testing.T) {
	eq := newEqualizer(&patternStreamer{}, 44100)
	if err := eq.Set([]float64{1, 2}); !errors.Is(err, ErrBandCount) {
		t.Fatalf("Set() error = %v, want ErrBandCount", err)
	}
	if !eq.Flat() {
		t.Fatal("rejected update must not change gains")
	}
}

func TestEqualizerFlatPassesThrough(t *testing.T) {
	eq := newEqualizer(&patternStreamer{}, 44100)
	if err := eq.Set(make([]float64, len(Bands))); err != nil {
		t.Fatalf("Set(flat): %v", err)
	}
	got := pull(t, eq, 1000)
	want := pull(t, &patternStreamer{}, 1000)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEqualizerGainsRoundTrip(t *testing.T) {
	eq := newEqualizer(&patternStreamer{}, 44100)
	preset, _ := FindPreset("Vocal Boost")
	if err := eq.Set(preset.Gains); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if eq.Flat() {
		t.Fatal("vocal preset reported as flat")
	}
	gains := eq.Gains()
	gains[0] = 99
	if eq.Gains()[0] == 99 {
		t.Fatal("Gains must return a copy")
	}
	out := pull(t, eq, 2048)
	for i, s := range out {
		if math.IsNaN(s[0]) || math.IsInf(s[0], 0) {
			t.Fatalf("frame %d not finite: %v", i, s)
		}
	}
}

func TestConvolverBypassWithoutImpulse(t *testing.T) {
	c := newConvolver(&patternStreamer{})
	if c.Active() {
		t.Fatal("new convolver should be bypassed")
	}
	got := pull(t, c, 700)
	want := pull(t, &patternStreamer{}, 700)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestConvolverDelays(t *testing.T) {
	tests := []struct {
		name  string
		delay int
	}{
		{name: "identity", delay: 0},
		{name: "short delay", delay: 3},
		{name: "crosses partition", delay: partitionSize + 188},
		{name: "third partition", delay: 2*partitionSize + 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConvolver(&patternStreamer{})
			c.SetImpulse(NewImpulse(delta(tt.delay+1, tt.delay)))
			if !c.Active() {
				t.Fatal("convolver should be active")
			}
			const frames = 4000
			got := pull(t, c, frames)
			want := pull(t, &patternStreamer{}, frames)
			for i := 0; i < frames; i++ {
				var exp [2]float64
				if i >= tt.delay {
					exp = want[i-tt.delay]
				}
				if math.Abs(got[i][0]-exp[0]) > 1e-9 || math.Abs(got[i][1]-exp[1]) > 1e-9 {
					t.Fatalf("frame %d = %v, want %v", i, got[i], exp)
				}
			}
		})
	}
}

func TestImpulseNormalisedToUnitEnergy(t *testing.T) {
	ir := delta(10, 0)
	ir[0] = [2]float64{4, 4}
	c := newConvolver(&patternStreamer{})
	c.SetImpulse(NewImpulse(ir))
	got := pull(t, c, 600)
	want := pull(t, &patternStreamer{}, 600)
	if math.Abs(got[100][0]-want[100][0]) > 1e-9 {
		t.Fatalf("scaled impulse not normalised: got %v want %v", got[100][0], want[100][0])
	}
	if NewImpulse(nil) != nil {
		t.Fatal("empty response must yield a nil impulse")
	}
}

func TestNormaliseFFTSize(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultFFTSize},
		{-5, DefaultFFTSize},
		{8, MinFFTSize},
		{512, 512},
		{600, 1024},
		{1 << 20, MaxFFTSize},
	}
	for _, tt := range tests {
		if got := normaliseFFTSize(tt.in); got != tt.want {
			t.Errorf("normaliseFFTSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAnalyserSilence(t *testing.T) {
	a := newAnalyser(beep.Silence(-1), 0)
	if a.FrequencyBinCount() != DefaultFFTSize/2 {
		t.Fatalf("FrequencyBinCount() = %d", a.FrequencyBinCount())
	}
	pull(t, a, 1024)
	dst := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(dst)
	for k, v := range dst {
		if v != 0 {
			t.Fatalf("bin %d = %d on silence", k, v)
		}
	}
}

func TestAnalyserPeaksAtToneBin(t *testing.T) {
	const size = 512
	const bin = 16
	a := newAnalyser(&sineStreamer{period: float64(size) / bin}, size)
	pull(t, a, 2*size)
	dst := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(dst)
	peak := 0
	for k := range dst {
		if dst[k] > dst[peak] {
			peak = k
		}
	}
	if peak < bin-1 || peak > bin+1 {
		t.Fatalf("peak at bin %d, want about %d", peak, bin)
	}
	if dst[200] >= dst[bin] {
		t.Fatalf("far bin %d not below tone bin %d", dst[200], dst[bin])
	}

	short := make([]byte, 4)
	a.ByteFrequencyData(short)
}

func writeWAV(t *testing.T, path string, rate beep.SampleRate, data [][2]float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, &sliceStreamer{data: data}, format); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestUnitUpdateIRFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hall.wav")
	writeWAV(t, path, 44100, delta(2000, 0))

	u := Create(Context{SampleRate: 44100}, &patternStreamer{})
	if err := u.UpdateIR(path); err != nil {
		t.Fatalf("UpdateIR: %v", err)
	}
	if !u.Convolver().Active() {
		t.Fatal("impulse not installed")
	}
	if err := u.UpdateIR("   "); err != nil {
		t.Fatalf("UpdateIR(blank): %v", err)
	}
	if u.Convolver().Active() {
		t.Fatal("blank source should bypass the convolver")
	}
}

func TestUnitUpdateIRFromURLResamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "room.wav")
	writeWAV(t, path, 22050, delta(1000, 0))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	frames, err := ImpulseLoader{}.Load(context.Background(), srv.URL+"/room", 44100)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(frames) <= 1000 {
		t.Fatalf("expected upsampled response, got %d frames", len(frames))
	}
}

func TestUnitUpdateIRErrors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(junk, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	u := Create(Context{}, &patternStreamer{})
	if err := u.UpdateIR(junk); !errors.Is(err, ErrImpulseFormat) {
		t.Fatalf("UpdateIR(junk) = %v, want ErrImpulseFormat", err)
	}
	if err := u.UpdateIR(filepath.Join(dir, "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if u.Convolver().Active() {
		t.Fatal("failed load must leave the convolver bypassed")
	}
}

func TestUnitUpdateEQ(t *testing.T) {
	u := Create(Context{}, &patternStreamer{})
	if err := u.UpdateEQ([]float64{1}); !errors.Is(err, ErrBandCount) {
		t.Fatalf("UpdateEQ() = %v, want ErrBandCount", err)
	}
	p, _ := FindPreset("Treble Boost")
	if err := u.UpdateEQ(p.Gains); err != nil {
		t.Fatalf("UpdateEQ: %v", err)
	}
	if u.Equalizer().Flat() {
		t.Fatal("equalizer still flat")
	}
	if u.Analyser() == nil || u.Analyser().FrequencyBinCount() != DefaultFFTSize/2 {
		t.Fatal("unexpected analyser")
	}
	pull(t, u, 1500)
}
