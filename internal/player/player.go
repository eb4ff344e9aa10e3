// Package player wraps libVLC as a streaming session and audio sink for the
// radio engine. libVLC handles HLS and Icecast itself, so loading a channel is
// a media swap; readiness and faults come from the player event manager.
package player

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	vlc "github.com/adrg/libvlc-go/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edward-ap/liveradio/internal/audio"
	"github.com/edward-ap/liveradio/internal/stream"
)

// ErrPlayback is reported when libVLC signals MediaPlayerEncounteredError.
var ErrPlayback = errors.New("libvlc playback error")

// Player is a thread-safe wrapper around libVLC that serializes every call.
// It implements stream.Session and audio.Sink.
type Player struct {
	p      *vlc.Player
	media  *vlc.Media
	events []vlc.EventID
	volume int

	// single lock guarding all C/libVLC invocations
	vlcMu sync.Mutex

	// internal lock for Player fields (not for libVLC)
	mu       sync.Mutex
	nextID   stream.LoadID
	active   stream.LoadID
	stream   string
	attached bool

	d   stream.Dispatcher
	log zerolog.Logger

	vlcMajor int
}

// NewPlayer constructs a Player with sane defaults but does not initialize
// libVLC. Call Init before attempting playback.
func NewPlayer(logger *zerolog.Logger) *Player {
	lg := log.Logger
	if logger != nil {
		lg = *logger
	}
	return &Player{
		volume: 70,
		log:    lg.With().Str("component", "vlc").Logger(),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseVlcMajor(ver string) int {
	ver = strings.TrimSpace(ver)
	if ver == "" {
		return 0
	}
	cut := ver
	if i := strings.IndexAny(ver, ". "); i >= 0 {
		cut = ver[:i]
	}
	m, _ := strconv.Atoi(cut)
	return m
}

// Init configures libVLC (plugin path, caching arguments), subscribes to the
// player events and applies the initial volume (0-1).
func (pl *Player) Init(volume float64) error {
	// Provide plugin path via ENV (without --plugin-path)
	if exe, err := os.Executable(); err == nil {
		plugins := filepath.Join(filepath.Dir(exe), "plugins")
		if st, err := os.Stat(plugins); err == nil && st.IsDir() {
			_ = os.Setenv("VLC_PLUGIN_PATH", plugins)
		}
	}

	pl.vlcMu.Lock()
	defer pl.vlcMu.Unlock()

	if err := vlc.Init(vlcArgs()...); err != nil {
		return fmt.Errorf("libvlc init failed: %w", err)
	}
	pl.vlcMajor = parseVlcMajor(vlc.Version().String())

	player, err := vlc.NewPlayer()
	if err != nil {
		vlc.Release()
		return fmt.Errorf("new vlc player failed: %w", err)
	}
	em, err := player.EventManager()
	if err != nil {
		player.Release()
		vlc.Release()
		return fmt.Errorf("vlc event manager: %w", err)
	}
	playing, err := em.Attach(vlc.MediaPlayerPlaying, pl.onPlaying, nil)
	if err != nil {
		player.Release()
		vlc.Release()
		return fmt.Errorf("attach playing event: %w", err)
	}
	failed, err := em.Attach(vlc.MediaPlayerEncounteredError, pl.onError, nil)
	if err != nil {
		em.Detach(playing)
		player.Release()
		vlc.Release()
		return fmt.Errorf("attach error event: %w", err)
	}
	pl.p = player
	pl.events = []vlc.EventID{playing, failed}

	pl.volume = clamp(int(volume*100+0.5), 0, 100)
	_ = pl.p.SetVolume(pl.volume)
	pl.log.Info().Int("major", pl.vlcMajor).Msg("libvlc initialised")
	return nil
}

// Release frees VLC resources and stops event delivery.
func (pl *Player) Release() {
	pl.d.Close()

	pl.vlcMu.Lock()
	defer pl.vlcMu.Unlock()
	if pl.p != nil {
		if em, err := pl.p.EventManager(); err == nil {
			em.Detach(pl.events...)
		}
		_ = pl.p.Stop()
		_ = pl.p.Release()
		pl.p = nil
	}
	if pl.media != nil {
		_ = pl.media.Release()
		pl.media = nil
	}
	vlc.Release()
}

// event callbacks run on libVLC threads and must not call back into libVLC
func (pl *Player) onPlaying(vlc.Event, interface{}) {
	pl.mu.Lock()
	id, ok := pl.active, pl.attached
	pl.mu.Unlock()
	if id != 0 && ok {
		pl.d.ManifestReady(id)
	}
}

func (pl *Player) onError(vlc.Event, interface{}) {
	pl.mu.Lock()
	id := pl.active
	url := pl.stream
	pl.mu.Unlock()
	if id != 0 {
		pl.log.Warn().Str("url", url).Msg("libvlc reported a playback error")
		pl.d.Error(id, ErrPlayback)
	}
}

func (pl *Player) Bind(h stream.Handlers) error { return pl.d.Bind(h) }

// Supported reports whether libVLC initialised.
func (pl *Player) Supported() bool {
	pl.vlcMu.Lock()
	defer pl.vlcMu.Unlock()
	return pl.p != nil
}

// LoadAndAttach swaps in a media for url and starts playback. Reloading the
// media kept by Detach skips the media rebuild.
func (pl *Player) LoadAndAttach(url string, sink audio.Sink) stream.LoadID {
	u := strings.TrimSpace(url)

	pl.mu.Lock()
	pl.nextID++
	id := pl.nextID
	pl.active = id
	pl.attached = true
	reuse := u == pl.stream
	pl.stream = u
	pl.mu.Unlock()

	if err := pl.load(u, reuse); err != nil {
		pl.log.Warn().Err(err).Str("url", u).Msg("load failed")
		pl.d.Error(id, err)
		return id
	}
	pl.log.Debug().Uint64("load", uint64(id)).Str("url", u).Bool("reuse", reuse).Msg("loading stream")
	return id
}

func (pl *Player) load(url string, reuse bool) error {
	pl.vlcMu.Lock()
	defer pl.vlcMu.Unlock()
	if pl.p == nil {
		return fmt.Errorf("vlc player not initialized")
	}
	if !reuse || pl.media == nil {
		if pl.media != nil {
			_ = pl.media.Release()
			pl.media = nil
		}
		m, err := vlc.NewMediaFromURL(url)
		if err != nil {
			return fmt.Errorf("new media from url failed: %w", err)
		}
		_ = m.AddOptions(
			":demux=any",
			":http-user-agent=LiveRadio/1.0",
			":network-caching=1500",
			":live-caching=1500",
			":http-reconnect",
		)
		if err := pl.p.SetMedia(m); err != nil {
			_ = m.Release()
			return fmt.Errorf("set media failed: %w", err)
		}
		pl.media = m
	}
	if err := pl.p.Play(); err != nil {
		return fmt.Errorf("play failed: %w", err)
	}
	return nil
}

// Detach stops output but keeps the media for a quick resume.
func (pl *Player) Detach() {
	pl.mu.Lock()
	was := pl.attached
	pl.attached = false
	pl.mu.Unlock()
	if !was {
		return
	}
	pl.vlcMu.Lock()
	if pl.p != nil {
		_ = pl.p.Stop()
	}
	pl.vlcMu.Unlock()
}

// StopLoad stops playback and releases the media.
func (pl *Player) StopLoad() {
	pl.mu.Lock()
	pl.active = 0
	pl.attached = false
	pl.stream = ""
	pl.mu.Unlock()

	pl.vlcMu.Lock()
	defer pl.vlcMu.Unlock()
	if pl.p != nil {
		_ = pl.p.Stop()
	}
	if pl.media != nil {
		_ = pl.media.Release()
		pl.media = nil
	}
}

// Play makes sure the loaded media is playing. libVLC starts output on load,
// so this only recovers from an external stop.
func (pl *Player) Play() error {
	pl.mu.Lock()
	attached := pl.attached
	pl.mu.Unlock()

	pl.vlcMu.Lock()
	defer pl.vlcMu.Unlock()
	if pl.p == nil {
		return audio.ErrNotStarted
	}
	if !attached || pl.media == nil || pl.p.IsPlaying() {
		return nil
	}
	if err := pl.p.Play(); err != nil {
		return fmt.Errorf("play failed: %w", err)
	}
	return nil
}

// SetVolume applies a linear level in [0,1] as libVLC's 0-100 volume.
func (pl *Player) SetVolume(level float64) {
	v := clamp(int(level*100+0.5), 0, 100)
	pl.vlcMu.Lock()
	if pl.p != nil {
		_ = pl.p.SetVolume(v)
	}
	pl.vlcMu.Unlock()

	pl.mu.Lock()
	pl.volume = v
	pl.mu.Unlock()
}

// Volume reports the last applied volume (0-100).
func (pl *Player) Volume() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.volume
}

// SetAudioEqualizer applies the provided equalizer to the underlying VLC player in a thread-safe way.
func (pl *Player) SetAudioEqualizer(eq *vlc.Equalizer) error {
	pl.vlcMu.Lock()
	defer pl.vlcMu.Unlock()
	if pl.p == nil {
		return fmt.Errorf("vlc player not initialized")
	}
	return pl.p.SetEqualizer(eq)
}

// NowPlaying reads the station and now-playing title libVLC parsed from the
// current media.
func (pl *Player) NowPlaying() stream.Metadata {
	pl.vlcMu.Lock()
	defer pl.vlcMu.Unlock()
	if pl.media == nil {
		return stream.Metadata{}
	}
	title, _ := pl.media.Meta(vlc.MediaTitle)
	now, _ := pl.media.Meta(vlc.MediaNowPlaying)
	artist, _ := pl.media.Meta(vlc.MediaArtist)
	return stream.TagMetadata(title, now, artist)
}
