// Package config defines the LiveRadio configuration format and helpers for
// loading or saving it to disk.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/edward-ap/liveradio/internal/effects"
	"github.com/edward-ap/liveradio/internal/radio"
	"github.com/edward-ap/liveradio/internal/sampler"
)

const (
	// AppID is the stable application identifier used for config storage.
	AppID = "liveradio"
	// AppConfigSubdir is the OS-specific directory that holds the config file.
	AppConfigSubdir = "LiveRadio"
	// AppConfigName is the JSON file stored on disk.
	AppConfigName = "config.json"
	// EnvPrefix marks environment overrides.
	EnvPrefix = "LIVERADIO_"

	BackendNative = "native"
	BackendVLC    = "vlc"

	// DefaultVolume sets the safe initial playback level.
	DefaultVolume = 0.7
	// DefaultMaxRetry is the advertised retry budget for stream faults.
	DefaultMaxRetry = radio.DefaultMaxRetry
	// DefaultFrameRate drives the headless frame scheduler.
	DefaultFrameRate = sampler.DefaultFrameRate
	// DefaultWidth is the preferred window width when no persisted value exists.
	DefaultWidth = 520
	// DefaultHeight is the preferred window height.
	DefaultHeight = 180
	// DefaultTestURL is a known-good MP3 stream used when no channel is configured.
	DefaultTestURL   = "https://ice1.somafm.com/groovesalad-128-mp3"
	DefaultTestTitle = "Groove Salad"
)

// Config aggregates every user-facing preference persisted between sessions.
type Config struct {
	Backend           string          `json:"backend"`
	Volume            float64         `json:"volume"`
	StateFrequency    int             `json:"stateFrequency"`
	SpectrumFrequency int             `json:"spectrumFrequency"`
	MaxRetry          int             `json:"maxRetry"`
	FrameRate         int             `json:"frameRate"`
	FFTSize           int             `json:"fftSize"`
	Channels          []radio.Channel `json:"channels"`
	LastChannel       string          `json:"lastChannel,omitempty"`
	EQPreset          string          `json:"eqPreset"`
	IRSource          string          `json:"irSource,omitempty"`
	WindowW           int             `json:"windowW"`
	WindowH           int             `json:"windowH"`
}

// ConfigDir resolves the writable directory that should contain the config file.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppConfigSubdir), nil
}

// ConfigPath is a helper that returns the full path to config.json.
func ConfigPath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, AppConfigName), nil
}

// LoadEnv reads KEY=VALUE files (".env" when none given) into the process
// environment. Missing files are not an error; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("env file %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the config from disk, writing defaults on first run. Environment
// overrides are applied on top and are not persisted unless saved.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := NewDefault()
			// Try saving an initial config, but still return defaults even if it fails.
			_ = cfg.Save()
			cfg.applyEnv()
			cfg.applyRuntimeDefaults()
			return cfg, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config parse error: %w", err)
	}
	cfg.applyEnv()
	cfg.applyRuntimeDefaults()
	return cfg, nil
}

// Save persists the configuration to disk, creating directories as needed.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// AppID returns the stable identifier used by the GUI framework.
func (c *Config) AppID() string { return AppID }

// Channel returns the configured channel with the given id.
func (c *Config) Channel(id string) *radio.Channel {
	for i := range c.Channels {
		if c.Channels[i].ID == id {
			ch := c.Channels[i]
			return &ch
		}
	}
	return nil
}

// Restore returns the channel to restore on start, or nil.
func (c *Config) Restore() *radio.Channel {
	if c.LastChannel == "" {
		return nil
	}
	return c.Channel(c.LastChannel)
}

// AddChannel appends a channel for url, reusing an existing entry with the
// same URL.
func (c *Config) AddChannel(title, url string) *radio.Channel {
	url = strings.TrimSpace(url)
	for i := range c.Channels {
		if c.Channels[i].URL == url {
			ch := c.Channels[i]
			return &ch
		}
	}
	ch := radio.NewChannel(title, url)
	c.Channels = append(c.Channels, *ch)
	return ch
}

// EQGains resolves the configured preset to band gains.
func (c *Config) EQGains() []float64 {
	p, ok := effects.FindPreset(c.EQPreset)
	if !ok {
		p, _ = effects.FindPreset(effects.PresetFlat)
	}
	return p.Gains
}

// NewDefault builds an in-memory config populated with safe defaults.
func NewDefault() *Config {
	cfg := &Config{
		Backend:           BackendNative,
		Volume:            DefaultVolume,
		StateFrequency:    sampler.DefaultStateFrequency,
		SpectrumFrequency: sampler.DefaultSpectrumFrequency,
		MaxRetry:          DefaultMaxRetry,
		FrameRate:         DefaultFrameRate,
		FFTSize:           effects.DefaultFFTSize,
		Channels:          []radio.Channel{*radio.NewChannel(DefaultTestTitle, DefaultTestURL)},
		EQPreset:          effects.PresetFlat,
		WindowW:           DefaultWidth,
		WindowH:           DefaultHeight,
	}
	cfg.applyRuntimeDefaults()
	return cfg
}

// applyRuntimeDefaults normalizes config values after a load or when defaults
// are constructed, ensuring the engine always receives sane inputs.
func (c *Config) applyRuntimeDefaults() {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case BackendVLC:
		c.Backend = BackendVLC
	default:
		c.Backend = BackendNative
	}
	if math.IsNaN(c.Volume) || c.Volume < 0 || c.Volume > 1 {
		c.Volume = DefaultVolume
	}
	if c.StateFrequency < 1 || c.StateFrequency > sampler.MaxStateFrequency {
		c.StateFrequency = sampler.DefaultStateFrequency
	}
	if c.SpectrumFrequency < 1 || c.SpectrumFrequency > sampler.MaxSpectrumFrequency {
		c.SpectrumFrequency = sampler.DefaultSpectrumFrequency
	}
	if c.MaxRetry < 1 {
		c.MaxRetry = DefaultMaxRetry
	}
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	if !validFFTSize(c.FFTSize) {
		c.FFTSize = effects.DefaultFFTSize
	}
	if c.WindowW <= 0 {
		c.WindowW = DefaultWidth
	}
	if c.WindowH <= 0 {
		c.WindowH = DefaultHeight
	}
	if _, ok := effects.FindPreset(c.EQPreset); !ok {
		c.EQPreset = effects.PresetFlat
	}
	c.IRSource = strings.TrimSpace(c.IRSource)
	if c.Channels == nil {
		c.Channels = []radio.Channel{}
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		ch.Title = strings.TrimSpace(ch.Title)
		ch.URL = strings.TrimSpace(ch.URL)
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
	}
	if c.LastChannel != "" && c.Channel(c.LastChannel) == nil {
		c.LastChannel = ""
	}
}

func validFFTSize(n int) bool {
	return n >= effects.MinFFTSize && n <= effects.MaxFFTSize && n&(n-1) == 0
}

// applyEnv overlays LIVERADIO_* variables. Unparsable values are ignored.
func (c *Config) applyEnv() {
	if v, ok := lookupEnv("BACKEND"); ok {
		c.Backend = v
	}
	if v, ok := lookupEnv("VOLUME"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Volume = f
		}
	}
	envInt("STATE_FREQUENCY", &c.StateFrequency)
	envInt("SPECTRUM_FREQUENCY", &c.SpectrumFrequency)
	envInt("MAX_RETRY", &c.MaxRetry)
	envInt("FRAME_RATE", &c.FrameRate)
	envInt("FFT_SIZE", &c.FFTSize)
	if v, ok := lookupEnv("EQ_PRESET"); ok {
		c.EQPreset = v
	}
	if v, ok := lookupEnv("IR_SOURCE"); ok {
		c.IRSource = v
	}
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envInt(name string, dst *int) {
	v, ok := lookupEnv(name)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
