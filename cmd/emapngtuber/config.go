package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BluSpring/EmaPNGTuberV4/internal/audio"
	"github.com/BluSpring/EmaPNGTuberV4/internal/control"
	"github.com/BluSpring/EmaPNGTuberV4/internal/engine"
	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
)

// Config is the top-level YAML configuration for the daemon.
//
// The expression catalog is not part of it: that lives in its own file
// (catalog.path) because the daemon rewrites it on edits.
type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	Engine  EngineConfig  `yaml:"engine"`
	Catalog CatalogConfig `yaml:"catalog"`
	Assets  AssetsConfig  `yaml:"assets"`
	HTTP    HTTPConfig    `yaml:"http"`
	IPC     IPCConfig     `yaml:"ipc"`
	Logging LoggingConfig `yaml:"logging"`
}

type AudioConfig struct {
	Backend string `yaml:"backend"` // arecord, fifo, stdin, sine, websocket

	// Device is used when the catalog does not name an input device.
	Device string `yaml:"device"`

	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BufferMS   int    `yaml:"buffer_ms"`
	LevelMode  string `yaml:"level_mode"` // rss, rms, dbfs
	RetryMS    int    `yaml:"retry_ms"`

	FIFOPath string     `yaml:"fifo_path,omitempty"`
	URL      string     `yaml:"url,omitempty"`
	Sine     SineConfig `yaml:"sine"`
}

type SineConfig struct {
	Frequency float64 `yaml:"frequency"`
	Amplitude float64 `yaml:"amplitude"`
	Envelope  float64 `yaml:"envelope_hz"`
}

type EngineConfig struct {
	UpdateHz int `yaml:"update_hz"`

	// ReplicateStartupStall keeps pending time frozen while nothing is
	// active, like the first release of the avatar did.
	ReplicateStartupStall bool `yaml:"replicate_startup_stall,omitempty"`
}

type CatalogConfig struct {
	Path       string `yaml:"path"`
	Watch      bool   `yaml:"watch"`
	DebounceMS int    `yaml:"debounce_ms"`
}

type AssetsConfig struct {
	// Dir resolves relative asset references. Empty means the catalog's
	// directory.
	Dir          string `yaml:"dir,omitempty"`
	TargetHeight int    `yaml:"target_height"`
	CacheSize    int    `yaml:"cache_size"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	ac := audio.DefaultConfig()
	return Config{
		Audio: AudioConfig{
			Backend:    string(ac.Backend),
			Device:     ac.Device,
			SampleRate: ac.SampleRate,
			Channels:   ac.Channels,
			BufferMS:   int(ac.BufferDuration / time.Millisecond),
			LevelMode:  string(audio.LevelRSS),
			RetryMS:    defaultRetryMS,
			Sine: SineConfig{
				Frequency: ac.SineFrequency,
				Amplitude: ac.SineAmplitude,
				Envelope:  ac.SineEnvelope,
			},
		},
		Engine: EngineConfig{
			UpdateHz: defaultUpdateHz,
		},
		Catalog: CatalogConfig{
			Path:       defaultCatalogPath,
			Watch:      true,
			DebounceMS: defaultWatchDebounce,
		},
		Assets: AssetsConfig{
			TargetHeight: defaultAssetHeight,
			CacheSize:    defaultAssetCacheSize,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  defaultHTTPListen,
		},
		IPC: IPCConfig{
			SocketPath: control.DefaultSocketPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	var trailing yaml.Node
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds command-line values that take precedence over the
// config file. A nil pointer means the flag was not given.
type FlagOverrides struct {
	AudioBackend   *string
	AudioDevice    *string
	AudioLevelMode *string
	AudioFIFOPath  *string
	AudioURL       *string

	EngineUpdateHz *int

	CatalogPath  *string
	CatalogWatch *bool

	AssetsDir *string

	HTTPListen  *string
	HTTPEnabled *bool

	IPCSocketPath *string

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.AudioBackend != nil {
		cfg.Audio.Backend = *o.AudioBackend
	}
	if o.AudioDevice != nil {
		cfg.Audio.Device = *o.AudioDevice
	}
	if o.AudioLevelMode != nil {
		cfg.Audio.LevelMode = *o.AudioLevelMode
	}
	if o.AudioFIFOPath != nil {
		cfg.Audio.FIFOPath = *o.AudioFIFOPath
	}
	if o.AudioURL != nil {
		cfg.Audio.URL = *o.AudioURL
	}

	if o.EngineUpdateHz != nil {
		cfg.Engine.UpdateHz = *o.EngineUpdateHz
	}

	if o.CatalogPath != nil {
		cfg.Catalog.Path = *o.CatalogPath
	}
	if o.CatalogWatch != nil {
		cfg.Catalog.Watch = *o.CatalogWatch
	}

	if o.AssetsDir != nil {
		cfg.Assets.Dir = *o.AssetsDir
	}

	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}
	if o.HTTPEnabled != nil {
		cfg.HTTP.Enabled = *o.HTTPEnabled
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	// Audio
	switch audio.Backend(c.Audio.Backend) {
	case audio.BackendArecord, audio.BackendStdin, audio.BackendSine:
	case audio.BackendFIFO:
		if c.Audio.FIFOPath == "" {
			return errors.New("audio.fifo_path must be set when audio.backend is fifo")
		}
	case audio.BackendWebSocket:
		if c.Audio.URL == "" {
			return errors.New("audio.url must be set when audio.backend is websocket")
		}
	default:
		return fmt.Errorf("audio.backend must be one of arecord, fifo, stdin, sine, websocket (got %q)", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels <= 0 {
		return errors.New("audio.channels must be > 0")
	}
	if c.Audio.BufferMS <= 0 {
		return errors.New("audio.buffer_ms must be > 0")
	}
	if c.Audio.RetryMS < 0 {
		return errors.New("audio.retry_ms must be >= 0")
	}
	if _, err := audio.ParseLevelMode(c.Audio.LevelMode); err != nil {
		return fmt.Errorf("audio.level_mode: %w", err)
	}
	if c.Audio.Sine.Amplitude < 0 || c.Audio.Sine.Amplitude > 1 {
		return errors.New("audio.sine.amplitude must be between 0 and 1")
	}

	// Engine
	if c.Engine.UpdateHz <= 0 || c.Engine.UpdateHz > 1000 {
		return errors.New("engine.update_hz must be between 1 and 1000")
	}

	// Catalog
	if c.Catalog.Path == "" {
		return errors.New("catalog.path must not be empty")
	}
	if c.Catalog.DebounceMS < 0 {
		return errors.New("catalog.debounce_ms must be >= 0")
	}

	// Assets
	if c.Assets.TargetHeight < 0 {
		return errors.New("assets.target_height must be >= 0")
	}
	if c.Assets.CacheSize <= 0 {
		return errors.New("assets.cache_size must be > 0")
	}

	// HTTP
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("http.listen must not be empty when http.enabled is true")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be %q or %q", "text", "json")
	}

	return nil
}

// LevelMode returns the parsed audio.level_mode. Validate must have passed.
func (c *Config) LevelMode() audio.LevelMode {
	m, _ := audio.ParseLevelMode(c.Audio.LevelMode)
	return m
}

// ToAudioConfig converts the audio section into a capture config for device.
func (c *Config) ToAudioConfig(device string) audio.Config {
	if device == "" {
		device = c.Audio.Device
	}
	return audio.Config{
		Backend:        audio.Backend(c.Audio.Backend),
		Device:         device,
		SampleRate:     c.Audio.SampleRate,
		Channels:       c.Audio.Channels,
		BufferDuration: time.Duration(c.Audio.BufferMS) * time.Millisecond,
		FIFOPath:       ExpandPath(c.Audio.FIFOPath),
		URL:            c.Audio.URL,
		SineFrequency:  c.Audio.Sine.Frequency,
		SineAmplitude:  c.Audio.Sine.Amplitude,
		SineEnvelope:   c.Audio.Sine.Envelope,
	}
}

// ToEngineOptions converts the engine section.
func (c *Config) ToEngineOptions() engine.Options {
	return engine.Options{ReplicateStartupStall: c.Engine.ReplicateStartupStall}
}

// NormalizeOptions returns the catalog clamping rules for the configured
// level unit. Negative thresholds only make sense in dBFS.
func (c *Config) NormalizeOptions() expression.NormalizeOptions {
	return expression.NormalizeOptions{AllowNegativeThreshold: c.LevelMode() == audio.LevelDBFS}
}

// CatalogPath is the expanded catalog file path.
func (c *Config) CatalogPath() string { return ExpandPath(c.Catalog.Path) }

// AssetsDir is the directory relative asset references resolve against.
func (c *Config) AssetsDir() string {
	if c.Assets.Dir != "" {
		return ExpandPath(c.Assets.Dir)
	}
	return filepath.Dir(c.CatalogPath())
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
