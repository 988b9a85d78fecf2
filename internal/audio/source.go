// Package audio captures microphone input and publishes a single audio level
// for the tick loop to read.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ErrUnknownBackend is returned by NewSource for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown audio backend")

// Chunk is one buffer of captured audio.
type Chunk struct {
	// Samples holds interleaved PCM16 samples.
	Samples    []int16
	SampleRate int
	Channels   int

	// Level is set by sources that receive an already measured level instead
	// of samples. HasLevel tells the monitor to use it; LevelMode is the unit
	// it was measured in, empty when it already matches the monitor's mode.
	Level     float32
	HasLevel  bool
	LevelMode LevelMode
}

// FromBytes fills c from little-endian PCM16 bytes. A trailing odd byte is
// ignored.
func (c *Chunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = make([]int16, len(data)/2)
	for i := range c.Samples {
		c.Samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
}

// Source is a stream of audio chunks.
type Source interface {
	// Start begins capture. The context bounds the capture's lifetime.
	Start(ctx context.Context) error

	// Read blocks until the next chunk is available. It returns io.EOF once
	// the source has ended.
	Read(ctx context.Context) (Chunk, error)

	// Name returns the backend name.
	Name() string

	// Close stops capture and unblocks a pending Read. It is safe to call
	// more than once.
	io.Closer
}

// Backend names a capture implementation.
type Backend string

const (
	BackendArecord   Backend = "arecord"
	BackendFIFO      Backend = "fifo"
	BackendStdin     Backend = "stdin"
	BackendSine      Backend = "sine"
	BackendWebSocket Backend = "websocket"
)

// Config describes how to capture audio.
type Config struct {
	Backend Backend

	// Device is the capture device for backends that have one (the ALSA
	// device name for arecord).
	Device string

	SampleRate     int
	Channels       int
	BufferDuration time.Duration

	// FIFOPath is the named pipe read by the fifo backend.
	FIFOPath string

	// URL is the feed the websocket backend connects to.
	URL string

	// SineFrequency and SineAmplitude shape the synthetic tone. SineEnvelope
	// is the rate in Hz of the amplitude envelope that makes the tone swell
	// and fade.
	SineFrequency float64
	SineAmplitude float64
	SineEnvelope  float64
}

// DefaultConfig returns a mono 48kHz capture from the default ALSA device.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendArecord,
		Device:         "default",
		SampleRate:     48000,
		Channels:       1,
		BufferDuration: 10 * time.Millisecond,
		SineFrequency:  220,
		SineAmplitude:  0.5,
		SineEnvelope:   0.5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("sample rate must be > 0")
	}
	if c.Channels <= 0 {
		return errors.New("channels must be > 0")
	}
	if c.BufferDuration <= 0 {
		return errors.New("buffer duration must be > 0")
	}
	switch c.Backend {
	case BackendFIFO:
		if c.FIFOPath == "" {
			return errors.New("fifo backend requires a path")
		}
	case BackendWebSocket:
		if c.URL == "" {
			return errors.New("websocket backend requires a url")
		}
	}
	return nil
}

// BufferSamples is the number of samples per channel in one buffer.
func (c Config) BufferSamples() int {
	n := int(int64(c.SampleRate) * int64(c.BufferDuration) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	return n
}

// NewSource creates the source selected by cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendArecord:
		return newArecordSource(cfg, logger), nil
	case BackendFIFO:
		return newFIFOSource(cfg, logger)
	case BackendStdin:
		return newStdinSource(cfg, logger), nil
	case BackendSine:
		return NewSineSource(cfg, logger), nil
	case BackendWebSocket:
		return newWebSocketSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
