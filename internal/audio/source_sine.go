package audio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// SineSource synthesizes a tone whose loudness swells and fades, which makes
// the avatar cycle through its expressions without a microphone.
type SineSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Chunk
	stopCh   chan struct{}

	chunksRead atomic.Int64

	// Only touched by the generator goroutine.
	phase    float64
	envPhase float64
}

// NewSineSource creates a synthetic source.
func NewSineSource(cfg Config, logger *slog.Logger) *SineSource {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Device = "sine"
	return &SineSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan Chunk, 10),
		stopCh:   make(chan struct{}),
	}
}

func (s *SineSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	s.running = true

	go s.generate(ctx, s.stopCh, s.streamCh)

	s.logger.Info("audio source started",
		"backend", BackendSine,
		"frequency_hz", s.cfg.SineFrequency,
		"envelope_hz", s.cfg.SineEnvelope,
	)
	return nil
}

func (s *SineSource) generate(ctx context.Context, stop <-chan struct{}, out chan<- Chunk) {
	defer close(out)

	ticker := time.NewTicker(s.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			select {
			case out <- s.nextChunk():
			default:
				s.logger.Debug("sine source: buffer full, dropping chunk")
			}
		}
	}
}

func (s *SineSource) nextChunk() Chunk {
	n := s.cfg.BufferSamples()
	ch := s.cfg.Channels
	rate := float64(s.cfg.SampleRate)

	samples := make([]int16, n*ch)
	for i := 0; i < n; i++ {
		env := 1.0
		if s.cfg.SineEnvelope > 0 {
			env = 0.5 * (1 - math.Cos(s.envPhase))
			s.envPhase += 2 * math.Pi * s.cfg.SineEnvelope / rate
		}
		v := s.cfg.SineAmplitude * env * math.Sin(s.phase)
		s.phase += 2 * math.Pi * s.cfg.SineFrequency / rate

		sample := int16(math.Max(-1, math.Min(1, v)) * 32767)
		for c := 0; c < ch; c++ {
			samples[i*ch+c] = sample
		}
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)
	s.envPhase = math.Mod(s.envPhase, 2*math.Pi)

	s.chunksRead.Inc()
	return Chunk{Samples: samples, SampleRate: s.cfg.SampleRate, Channels: ch}
}

func (s *SineSource) Read(ctx context.Context) (Chunk, error) {
	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case c, ok := <-s.streamCh:
		if !ok {
			return Chunk{}, io.EOF
		}
		return c, nil
	}
}

func (s *SineSource) Name() string { return string(BackendSine) }

// ChunksRead returns how many chunks have been generated.
func (s *SineSource) ChunksRead() int64 { return s.chunksRead.Load() }

func (s *SineSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.running {
		close(s.stopCh)
		s.running = false
	} else {
		close(s.streamCh)
	}
	return nil
}
