package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// pcmSource reads raw little-endian PCM16 from a byte stream. The arecord,
// fifo and stdin backends differ only in how the stream is opened.
type pcmSource struct {
	name   string
	cfg    Config
	logger *slog.Logger
	open   func(ctx context.Context) (io.ReadCloser, error)

	mu     sync.Mutex
	rc     io.ReadCloser
	closed bool
	buf    []byte
}

func (s *pcmSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.rc != nil {
		return nil
	}

	rc, err := s.open(ctx)
	if err != nil {
		return err
	}
	s.rc = rc
	s.buf = make([]byte, s.cfg.BufferSamples()*s.cfg.Channels*2)

	s.logger.Info("audio source started",
		"backend", s.name,
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

func (s *pcmSource) Read(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	s.mu.Lock()
	rc, buf := s.rc, s.buf
	s.mu.Unlock()
	if rc == nil {
		return Chunk{}, errors.New("audio source not started")
	}

	// Only the monitor goroutine reads, so buf is not shared.
	n, err := io.ReadFull(rc, buf)
	if n > 0 && (err == nil || errors.Is(err, io.ErrUnexpectedEOF)) {
		var c Chunk
		c.FromBytes(buf[:n], s.cfg.SampleRate, s.cfg.Channels)
		return c, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return Chunk{}, ctx.Err()
		}
		return Chunk{}, err
	}
	return Chunk{}, io.EOF
}

func (s *pcmSource) Name() string { return s.name }

func (s *pcmSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.rc == nil {
		return nil
	}
	return s.rc.Close()
}

// ============================================================================
// arecord
// ============================================================================

func newArecordSource(cfg Config, logger *slog.Logger) *pcmSource {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	cfg.Device = device

	return &pcmSource{
		name:   string(BackendArecord),
		cfg:    cfg,
		logger: logger,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			cmd := exec.CommandContext(ctx, "arecord",
				"-q",
				"-D", device,
				"-t", "raw",
				"-f", "S16_LE",
				"-c", strconv.Itoa(cfg.Channels),
				"-r", strconv.Itoa(cfg.SampleRate),
			)
			cmd.Stderr = os.Stderr

			stdout, err := cmd.StdoutPipe()
			if err != nil {
				return nil, fmt.Errorf("arecord stdout: %w", err)
			}
			if err := cmd.Start(); err != nil {
				return nil, fmt.Errorf("start arecord: %w", err)
			}
			return &processReader{ReadCloser: stdout, cmd: cmd}, nil
		},
	}
}

// processReader closes a capture subprocess together with its output pipe.
type processReader struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (p *processReader) Close() error {
	var err error
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		err = p.ReadCloser.Close()
		_ = p.cmd.Wait()
	})
	return err
}

// ============================================================================
// stdin
// ============================================================================

func newStdinSource(cfg Config, logger *slog.Logger) *pcmSource {
	cfg.Device = "stdin"
	return &pcmSource{
		name:   string(BackendStdin),
		cfg:    cfg,
		logger: logger,
		open: func(context.Context) (io.ReadCloser, error) {
			// Never close the process's stdin.
			return io.NopCloser(os.Stdin), nil
		},
	}
}
