package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.uber.org/atomic"
)

const defaultRetryDelay = 2 * time.Second

var errSwitched = errors.New("audio input switched")

// Status describes the capture state after a change.
type Status struct {
	Backend string
	Device  string
	Running bool
	Err     error
}

// SourceFactory creates a source for a configuration.
type SourceFactory func(cfg Config, logger *slog.Logger) (Source, error)

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithStatusHook registers fn to be called from the monitor goroutine
// whenever capture starts or stops. fn must not block.
func WithStatusHook(fn func(Status)) MonitorOption {
	return func(m *Monitor) { m.onStatus = fn }
}

// WithSourceFactory replaces NewSource.
func WithSourceFactory(fn SourceFactory) MonitorOption {
	return func(m *Monitor) { m.newSource = fn }
}

// WithRetryDelay sets the pause before reopening a failed source.
func WithRetryDelay(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.retryDelay = d }
}

// Monitor keeps a source running and publishes its level into a LevelCell.
//
// A failing source is reopened after a delay. Whenever capture stops the cell
// is reset to silence, so consumers see the avatar settle instead of a frozen
// level.
type Monitor struct {
	cfg    Config
	mode   LevelMode
	cell   *LevelCell
	logger *slog.Logger

	newSource  SourceFactory
	onStatus   func(Status)
	retryDelay time.Duration
	switchCh   chan string

	chunks atomic.Int64
}

// NewMonitor creates a monitor publishing into cell.
func NewMonitor(cfg Config, mode LevelMode, cell *LevelCell, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:        cfg,
		mode:       mode,
		cell:       cell,
		logger:     logger,
		newSource:  NewSource,
		retryDelay: defaultRetryDelay,
		switchCh:   make(chan string, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Switch asks the monitor to reopen capture on another device. It never
// blocks; when called repeatedly before the monitor reacts, the last device
// wins.
func (m *Monitor) Switch(device string) {
	for {
		select {
		case m.switchCh <- device:
			return
		default:
		}
		select {
		case <-m.switchCh:
		default:
		}
	}
}

// Chunks returns how many chunks have been measured.
func (m *Monitor) Chunks() int64 { return m.chunks.Load() }

// Run captures until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		err := m.runOnce(ctx)
		m.cell.Store(Silence(m.mode))

		if ctx.Err() != nil {
			m.report(Status{Backend: string(m.cfg.Backend), Device: m.cfg.Device})
			return nil
		}
		if errors.Is(err, errSwitched) {
			m.logger.Info("audio input switched", "device", m.cfg.Device)
			continue
		}

		m.logger.Warn("audio capture stopped; retrying", "error", err, "retry_in", m.retryDelay)
		m.report(Status{Backend: string(m.cfg.Backend), Device: m.cfg.Device, Err: err})

		select {
		case <-ctx.Done():
			return nil
		case dev := <-m.switchCh:
			m.cfg.Device = dev
		case <-time.After(m.retryDelay):
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) error {
	src, err := m.newSource(m.cfg, m.logger)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := src.Start(sctx); err != nil {
		_ = src.Close()
		return fmt.Errorf("start %s source: %w", src.Name(), err)
	}
	m.report(Status{Backend: src.Name(), Device: m.cfg.Device, Running: true})

	readErr := make(chan error, 1)
	go func() { readErr <- m.pump(sctx, src) }()

	select {
	case <-ctx.Done():
		cancel()
		_ = src.Close()
		<-readErr
		return ctx.Err()

	case dev := <-m.switchCh:
		cancel()
		_ = src.Close()
		<-readErr
		m.cfg.Device = dev
		return errSwitched

	case err := <-readErr:
		_ = src.Close()
		return err
	}
}

func (m *Monitor) pump(ctx context.Context, src Source) error {
	for {
		c, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%s source ended", src.Name())
			}
			return err
		}

		level := ConvertLevel(c.Level, c.LevelMode, m.mode)
		if !c.HasLevel {
			level = Measure(c.Samples, m.mode)
		}
		m.cell.Store(level)
		m.chunks.Inc()
	}
}

func (m *Monitor) report(s Status) {
	if m.onStatus != nil {
		m.onStatus(s)
	}
}
