//go:build unix

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// newFIFOSource reads PCM written into a named pipe by another program, for
// example `ffmpeg ... -f s16le /run/emapngtuber/audio.pcm`. The pipe is
// created when missing.
func newFIFOSource(cfg Config, logger *slog.Logger) (Source, error) {
	path := cfg.FIFOPath
	cfg.Device = path

	return &pcmSource{
		name:   string(BackendFIFO),
		cfg:    cfg,
		logger: logger,
		open: func(context.Context) (io.ReadCloser, error) {
			if err := ensureFIFO(path); err != nil {
				return nil, err
			}
			// O_RDWR keeps the open from blocking until a writer appears and
			// keeps the pipe from reporting EOF when a writer goes away.
			f, err := os.OpenFile(path, unix.O_RDWR, 0)
			if err != nil {
				return nil, fmt.Errorf("open fifo: %w", err)
			}
			return f, nil
		},
	}, nil
}

func ensureFIFO(path string) error {
	fi, err := os.Stat(path)
	switch {
	case err == nil:
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a named pipe", path)
		}
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat fifo: %w", err)
	}

	if err := unix.Mkfifo(path, 0o660); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}
