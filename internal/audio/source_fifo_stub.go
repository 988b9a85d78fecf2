//go:build !unix

package audio

import (
	"errors"
	"log/slog"
)

func newFIFOSource(Config, *slog.Logger) (Source, error) {
	return nil, errors.New("fifo backend is only available on unix systems")
}
