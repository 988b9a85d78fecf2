package audio

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/atomic"
)

// LevelMode selects how a buffer of samples is reduced to one level.
type LevelMode string

const (
	// LevelRSS is the square root of the sum of squares over the whole
	// buffer. It grows with buffer size; thresholds tuned for the classic
	// avatar setup use this unit.
	LevelRSS LevelMode = "rss"

	// LevelRMS is the root mean square, independent of buffer size.
	LevelRMS LevelMode = "rms"

	// LevelDBFS is the RMS in decibels relative to full scale. Silence is -Inf.
	LevelDBFS LevelMode = "dbfs"
)

// ParseLevelMode converts a config string to a LevelMode.
func ParseLevelMode(s string) (LevelMode, error) {
	switch m := LevelMode(strings.ToLower(strings.TrimSpace(s))); m {
	case LevelRSS, LevelRMS, LevelDBFS:
		return m, nil
	case "":
		return LevelRSS, nil
	default:
		return "", fmt.Errorf("invalid level mode: %s (must be rss, rms, or dbfs)", s)
	}
}

// Silence returns the level reported when no audio is flowing.
func Silence(mode LevelMode) float32 {
	if mode == LevelDBFS {
		return float32(math.Inf(-1))
	}
	return 0
}

// MulToDB converts a linear amplitude to decibels. Zero maps to -Inf.
func MulToDB(mul float32) float32 {
	if mul == 0 {
		return float32(math.Inf(-1))
	}
	return 20 * float32(math.Log10(float64(mul)))
}

// ConvertLevel re-expresses a level measured in mode from as mode to. Linear
// modes (rss, rms) are converted to and from dBFS; between the two linear
// modes the value is passed through since the buffer size is unknown. An
// empty from means the level is already in mode to.
func ConvertLevel(v float32, from, to LevelMode) float32 {
	if from == "" || from == to {
		return v
	}
	switch {
	case to == LevelDBFS:
		return MulToDB(v)
	case from == LevelDBFS:
		if math.IsInf(float64(v), -1) {
			return 0
		}
		return float32(math.Pow(10, float64(v)/20))
	}
	return v
}

// Measure reduces PCM16 samples to a level in the given mode. Samples are
// scaled to [-1, 1) first.
func Measure(samples []int16, mode LevelMode) float32 {
	if len(samples) == 0 {
		return Silence(mode)
	}

	var sum float64
	for _, s := range samples {
		x := float64(s) / 32768.0
		sum += x * x
	}

	switch mode {
	case LevelRMS:
		return float32(math.Sqrt(sum / float64(len(samples))))
	case LevelDBFS:
		return MulToDB(float32(math.Sqrt(sum / float64(len(samples)))))
	default:
		return float32(math.Sqrt(sum))
	}
}

// LevelCell is the hand-off point between the capture goroutine and the
// tick loop. It holds one word: the writer overwrites it, and the reader only
// ever sees the latest value. Neither side blocks.
type LevelCell struct {
	v atomic.Float32
}

// Store publishes a new level.
func (c *LevelCell) Store(level float32) { c.v.Store(level) }

// Load returns the most recently published level.
func (c *LevelCell) Load() float32 { return c.v.Load() }
