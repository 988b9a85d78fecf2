package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVelocity(t *testing.T) {
	tests := []struct {
		name      string
		maxVel    float64
		frame     int32
		maxFrames int32
		want      float64
	}{
		{"start", 12, 0, 30, 0},
		{"end", 12, 30, 30, 0},
		{"peak is max squared over two", 12, 15, 30, 72},
		{"quarter", 2, 1, 4, 1.5},
		{"no frames", 12, 0, 0, 0},
		{"negative frames", 12, 3, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Velocity(tt.maxVel, tt.frame, tt.maxFrames), 1e-9)
		})
	}
}

func TestVelocity_PeaksAtHalfway(t *testing.T) {
	const maxFrames = 40
	peak := Velocity(5, maxFrames/2, maxFrames)
	for f := int32(0); f <= maxFrames; f++ {
		assert.LessOrEqual(t, Velocity(5, f, maxFrames), peak)
	}
}
