// Package feed defines the JSON messages of the state websocket shared by the
// daemon and its viewers.
//
// Every frame is a text message with the envelope {type, ts, data}. The first
// message after connecting is "state_init".
package feed

import (
	"encoding/json"
	"math"
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
)

// Message types.
const (
	TypeStateInit         = "state_init"
	TypeFrame             = "frame"
	TypeExpressionChanged = "expression_changed"
	TypeCatalogChanged    = "catalog_changed"
	TypeLevel             = "level"
	TypeAudioStatus       = "audio_status"
)

// Envelope is the wire format of every message.
type Envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Bounce mirrors expression.Bounce.
type Bounce struct {
	MaxVelocity float32 `json:"max_velocity"`
	TotalFrames int32   `json:"total_frames"`
}

// Expression is the wire form of an expression.
type Expression struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	AttackMS  float64 `json:"attack_ms"`
	ReleaseMS float64 `json:"release_ms"`
	Bounce    *Bounce `json:"bounce,omitempty"`
	Asset     string  `json:"asset"`
}

// AudioStatus is the capture state.
type AudioStatus struct {
	Backend string `json:"backend"`
	Device  string `json:"device"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Snapshot is the "state_init" payload.
type Snapshot struct {
	Active          string       `json:"active"`
	Offset          float64      `json:"offset"`
	Level           *float64     `json:"level"`
	LevelOverridden bool         `json:"level_overridden"`
	BackgroundColor string       `json:"background_color"`
	InputDevice     string       `json:"input_device"`
	Expressions     []Expression `json:"expressions"`
	Audio           *AudioStatus `json:"audio,omitempty"`
}

// Frame is the "frame" payload.
type Frame struct {
	Active string  `json:"active"`
	Offset float64 `json:"offset"`
}

// ExpressionChanged is the "expression_changed" payload.
type ExpressionChanged struct {
	Active string `json:"active"`
	Name   string `json:"name,omitempty"`
	Asset  string `json:"asset,omitempty"`
}

// CatalogChanged is the "catalog_changed" payload.
type CatalogChanged struct {
	BackgroundColor string       `json:"background_color"`
	InputDevice     string       `json:"input_device"`
	Expressions     []Expression `json:"expressions"`
}

// Level is the "level" payload. A nil Level is silence in dBFS (-Inf), which
// JSON cannot carry.
type Level struct {
	Level      *float64 `json:"level"`
	Overridden bool     `json:"overridden"`
}

// LevelValue converts a level for the wire.
func LevelValue(v float32) *float64 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// FromExpressions converts catalog entries for the wire.
func FromExpressions(exprs []expression.Expression) []Expression {
	out := make([]Expression, 0, len(exprs))
	for _, e := range exprs {
		we := Expression{
			ID:        string(e.ID),
			Name:      e.Name,
			Threshold: e.Threshold,
			AttackMS:  e.AttackMS,
			ReleaseMS: e.ReleaseMS,
			Asset:     e.Asset,
		}
		if e.Bounce != nil {
			we.Bounce = &Bounce{MaxVelocity: e.Bounce.MaxVelocity, TotalFrames: e.Bounce.TotalFrames}
		}
		out = append(out, we)
	}
	return out
}

// Encode marshals a message with its envelope.
func Encode(typ string, ts time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(Envelope{Type: typ, Ts: &ts, Data: raw})
}
