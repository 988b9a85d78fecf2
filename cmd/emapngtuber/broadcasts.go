package main

import (
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/audio"
	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
)

// ==============================
// State broadcasts
// ==============================

// StateBroadcast is a reducer-emitted change notification for renderers.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastFrame is emitted on every tick that needs a redraw.
type BroadcastFrame struct {
	Active expression.ID
	Offset float64
	At     time.Time
}

// BroadcastExpressionChanged is emitted when the displayed expression changes.
// An empty Active means nothing is displayed.
type BroadcastExpressionChanged struct {
	Active expression.ID
	Name   string
	Asset  string
	At     time.Time
}

// BroadcastCatalogChanged carries the full catalog and scene settings after
// any edit or reload.
type BroadcastCatalogChanged struct {
	Expressions     []expression.Expression
	BackgroundColor string
	InputDevice     string
	At              time.Time
}

// BroadcastLevel reports the level fed to the engine. It is rate-limited by
// the broadcaster.
type BroadcastLevel struct {
	Level      float32
	Overridden bool
	At         time.Time
}

// BroadcastAudioStatus reports the capture state.
type BroadcastAudioStatus struct {
	Status audio.Status
	At     time.Time
}

func (BroadcastFrame) broadcastMarker()             {}
func (BroadcastExpressionChanged) broadcastMarker() {}
func (BroadcastCatalogChanged) broadcastMarker()    {}
func (BroadcastLevel) broadcastMarker()             {}
func (BroadcastAudioStatus) broadcastMarker()       {}
