package main

import (
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/audio"
	"github.com/BluSpring/EmaPNGTuberV4/internal/engine"
	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
	"github.com/BluSpring/EmaPNGTuberV4/internal/store"
)

// DaemonState is the top-level, daemon-owned state container. Only the daemon
// goroutine reads or writes it; other goroutines get StateSnapshot copies.
type DaemonState struct {
	// Engine is the activation gate and bounce interpolator.
	Engine engine.Engine

	// Catalog is the live expression catalog. Edits happen between ticks.
	Catalog *expression.Catalog

	Scene SceneState
	Level LevelState
	Frame FrameState
	Audio AudioState

	// Dirty marks catalog or scene edits not yet written to disk. The next
	// tick flushes them as a single save.
	Dirty       bool
	LastSavedAt time.Time
}

// SceneState holds the persisted settings that are not expressions.
type SceneState struct {
	BackgroundColor string
	InputDevice     string
}

// LevelState tracks the level fed to the engine.
type LevelState struct {
	// Live is the last level sampled from audio capture.
	Live float32

	// Override, when set, replaces Live for the engine.
	Override *float32

	// Published is the rounded level last broadcast; Known is false until
	// the first broadcast.
	Published float32
	Known     bool
}

// Effective returns the level the engine should see.
func (l LevelState) Effective() float32 {
	if l.Override != nil {
		return *l.Override
	}
	return l.Live
}

// FrameState is what renderers were last told to draw.
type FrameState struct {
	Active expression.ID
	Offset float64
	At     time.Time
}

// AudioState is the last observed capture status.
type AudioState struct {
	Status audio.Status
	Known  bool
	At     time.Time
}

// NewDaemonState builds the initial state from a loaded catalog document.
func NewDaemonState(doc store.Document, opts engine.Options) *DaemonState {
	return &DaemonState{
		Engine:  engine.New(opts),
		Catalog: doc.Catalog(),
		Scene: SceneState{
			BackgroundColor: doc.BackgroundColor,
			InputDevice:     doc.InputDevice,
		},
	}
}

// Document returns the persisted form of the current catalog and scene.
func (s *DaemonState) Document() store.Document {
	return store.Document{
		InputDevice:     s.Scene.InputDevice,
		BackgroundColor: s.Scene.BackgroundColor,
		Expressions:     s.Catalog.Expressions(),
	}
}

// StateSnapshot is a coherent copy of the state safe to hand to other
// goroutines.
type StateSnapshot struct {
	Active          expression.ID
	Offset          float64
	Level           float32
	LevelOverridden bool
	BackgroundColor string
	InputDevice     string
	Expressions     []expression.Expression
	Audio           audio.Status
	AudioKnown      bool
	LastSavedAt     time.Time
}

// Snapshot copies the state. Expressions are deep copies.
func (s *DaemonState) Snapshot() StateSnapshot {
	return StateSnapshot{
		Active:          s.Frame.Active,
		Offset:          s.Frame.Offset,
		Level:           s.Level.Effective(),
		LevelOverridden: s.Level.Override != nil,
		BackgroundColor: s.Scene.BackgroundColor,
		InputDevice:     s.Scene.InputDevice,
		Expressions:     s.Catalog.Expressions(),
		Audio:           s.Audio.Status,
		AudioKnown:      s.Audio.Known,
		LastSavedAt:     s.LastSavedAt,
	}
}
