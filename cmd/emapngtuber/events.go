package main

import (
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/audio"
	"github.com/BluSpring/EmaPNGTuberV4/internal/control"
	"github.com/BluSpring/EmaPNGTuberV4/internal/store"
)

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Tick is emitted by the daemon loop at a fixed cadence. Level is the latest
// value sampled from the audio level cell.
type Tick struct {
	Now   time.Time
	Dt    time.Duration
	Level float32
}

func (Tick) eventMarker() {}

// TimedEvent stamps an externally produced event with its arrival time.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// ControlEvent carries a message received on the control socket. Reply, when
// set, receives the outcome once the reducer has applied the message.
type ControlEvent struct {
	Msg   control.Message
	Reply chan<- error
}

func (ControlEvent) eventMarker() {}

// CatalogReloaded is emitted after the catalog file was (re)read.
type CatalogReloaded struct {
	Doc store.Document
	At  time.Time
}

func (CatalogReloaded) eventMarker() {}

// CatalogSaved is emitted after a successful write of the catalog file.
type CatalogSaved struct {
	At time.Time
}

func (CatalogSaved) eventMarker() {}

// AudioStatusObserved is emitted whenever the capture monitor opens, loses or
// switches its source.
type AudioStatusObserved struct {
	Status audio.Status
	At     time.Time
}

func (AudioStatusObserved) eventMarker() {}

// CommandFailed is emitted when executing a Command fails.
type CommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (CommandFailed) eventMarker() {}

// RequestStateSnapshot asks the reducer for a coherent snapshot, delivered on
// Reply by the effects layer.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}
