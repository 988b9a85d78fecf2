package main

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/control"
	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
	"github.com/BluSpring/EmaPNGTuberV4/internal/store"
)

// This file implements the reducer:
//
//   - Events: inputs (ticks, control messages, catalog reloads, observations)
//   - Commands: side effects requested by the reducer (disk, asset cache, capture)
//   - Broadcasts: change notifications for renderers
//
// The reducer must be pure. It performs no I/O and never blocks. The daemon
// loop executes Commands and feeds their outcome back as Events.

// Errors returned to control clients.
var (
	errUnknownExpression   = errors.New("unknown expression")
	errDuplicateExpression = errors.New("expression already exists")
	errMissingID           = errors.New("expression id is empty")
	errInvalidColor        = errors.New("background color must be #rrggbb")
	errInvalidLevel        = errors.New("level must be a number")
	errEmptyDevice         = errors.New("input device is empty")
)

// ReduceConfig holds reducer policy derived from the daemon config.
type ReduceConfig struct {
	Normalize expression.NormalizeOptions
}

// ReduceResult is the output of Reduce(): next state, Commands to execute and
// Broadcasts to fan out.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce is the pure reducer.
func Reduce(s *DaemonState, e Event, cfg ReduceConfig) ReduceResult {
	if s == nil {
		s = &DaemonState{}
	}
	if s.Catalog == nil {
		s.Catalog = expression.NewCatalog()
	}

	r := ReduceResult{State: s}
	reduceEvent(s, e, time.Time{}, cfg, &r)
	return r
}

func reduceEvent(s *DaemonState, e Event, at time.Time, cfg ReduceConfig, r *ReduceResult) {
	switch ev := e.(type) {
	case Tick:
		reduceTick(s, ev, r)

	case TimedEvent:
		reduceEvent(s, ev.Event, ev.At, cfg, r)

	case ControlEvent:
		if cmd, ok := storeRequest(s, ev.Msg, ev.Reply); ok {
			// The effect answers once the file has been written or read.
			r.Commands = append(r.Commands, cmd)
			return
		}
		err := reduceControl(s, ev.Msg, at, cfg, r)
		if ev.Reply != nil {
			r.Commands = append(r.Commands, CmdReplyControl{Reply: ev.Reply, Err: err})
		}

	case CatalogReloaded:
		prevDevice := s.Scene.InputDevice
		s.Catalog = ev.Doc.Catalog()
		s.Scene = SceneState{
			BackgroundColor: ev.Doc.BackgroundColor,
			InputDevice:     ev.Doc.InputDevice,
		}
		// The file on disk wins over unsaved edits.
		s.Dirty = false

		if s.Scene.InputDevice != "" && s.Scene.InputDevice != prevDevice {
			r.Commands = append(r.Commands, CmdSwitchInput{Device: s.Scene.InputDevice})
		}
		r.Commands = append(r.Commands, CmdPurgeAssets{})
		r.Commands = append(r.Commands, prefetchAll(s.Catalog)...)
		r.Broadcasts = append(r.Broadcasts, catalogChanged(s, ev.At))

	case CatalogSaved:
		s.LastSavedAt = ev.At

	case AudioStatusObserved:
		s.Audio = AudioState{Status: ev.Status, Known: true, At: ev.At}
		r.Broadcasts = append(r.Broadcasts, BroadcastAudioStatus{Status: ev.Status, At: ev.At})

	case CommandFailed:
		// Keep state as-is. A failed save leaves the in-memory catalog
		// authoritative until the next edit or explicit save.
		_ = ev

	case RequestStateSnapshot:
		r.Commands = append(r.Commands, CmdPublishStateSnapshot{
			Reply:    ev.Reply,
			Snapshot: s.Snapshot(),
		})

	default:
		// Unknown event type: no-op.
	}
}

// reduceTick runs the engine for one frame, then flushes pending saves.
func reduceTick(s *DaemonState, ev Tick, r *ReduceResult) {
	s.Level.Live = ev.Level
	level := s.Level.Effective()

	res := s.Engine.Tick(s.Catalog, level, ev.Dt)

	if res.Active != s.Frame.Active {
		bc := BroadcastExpressionChanged{Active: res.Active, At: ev.Now}
		if e, ok := s.Catalog.Lookup(res.Active); ok {
			bc.Name = e.Name
			bc.Asset = e.Asset
		}
		r.Broadcasts = append(r.Broadcasts, bc)
	}
	s.Frame.Active = res.Active
	s.Frame.Offset = res.VerticalOffset

	if res.NeedsRedraw {
		s.Frame.At = ev.Now
		r.Broadcasts = append(r.Broadcasts, BroadcastFrame{
			Active: res.Active,
			Offset: res.VerticalOffset,
			At:     ev.Now,
		})
	}

	if !math.IsNaN(float64(level)) {
		rounded := roundLevel(level)
		if !s.Level.Known || rounded != s.Level.Published {
			s.Level.Published = rounded
			s.Level.Known = true
			r.Broadcasts = append(r.Broadcasts, BroadcastLevel{
				Level:      rounded,
				Overridden: s.Level.Override != nil,
				At:         ev.Now,
			})
		}
	}

	if s.Dirty {
		s.Dirty = false
		r.Commands = append(r.Commands, CmdSaveCatalog{Doc: s.Document()})
	}
}

// reduceControl applies one control message. The returned error is reported
// to the client; state is left untouched when it is non-nil.
func reduceControl(s *DaemonState, msg control.Message, at time.Time, cfg ReduceConfig, r *ReduceResult) error {
	switch m := msg.(type) {
	case control.AddExpression:
		if m.ID == "" {
			return errMissingID
		}
		id := expression.ID(m.ID)
		if s.Catalog.Contains(id) {
			return fmt.Errorf("%w: %s", errDuplicateExpression, id)
		}
		e := expression.Normalize(expression.Expression{
			ID:        id,
			Name:      m.Name,
			Threshold: m.Threshold,
			AttackMS:  m.AttackMS,
			ReleaseMS: m.ReleaseMS,
			Bounce:    toBounce(m.Bounce),
			Asset:     m.Asset,
		}, cfg.Normalize)
		s.Catalog.Upsert(e)
		if e.Asset != "" {
			r.Commands = append(r.Commands, CmdPrefetchAsset{Ref: e.Asset})
		}
		markCatalogChanged(s, at, r)

	case control.UpdateExpression:
		e, ok := s.Catalog.Lookup(expression.ID(m.ID))
		if !ok {
			return fmt.Errorf("%w: %s", errUnknownExpression, m.ID)
		}
		prevAsset := e.Asset
		if m.Name != nil {
			e.Name = *m.Name
		}
		if m.Threshold != nil {
			e.Threshold = *m.Threshold
		}
		if m.AttackMS != nil {
			e.AttackMS = *m.AttackMS
		}
		if m.ReleaseMS != nil {
			e.ReleaseMS = *m.ReleaseMS
		}
		if m.Bounce != nil {
			e.Bounce = toBounce(m.Bounce)
		}
		if m.Asset != nil {
			e.Asset = *m.Asset
		}
		e = expression.Normalize(e, cfg.Normalize)
		s.Catalog.Upsert(e)
		if e.Asset != prevAsset && e.Asset != "" {
			r.Commands = append(r.Commands, CmdPrefetchAsset{Ref: e.Asset})
		}
		markCatalogChanged(s, at, r)

	case control.RemoveExpression:
		if !s.Catalog.Remove(expression.ID(m.ID)) {
			return fmt.Errorf("%w: %s", errUnknownExpression, m.ID)
		}
		markCatalogChanged(s, at, r)

	case control.MoveExpression:
		if !s.Catalog.Move(expression.ID(m.ID), m.Index) {
			return fmt.Errorf("%w: %s", errUnknownExpression, m.ID)
		}
		markCatalogChanged(s, at, r)

	case control.SetBackground:
		if !store.ValidColor(m.Color) {
			return fmt.Errorf("%w: %q", errInvalidColor, m.Color)
		}
		s.Scene.BackgroundColor = m.Color
		markCatalogChanged(s, at, r)

	case control.SetInputDevice:
		if m.Device == "" {
			return errEmptyDevice
		}
		if m.Device != s.Scene.InputDevice {
			s.Scene.InputDevice = m.Device
			r.Commands = append(r.Commands, CmdSwitchInput{Device: m.Device})
			markCatalogChanged(s, at, r)
		}

	case control.SetLevel:
		if math.IsNaN(float64(m.Level)) {
			return errInvalidLevel
		}
		v := m.Level
		s.Level.Override = &v

	case control.ClearLevel:
		s.Level.Override = nil

	default:
		return fmt.Errorf("unsupported control message %T", msg)
	}
	return nil
}

// storeRequest maps save and reload requests to store commands carrying the
// client's reply channel.
func storeRequest(s *DaemonState, msg control.Message, reply chan<- error) (Command, bool) {
	switch msg.(type) {
	case control.SaveCatalog:
		s.Dirty = false
		return CmdSaveCatalog{Doc: s.Document(), Reply: reply}, true
	case control.ReloadCatalog:
		return CmdLoadCatalog{Reply: reply}, true
	}
	return nil, false
}

func markCatalogChanged(s *DaemonState, at time.Time, r *ReduceResult) {
	s.Dirty = true
	r.Broadcasts = append(r.Broadcasts, catalogChanged(s, at))
}

func catalogChanged(s *DaemonState, at time.Time) BroadcastCatalogChanged {
	return BroadcastCatalogChanged{
		Expressions:     s.Catalog.Expressions(),
		BackgroundColor: s.Scene.BackgroundColor,
		InputDevice:     s.Scene.InputDevice,
		At:              at,
	}
}

func prefetchAll(cat *expression.Catalog) []Command {
	var cmds []Command
	seen := make(map[string]struct{})
	for _, e := range cat.Expressions() {
		if e.Asset == "" {
			continue
		}
		if _, ok := seen[e.Asset]; ok {
			continue
		}
		seen[e.Asset] = struct{}{}
		cmds = append(cmds, CmdPrefetchAsset{Ref: e.Asset})
	}
	return cmds
}

func toBounce(b *control.Bounce) *expression.Bounce {
	if b == nil || !b.Enabled {
		return nil
	}
	return &expression.Bounce{MaxVelocity: b.MaxVelocity, TotalFrames: b.TotalFrames}
}

func roundLevel(v float32) float32 {
	if math.IsInf(float64(v), 0) {
		return v
	}
	return float32(math.Round(float64(v)*levelBroadcastPrecision) / levelBroadcastPrecision)
}
