// Package engine decides which expression the avatar shows and how far it is
// displaced vertically, one tick at a time.
//
// Each tick runs the threshold selector against the live catalog, then an
// activation gate with attack/release hysteresis, then advances the bounce of
// the active expression. The Engine is a plain value with no locks; exactly one
// goroutine may drive it.
package engine

import (
	"math"
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
)

// latchFloorMS is the latch value stored when a commit happens before any
// pending time accrued (a zero-length first tick). The latch must be non-zero
// after every commit or the gate would re-commit on each following tick.
const latchFloorMS = 1e-6

// State is the mutable state of the gate and the bounce.
type State struct {
	// Active is the displayed expression; empty means none.
	Active expression.ID

	// PendingElapsed is how long the current candidate has been eligible to
	// take over from Active.
	PendingElapsed time.Duration

	// ActivationMS is zero until the gate commits an activation in the current
	// episode. Any positive value latches it.
	ActivationMS float64

	FrameCounter int32
	Velocity     float64
	MaxVelocity  float64
	MaxFrames    int32
}

// Result is what a renderer needs after a tick.
type Result struct {
	Active         expression.ID
	VerticalOffset float64
	NeedsRedraw    bool
}

// HasActive reports whether an expression is displayed.
func (r Result) HasActive() bool { return r.Active != "" }

// Options tunes behavior that differs from the default gate.
type Options struct {
	// ReplicateStartupStall freezes pending time while no expression is
	// active. With it set, a first candidate whose attack is non-zero can
	// never activate. Off by default; it exists to compare against recordings
	// made with the older gate.
	ReplicateStartupStall bool
}

// Engine is the activation gate plus the bounce interpolator.
type Engine struct {
	opts  Options
	state State
}

// New returns an idle engine.
func New(opts Options) Engine {
	return Engine{opts: opts}
}

// State returns a copy of the current state.
func (e *Engine) State() State { return e.state }

// Tick advances the engine by dt with the latest audio level.
//
// cat is read, never modified, and may differ from the previous tick's
// catalog. A negative dt counts as zero. When no expression qualifies for
// level, the state is left exactly as it was.
func (e *Engine) Tick(cat *expression.Catalog, level float32, dt time.Duration) Result {
	if dt < 0 {
		dt = 0
	}
	redraw := false

	// Re-resolve the active expression against the live catalog so an edit
	// or removal between ticks never leaves us holding stale values.
	var active expression.Expression
	hasActive := false
	if e.state.Active != "" {
		active, hasActive = cat.Lookup(e.state.Active)
		if !hasActive {
			e.state = State{}
			redraw = true
		}
	}

	cand, ok := cat.Select(float64(level))
	if !ok {
		return e.result(redraw)
	}

	switch {
	case hasActive && cand.Threshold != active.Threshold:
		// Pending switch. Candidates are compared by threshold, not identity.
		e.state.PendingElapsed += dt
		e.state.ActivationMS = 0
		e.state.FrameCounter = 0
		e.state.Velocity = 0
	case e.state.ActivationMS > 0:
		e.state.PendingElapsed = 0
	case !hasActive && !e.opts.ReplicateStartupStall:
		e.state.PendingElapsed += dt
	}

	pendingMS := float64(e.state.PendingElapsed) / 1e6

	releaseOK := !hasActive || cand.Threshold == active.Threshold || active.ReleaseMS <= pendingMS
	attackOK := cand.AttackMS <= pendingMS || cand.AttackMS == 0
	if releaseOK && attackOK && e.state.ActivationMS == 0 {
		e.state.ActivationMS += pendingMS
		if e.state.ActivationMS <= 0 {
			e.state.ActivationMS = latchFloorMS
		}
		e.state.PendingElapsed = 0

		e.state.MaxVelocity, e.state.MaxFrames = 0, 0
		if cand.HasBounce() {
			e.state.MaxVelocity = float64(cand.Bounce.MaxVelocity)
			e.state.MaxFrames = cand.Bounce.TotalFrames
		}

		e.state.Active = cand.ID
		active, hasActive = cand, true
		redraw = true
	}

	if e.state.ActivationMS > 0 && hasActive && active.HasBounce() &&
		e.state.FrameCounter < e.state.MaxFrames && dt > 0 {
		// The step is the frame rate implied by this tick's duration, so the
		// bounce plays in roughly constant wall-clock time.
		fps := math.Round(1 / (float64(dt) / 1e6 / 1000))
		next := math.Min(float64(e.state.FrameCounter)+fps, float64(e.state.MaxFrames))
		e.state.FrameCounter = int32(next)
		e.state.Velocity = Velocity(e.state.MaxVelocity, e.state.FrameCounter, e.state.MaxFrames)
		redraw = true
	}

	return e.result(redraw)
}

func (e *Engine) result(redraw bool) Result {
	return Result{
		Active:         e.state.Active,
		VerticalOffset: e.state.Velocity,
		NeedsRedraw:    redraw,
	}
}
