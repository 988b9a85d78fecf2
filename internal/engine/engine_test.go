package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
)

func TestTick_EndToEndSingleExpression(t *testing.T) {
	cat := expression.NewCatalog(expression.Expression{ID: "expr0", Threshold: 0})
	e := New(Options{})

	r := e.Tick(cat, 0.5, 16*time.Millisecond)
	assert.Equal(t, expression.ID("expr0"), r.Active)
	assert.True(t, r.NeedsRedraw)

	r = e.Tick(cat, 0.5, 16*time.Millisecond)
	assert.Equal(t, expression.ID("expr0"), r.Active)
	assert.False(t, r.NeedsRedraw, "no bounce configured, nothing to redraw")
	assert.Zero(t, r.VerticalOffset)
}

func TestTick_EndToEndWithBounceKeepsRedrawing(t *testing.T) {
	cat := expression.NewCatalog(expression.Expression{
		ID:     "expr0",
		Bounce: &expression.Bounce{MaxVelocity: 2, TotalFrames: 240},
	})
	e := New(Options{})

	r := e.Tick(cat, 0.5, 20*time.Millisecond)
	require.True(t, r.NeedsRedraw)
	// 20ms implies 50 frames per second.
	assert.Equal(t, int32(50), e.State().FrameCounter)

	r = e.Tick(cat, 0.5, 20*time.Millisecond)
	assert.True(t, r.NeedsRedraw)
	assert.Equal(t, int32(100), e.State().FrameCounter)
	assert.InDelta(t, Velocity(2, 100, 240), r.VerticalOffset, 1e-12)
}

func TestTick_AttackGatingFromIdle(t *testing.T) {
	cat := expression.NewCatalog(expression.Expression{ID: "c", Threshold: 0.1, AttackMS: 200})
	e := New(Options{})

	for i := 0; i < 199; i++ {
		r := e.Tick(cat, 0.5, time.Millisecond)
		require.False(t, r.HasActive(), "activated early after %dms", i+1)
	}

	r := e.Tick(cat, 0.5, time.Millisecond)
	assert.Equal(t, expression.ID("c"), r.Active)
	assert.True(t, r.NeedsRedraw)
	assert.Zero(t, e.State().PendingElapsed)
	assert.InDelta(t, 200.0, e.State().ActivationMS, 1e-9)
}

func TestTick_ReplicateStartupStallNeverActivates(t *testing.T) {
	cat := expression.NewCatalog(expression.Expression{ID: "c", Threshold: 0.1, AttackMS: 200})
	e := New(Options{ReplicateStartupStall: true})

	for i := 0; i < 1000; i++ {
		r := e.Tick(cat, 0.5, time.Millisecond)
		require.False(t, r.HasActive())
	}
	assert.Zero(t, e.State().PendingElapsed)

	// Zero-attack expressions still activate immediately.
	cat = expression.NewCatalog(expression.Expression{ID: "z", Threshold: 0.1})
	r := e.Tick(cat, 0.5, time.Millisecond)
	assert.Equal(t, expression.ID("z"), r.Active)
}

func TestTick_ReleaseGating(t *testing.T) {
	cat := expression.NewCatalog(
		expression.Expression{ID: "A", Threshold: 0, ReleaseMS: 100},
		expression.Expression{ID: "B", Threshold: 0.5},
	)
	e := New(Options{})

	r := e.Tick(cat, 0.1, 10*time.Millisecond)
	require.Equal(t, expression.ID("A"), r.Active)

	for i := 1; i < 10; i++ {
		r = e.Tick(cat, 0.9, 10*time.Millisecond)
		require.Equal(t, expression.ID("A"), r.Active, "switched after only %dms", i*10)
	}
	assert.Equal(t, 90*time.Millisecond, e.State().PendingElapsed)

	r = e.Tick(cat, 0.9, 10*time.Millisecond)
	assert.Equal(t, expression.ID("B"), r.Active)
	assert.True(t, r.NeedsRedraw)
	assert.Zero(t, e.State().PendingElapsed)
}

func TestTick_PendingSwitchRequiresBothReleaseAndAttack(t *testing.T) {
	cat := expression.NewCatalog(
		expression.Expression{ID: "A", Threshold: 0, ReleaseMS: 20},
		expression.Expression{ID: "B", Threshold: 0.5, AttackMS: 50},
	)
	e := New(Options{})
	e.Tick(cat, 0.1, 10*time.Millisecond)

	for i := 0; i < 4; i++ {
		r := e.Tick(cat, 0.9, 10*time.Millisecond)
		require.Equal(t, expression.ID("A"), r.Active)
	}
	r := e.Tick(cat, 0.9, 10*time.Millisecond)
	assert.Equal(t, expression.ID("B"), r.Active)
}

func TestTick_StickyOnSilence(t *testing.T) {
	cat := expression.NewCatalog(
		expression.Expression{ID: "A", Threshold: 0.2, Bounce: &expression.Bounce{MaxVelocity: 3, TotalFrames: 600}},
	)
	e := New(Options{})

	r := e.Tick(cat, 0.5, 10*time.Millisecond)
	require.Equal(t, expression.ID("A"), r.Active)
	before := e.State()

	for i := 0; i < 50; i++ {
		r = e.Tick(cat, 0.01, 10*time.Millisecond)
		require.Equal(t, expression.ID("A"), r.Active)
		require.False(t, r.NeedsRedraw)
		require.Equal(t, before.Velocity, r.VerticalOffset)
	}
	assert.Equal(t, before, e.State(), "no field mutates without a candidate")
}

func TestTick_ZeroDtIsIdempotent(t *testing.T) {
	cat := expression.NewCatalog(
		expression.Expression{ID: "A", Threshold: 0, Bounce: &expression.Bounce{MaxVelocity: 3, TotalFrames: 600}},
		expression.Expression{ID: "B", Threshold: 0.5, AttackMS: 10},
	)
	e := New(Options{})
	e.Tick(cat, 0.1, 10*time.Millisecond)
	e.Tick(cat, 0.9, 5*time.Millisecond)

	s := e.State()
	for i := 0; i < 20; i++ {
		e.Tick(cat, 0.9, 0)
		e.Tick(cat, 0.1, 0)
		require.LessOrEqual(t, e.State().PendingElapsed, s.PendingElapsed)
		require.LessOrEqual(t, e.State().FrameCounter, s.FrameCounter)
	}
}

func TestTick_ZeroDtFirstCommitStillLatches(t *testing.T) {
	cat := expression.NewCatalog(expression.Expression{ID: "A"})
	e := New(Options{})

	r := e.Tick(cat, 0.5, 0)
	require.True(t, r.NeedsRedraw)
	assert.Greater(t, e.State().ActivationMS, 0.0)

	r = e.Tick(cat, 0.5, 0)
	assert.False(t, r.NeedsRedraw, "latched commit is not repeated")
}

func TestTick_NegativeDtCountsAsZero(t *testing.T) {
	cat := expression.NewCatalog(expression.Expression{ID: "A", AttackMS: 5})
	e := New(Options{})

	e.Tick(cat, 0.5, -time.Second)
	assert.Zero(t, e.State().PendingElapsed)
}

func TestTick_BounceBounds(t *testing.T) {
	cat := expression.NewCatalog(expression.Expression{
		ID:     "A",
		Bounce: &expression.Bounce{MaxVelocity: 4, TotalFrames: 100},
	})
	e := New(Options{})

	// 100ms ticks imply 10 frames each.
	var offsets []float64
	for i := 0; i < 20; i++ {
		r := e.Tick(cat, 1, 100*time.Millisecond)
		st := e.State()
		require.LessOrEqual(t, st.FrameCounter, st.MaxFrames)
		offsets = append(offsets, r.VerticalOffset)
	}

	st := e.State()
	assert.Equal(t, st.MaxFrames, st.FrameCounter)
	assert.Zero(t, st.Velocity, "velocity returns to zero at the last frame")
	// Frame 50 is the fifth tick.
	assert.InDelta(t, 8.0, offsets[4], 1e-9)
	for _, o := range offsets {
		assert.LessOrEqual(t, o, 8.0+1e-9)
	}
}

func TestTick_PendingSwitchResetsBounce(t *testing.T) {
	cat := expression.NewCatalog(
		expression.Expression{ID: "A", ReleaseMS: 1000, Bounce: &expression.Bounce{MaxVelocity: 4, TotalFrames: 1000}},
		expression.Expression{ID: "B", Threshold: 0.5},
	)
	e := New(Options{})
	e.Tick(cat, 0.1, 10*time.Millisecond)
	require.NotZero(t, e.State().Velocity)

	e.Tick(cat, 0.9, 10*time.Millisecond)
	st := e.State()
	assert.Equal(t, expression.ID("A"), st.Active)
	assert.Zero(t, st.FrameCounter)
	assert.Zero(t, st.Velocity)
	assert.Zero(t, st.ActivationMS)
}

func TestTick_ActiveRemovedFromCatalog(t *testing.T) {
	cat := expression.NewCatalog(
		expression.Expression{ID: "A", Threshold: 0.5},
		expression.Expression{ID: "B", Threshold: 0.1, AttackMS: 100},
	)
	e := New(Options{})
	r := e.Tick(cat, 0.9, 10*time.Millisecond)
	require.Equal(t, expression.ID("A"), r.Active)

	cat.Remove("A")

	r = e.Tick(cat, 0.9, 10*time.Millisecond)
	assert.False(t, r.HasActive(), "removed expression is dropped, B still needs its attack")
	assert.True(t, r.NeedsRedraw)

	for i := 0; i < 9; i++ {
		r = e.Tick(cat, 0.9, 10*time.Millisecond)
	}
	assert.Equal(t, expression.ID("B"), r.Active)
}

func TestTick_RemovedWhileSilentClearsActive(t *testing.T) {
	cat := expression.NewCatalog(expression.Expression{ID: "A", Threshold: 0.5})
	e := New(Options{})
	e.Tick(cat, 0.9, 10*time.Millisecond)

	cat.Remove("A")
	r := e.Tick(cat, 0, 10*time.Millisecond)
	assert.False(t, r.HasActive())
	assert.True(t, r.NeedsRedraw)
}

func TestTick_EmptyCatalog(t *testing.T) {
	e := New(Options{})
	r := e.Tick(nil, 1, 10*time.Millisecond)
	assert.Equal(t, Result{}, r)

	r = e.Tick(expression.NewCatalog(), 1, 10*time.Millisecond)
	assert.Equal(t, Result{}, r)
}
