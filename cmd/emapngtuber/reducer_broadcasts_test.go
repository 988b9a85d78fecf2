package main

import (
	"math"
	"testing"
	"time"
)

func TestReduce_Tick_EmitsLevelOnlyOnRoundedChange(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()

	// Internal state keeps full precision; the broadcast is rounded to 0.001.
	s := newTestState()
	rr := Reduce(s, Tick{Now: t0, Dt: testTick, Level: 0.12345}, ReduceConfig{})

	if rr.State.Level.Live != 0.12345 {
		t.Fatalf("expected internal level 0.12345, got %v", rr.State.Level.Live)
	}
	levels := broadcastsOf[BroadcastLevel](rr.Broadcasts)
	if len(levels) != 1 {
		t.Fatalf("expected 1 level broadcast on first tick, got %d", len(levels))
	}
	if levels[0].Level != float32(0.123) {
		t.Fatalf("expected broadcast level 0.123, got %v", levels[0].Level)
	}
	if levels[0].Overridden {
		t.Fatalf("expected live level, got overridden")
	}

	// Rounds to the same value -> no broadcast.
	t1 := t0.Add(testTick)
	rr2 := Reduce(rr.State, Tick{Now: t1, Dt: testTick, Level: 0.1232}, ReduceConfig{})
	if got := broadcastsOf[BroadcastLevel](rr2.Broadcasts); len(got) != 0 {
		t.Fatalf("expected 0 level broadcasts when rounded level unchanged, got %d", len(got))
	}

	// Crosses a rounding boundary -> broadcast.
	t2 := t1.Add(testTick)
	rr3 := Reduce(rr2.State, Tick{Now: t2, Dt: testTick, Level: 0.1236}, ReduceConfig{})
	levels = broadcastsOf[BroadcastLevel](rr3.Broadcasts)
	if len(levels) != 1 {
		t.Fatalf("expected 1 level broadcast when rounded level changes, got %d", len(levels))
	}
	if levels[0].Level != float32(0.124) {
		t.Fatalf("expected broadcast level 0.124, got %v", levels[0].Level)
	}
	if !levels[0].At.Equal(t2) {
		t.Fatalf("expected broadcast timestamp %v, got %v", t2, levels[0].At)
	}
}

func TestReduce_Tick_SilenceInDBFS(t *testing.T) {
	t0 := time.Unix(2000, 0).UTC()
	silence := float32(math.Inf(-1))

	s := newTestState()
	rr := Reduce(s, Tick{Now: t0, Dt: testTick, Level: silence}, ReduceConfig{})

	levels := broadcastsOf[BroadcastLevel](rr.Broadcasts)
	if len(levels) != 1 || !math.IsInf(float64(levels[0].Level), -1) {
		t.Fatalf("expected one -Inf level broadcast, got %+v", levels)
	}
	// Nothing qualifies for -Inf, so the engine stays idle.
	if rr.State.Frame.Active != "" {
		t.Fatalf("expected nothing active at silence, got %q", rr.State.Frame.Active)
	}

	rr = Reduce(rr.State, Tick{Now: t0.Add(testTick), Dt: testTick, Level: silence}, ReduceConfig{})
	if got := broadcastsOf[BroadcastLevel](rr.Broadcasts); len(got) != 0 {
		t.Fatalf("expected silence not to be re-broadcast, got %d", len(got))
	}
}

func TestReduce_Tick_NaNLevelIsNotBroadcast(t *testing.T) {
	s := newTestState()
	rr := Reduce(s, Tick{Now: time.Now(), Dt: testTick, Level: float32(math.NaN())}, ReduceConfig{})

	if got := broadcastsOf[BroadcastLevel](rr.Broadcasts); len(got) != 0 {
		t.Fatalf("expected no level broadcast for NaN, got %d", len(got))
	}
	if rr.State.Frame.Active != "" {
		t.Fatalf("expected NaN to select nothing, got %q", rr.State.Frame.Active)
	}
}
