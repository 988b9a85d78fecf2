package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that executes side effects.
//   - Effect outcomes are turned into Events and fed back into the reducer.
//   - The audio level is sampled once per tick and travels on the Tick event.
//
// ============================================================================

// levelSampler returns the latest audio level.
type levelSampler func() float32

// runDaemon receives Events, emits Ticks at updateHz, reduces, executes
// commands and forwards broadcasts to out. It returns when ctx is canceled or
// events is closed.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	out chan<- StateBroadcast,
	fx *effects,
	state *DaemonState,
	cfg ReduceConfig,
	updateHz int,
	sample levelSampler,
	logger *slog.Logger,
) error {
	if state == nil {
		state = &DaemonState{}
	}
	if updateHz <= 0 {
		updateHz = defaultUpdateHz
	}
	if sample == nil {
		sample = func() float32 { return 0 }
	}

	ticker := time.NewTicker(time.Second / time.Duration(updateHz))
	defer ticker.Stop()

	lastTick := time.Now()

	// Explicit queues so effects never re-enter the reducer.
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		observeEvent(ev)
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bcasts []StateBroadcast) {
		for _, b := range bcasts {
			observeBroadcast(b)
			if out == nil {
				continue
			}
			select {
			case out <- b:
			default:
				logger.Warn("broadcast queue full, dropping", "type", broadcastName(b))
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			if fx != nil {
				fx.run(cmd, enqueueEvent)
			}
			flushEvents()
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return nil

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now

			start := time.Now()
			enqueueEvent(Tick{Now: now, Dt: dt, Level: sample()})
			flushEvents()
			tickDuration.Observe(time.Since(start).Seconds())
			flushCommands()
		}
	}
}

func broadcastName(b StateBroadcast) string {
	if ev, ok := convertBroadcast(b); ok {
		return ev.Type
	}
	return "unknown"
}
