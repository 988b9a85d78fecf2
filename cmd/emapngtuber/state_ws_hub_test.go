package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/audio"
	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
	"github.com/BluSpring/EmaPNGTuberV4/internal/feed"
)

// These tests exercise the hub without network I/O. Clients carry a nil
// websocket.Conn; the hub guards against nil when disconnecting.

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	if hub.Len() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.Len())
	}

	msg := []byte(`{"type":"frame","data":{"active":"talk","offset":12.5}}`)

	// BroadcastBytes may drop under scheduling pressure; go through the
	// channel for deterministic delivery.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}

	// Shutdown closes every client.
	for _, c := range []*Client{c1, c2} {
		if _, ok := <-c.send; ok {
			t.Fatalf("expected %s send channel closed on shutdown", c.remoteAddr)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	go hub.Run(ctx)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerAndWait(t, hub, slow)
	registerAndWait(t, hub, fast)

	// Pre-fill the slow client's buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"level","data":{"level":0.4,"overridden":false}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	waitUntil(t, 500*time.Millisecond, func() bool { return hub.Len() == 1 }, "expected one client left")
}

func decodeEnvelope(t *testing.T, raw []byte) feed.Envelope {
	t.Helper()
	var env feed.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, raw)
	}
	return env
}

func TestRunBroadcaster_CoalescesLevels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 16, 16)
	go hub.Run(ctx)

	c := newTestClient(hub, "viewer", 16)
	registerAndWait(t, hub, c)

	src := make(chan StateBroadcast, 16)
	go RunBroadcaster(ctx, hub, src, slog.Default())

	now := time.Now()
	src <- BroadcastLevel{Level: 0.1, At: now}
	src <- BroadcastLevel{Level: 0.2, At: now}
	src <- BroadcastLevel{Level: 0.3, At: now}
	src <- BroadcastFrame{Active: "talk", Offset: 3, At: now}

	var got []feed.Envelope
	deadline := time.After(time.Second)
	for len(got) < 3 {
		select {
		case raw := <-c.send:
			got = append(got, decodeEnvelope(t, raw))
		case <-deadline:
			t.Fatalf("timeout; got %d messages", len(got))
		}
	}

	// First level goes out at once, the frame is not delayed, and only the
	// latest of the coalesced levels is flushed after the window.
	if got[0].Type != feed.TypeLevel || got[1].Type != feed.TypeFrame || got[2].Type != feed.TypeLevel {
		t.Fatalf("unexpected order: %s, %s, %s", got[0].Type, got[1].Type, got[2].Type)
	}

	var lvl feed.Level
	if err := json.Unmarshal(got[2].Data, &lvl); err != nil {
		t.Fatalf("decode level: %v", err)
	}
	if lvl.Level == nil || float32(*lvl.Level) != float32(0.3) {
		t.Fatalf("expected the coalesced level to be the latest (0.3), got %v", lvl.Level)
	}

	select {
	case raw := <-c.send:
		t.Fatalf("unexpected extra message %s", raw)
	case <-time.After(2 * wsLevelCoalesceWindow):
	}
}

func TestConvertBroadcast(t *testing.T) {
	at := time.Unix(5000, 0).UTC()

	ev, ok := convertBroadcast(BroadcastExpressionChanged{Active: "talk", Name: "Talk", Asset: "talk.png", At: at})
	if !ok || ev.Type != feed.TypeExpressionChanged {
		t.Fatalf("unexpected conversion: %+v", ev)
	}
	if p := ev.Data.(feed.ExpressionChanged); p.Active != "talk" || p.Asset != "talk.png" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	ev, ok = convertBroadcast(BroadcastCatalogChanged{
		Expressions: []expression.Expression{
			{ID: "a", Threshold: 0.2, Bounce: &expression.Bounce{MaxVelocity: 4, TotalFrames: 10}},
		},
		BackgroundColor: "#00ff00",
		At:              at,
	})
	if !ok || ev.Type != feed.TypeCatalogChanged {
		t.Fatalf("unexpected conversion: %+v", ev)
	}
	cat := ev.Data.(feed.CatalogChanged)
	if len(cat.Expressions) != 1 || cat.Expressions[0].Bounce == nil || cat.Expressions[0].Bounce.TotalFrames != 10 {
		t.Fatalf("unexpected catalog payload: %+v", cat)
	}

	ev, ok = convertBroadcast(BroadcastAudioStatus{
		Status: audio.Status{Backend: "arecord", Device: "hw:0", Err: errors.New("device busy")},
		At:     at,
	})
	if !ok || ev.Type != feed.TypeAudioStatus {
		t.Fatalf("unexpected conversion: %+v", ev)
	}
	if st := ev.Data.(feed.AudioStatus); st.Error != "device busy" || st.Running {
		t.Fatalf("unexpected audio payload: %+v", st)
	}

	if _, ok := convertBroadcast(nil); ok {
		t.Fatalf("expected nil broadcast to be skipped")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
