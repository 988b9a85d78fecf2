package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BluSpring/EmaPNGTuberV4/internal/feed"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
//   - The Hub tracks connected clients.
//   - Each client has its own write pump so one slow viewer cannot stall others.
//   - The broadcaster reads reducer-emitted broadcasts and fans them out.
//
// DaemonState is never shared with these goroutines. The initial "state_init"
// goes through the event loop as a RequestStateSnapshot. Slow clients are
// disconnected when their send buffer fills.
//
// ============================================================================

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero means 32.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size. Zero means 128.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			wsClients.Set(float64(n))
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
	wsClients.Set(0)
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)
		wsClients.Set(float64(n))

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsLevelCoalesceWindow is the minimum spacing of "level" messages. Levels
// change every tick; viewers only need a meter.
const wsLevelCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a websocket close code and text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, cause string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+cause+")", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

// readPump discards incoming messages to detect disconnects and handle control
// frames. It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP Handler
// ============================================================================

type StateServer struct {
	logger *slog.Logger
	hub    *Hub

	// Initial snapshots are requested through the event loop.
	events chan<- Event
}

// NewStateServer constructs the WS state server components. Register it on a
// mux, then start hub.Run(ctx) and RunBroadcaster.
func NewStateServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *StateServer {
	return &StateServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

var upgrader = websocket.Upgrader{
	// Viewers are local overlays and browser sources with arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades and registers a client, then sends state_init.
func (s *StateServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach it.
	s.hub.register <- client

	// The pumps must outlive the request context, which net/http cancels as
	// soon as this handler returns.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.events == nil {
		return
	}

	reply := make(chan StateSnapshot, 1)
	select {
	case <-r.Context().Done():
		return
	case s.events <- RequestStateSnapshot{Reply: reply}:
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	select {
	case <-waitCtx.Done():
		if !errors.Is(waitCtx.Err(), context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", waitCtx.Err())
		}
		return

	case snap := <-reply:
		initMsg, err := feed.Encode(feed.TypeStateInit, time.Now().UTC(), snapshotPayload(snap))
		if err != nil {
			s.logger.Warn("ws snapshot marshal failed", "error", err)
			return
		}
		// If the client is already slow, disconnect it.
		select {
		case client.send <- initMsg:
		default:
			s.hub.unregister <- client
		}
	}
}

func snapshotPayload(snap StateSnapshot) feed.Snapshot {
	p := feed.Snapshot{
		Active:          string(snap.Active),
		Offset:          snap.Offset,
		Level:           feed.LevelValue(snap.Level),
		LevelOverridden: snap.LevelOverridden,
		BackgroundColor: snap.BackgroundColor,
		InputDevice:     snap.InputDevice,
		Expressions:     feed.FromExpressions(snap.Expressions),
	}
	if snap.AudioKnown {
		a := audioStatusPayload(snap.Audio.Backend, snap.Audio.Device, snap.Audio.Running, snap.Audio.Err)
		p.Audio = &a
	}
	return p
}

func audioStatusPayload(backend, device string, running bool, err error) feed.AudioStatus {
	a := feed.AudioStatus{Backend: backend, Device: device, Running: running}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads reducer-emitted broadcasts, marshals them, and hands
// them to the hub. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Levels are flushed at most once per window, latest wins. The timer is
	// not reset by new levels so a steady stream still gets through.
	var pendingLevel *wsOutboundEvent
	var levelTimer *time.Timer
	var levelTimerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		msg, err := feed.Encode(ev.Type, ev.At.UTC(), ev.Data)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPendingLevel := func() {
		if pendingLevel == nil {
			return
		}
		emit(*pendingLevel)
		pendingLevel = nil
	}

	stopLevelTimer := func() {
		if levelTimer != nil {
			levelTimer.Stop()
		}
		levelTimer = nil
		levelTimerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingLevel()
			stopLevelTimer()
			return

		case <-levelTimerCh:
			flushPendingLevel()
			stopLevelTimer()

		case b, ok := <-src:
			if !ok {
				flushPendingLevel()
				stopLevelTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == feed.TypeLevel {
				copyEv := ev
				if levelTimer == nil {
					// First level in a quiet period goes out immediately.
					emit(copyEv)
					levelTimer = time.NewTimer(wsLevelCoalesceWindow)
					levelTimerCh = levelTimer.C
					continue
				}
				pendingLevel = &copyEv
				continue
			}

			emit(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastFrame:
		return wsOutboundEvent{
			Type: feed.TypeFrame,
			Data: feed.Frame{Active: string(ev.Active), Offset: ev.Offset},
			At:   ev.At,
		}, true

	case BroadcastExpressionChanged:
		return wsOutboundEvent{
			Type: feed.TypeExpressionChanged,
			Data: feed.ExpressionChanged{Active: string(ev.Active), Name: ev.Name, Asset: ev.Asset},
			At:   ev.At,
		}, true

	case BroadcastCatalogChanged:
		return wsOutboundEvent{
			Type: feed.TypeCatalogChanged,
			Data: feed.CatalogChanged{
				BackgroundColor: ev.BackgroundColor,
				InputDevice:     ev.InputDevice,
				Expressions:     feed.FromExpressions(ev.Expressions),
			},
			At: ev.At,
		}, true

	case BroadcastLevel:
		return wsOutboundEvent{
			Type: feed.TypeLevel,
			Data: feed.Level{Level: feed.LevelValue(ev.Level), Overridden: ev.Overridden},
			At:   ev.At,
		}, true

	case BroadcastAudioStatus:
		st := ev.Status
		return wsOutboundEvent{
			Type: feed.TypeAudioStatus,
			Data: audioStatusPayload(st.Backend, st.Device, st.Running, st.Err),
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
