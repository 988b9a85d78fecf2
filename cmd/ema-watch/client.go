package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/BluSpring/EmaPNGTuberV4/internal/feed"
)

const (
	handshakeTimeout = 5 * time.Second
	pongWait         = 60 * time.Second
	maxBackoff       = 5 * time.Second
)

// ConnMsg reports a connection state change.
type ConnMsg struct {
	Connected bool
	Err       error
}

// decodeMessage turns one websocket frame into a typed message. Unknown
// types are returned as nil without error so newer daemons stay readable.
func decodeMessage(raw []byte) (tea.Msg, error) {
	var env feed.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		out tea.Msg
		err error
	)
	switch env.Type {
	case feed.TypeStateInit:
		var v feed.Snapshot
		err = json.Unmarshal(env.Data, &v)
		out = v
	case feed.TypeFrame:
		var v feed.Frame
		err = json.Unmarshal(env.Data, &v)
		out = v
	case feed.TypeExpressionChanged:
		var v feed.ExpressionChanged
		err = json.Unmarshal(env.Data, &v)
		out = v
	case feed.TypeCatalogChanged:
		var v feed.CatalogChanged
		err = json.Unmarshal(env.Data, &v)
		out = v
	case feed.TypeLevel:
		var v feed.Level
		err = json.Unmarshal(env.Data, &v)
		out = v
	case feed.TypeAudioStatus:
		var v feed.AudioStatus
		err = json.Unmarshal(env.Data, &v)
		out = v
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return out, nil
}

// follow keeps a connection to url open until ctx is canceled, reconnecting
// with backoff, and forwards decoded messages to out.
func follow(ctx context.Context, url string, out chan<- tea.Msg) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	backoff := 250 * time.Millisecond

	emit := func(m tea.Msg) {
		select {
		case out <- m:
		case <-ctx.Done():
		}
	}

	for ctx.Err() == nil {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			emit(ConnMsg{Err: err})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 250 * time.Millisecond
		emit(ConnMsg{Connected: true})

		err = readLoop(ctx, conn, emit)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		emit(ConnMsg{Err: err})
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, emit func(tea.Msg)) error {
	// Closing the connection unblocks ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	// The daemon pings every 20s; any traffic extends the deadline.
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := decodeMessage(raw)
		if err != nil {
			emit(ConnMsg{Connected: true, Err: err})
			continue
		}
		if msg != nil {
			emit(msg)
		}
	}
}
