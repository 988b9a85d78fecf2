package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsDialAttempts   = 10
	wsDialRetryDelay = 500 * time.Millisecond
	wsReadTimeout    = 5 * time.Second
)

// wsLevelMessage is the text-frame format of a remote feed that measures the
// level itself. Unit is "rss", "rms", "dbfs" or "linear"; when omitted the
// level must already be in the daemon's level mode.
type wsLevelMessage struct {
	Level float32 `json:"level"`
	Unit  string  `json:"unit,omitempty"`
}

// levelChunk turns a text frame into a pre-measured chunk.
func (msg wsLevelMessage) levelChunk() (Chunk, error) {
	c := Chunk{Level: msg.Level, HasLevel: true}
	switch msg.Unit {
	case "":
	case "linear":
		c.LevelMode = LevelRMS
	default:
		mode, err := ParseLevelMode(msg.Unit)
		if err != nil {
			return Chunk{}, err
		}
		c.LevelMode = mode
	}
	return c, nil
}

// webSocketSource receives audio from a remote capture agent. Binary frames
// carry PCM16 little-endian samples; text frames carry {"level": x, "unit": u}.
type webSocketSource struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWebSocketSource(cfg Config, logger *slog.Logger) *webSocketSource {
	cfg.Device = cfg.URL
	return &webSocketSource{cfg: cfg, logger: logger}
}

func (s *webSocketSource) Start(ctx context.Context) error {
	if _, err := url.Parse(s.cfg.URL); err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < wsDialAttempts; attempt++ {
		conn, err := s.dial(ctx)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = conn.Close()
				return io.ErrClosedPipe
			}
			s.conn = conn
			s.mu.Unlock()
			s.logger.Info("audio source started", "backend", BackendWebSocket, "url", s.cfg.URL)
			return nil
		}
		lastErr = err
		s.logger.Warn("audio feed connection failed; retrying...", "error", err, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsDialRetryDelay):
		}
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", wsDialAttempts, lastErr)
}

func (s *webSocketSource) dial(ctx context.Context) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.DialContext(ctx, s.cfg.URL, nil)
	return conn, err
}

func (s *webSocketSource) Read(ctx context.Context) (Chunk, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return Chunk{}, errors.New("audio source not started")
	}

	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Chunk{}, ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return Chunk{}, io.EOF
			}
			return Chunk{}, fmt.Errorf("read audio feed: %w", err)
		}

		switch mt {
		case websocket.BinaryMessage:
			var c Chunk
			c.FromBytes(data, s.cfg.SampleRate, s.cfg.Channels)
			return c, nil
		case websocket.TextMessage:
			var msg wsLevelMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Debug("ignoring malformed audio feed message", "error", err)
				continue
			}
			c, err := msg.levelChunk()
			if err != nil {
				s.logger.Debug("ignoring audio feed message with unknown unit", "unit", msg.Unit, "error", err)
				continue
			}
			return c, nil
		}
	}
}

func (s *webSocketSource) Name() string { return string(BackendWebSocket) }

func (s *webSocketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
