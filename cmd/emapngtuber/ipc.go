package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/control"
	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The control socket lets ema-ctl and scripts edit the catalog and drive the
// level while the avatar is running.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "add_expression", "data": {...}}
//   - Server responds once the message is applied:
//     {"status": "ok"} or {"status": "error", "error": "msg"}
// ============================================================================

// runIPCServer serves the control socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	// Remove a stale socket left by a previous run.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection serves one client; it may send several messages.
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp control.Response) {
		if encErr := encoder.Encode(resp); encErr != nil {
			logger.Error("IPC failed to send response", "error", encErr)
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		msg, err := control.Unmarshal([]byte(line))
		if err != nil {
			respond(responseFor(nil, fmt.Errorf("parse message: %w", err)))
			continue
		}
		msg = assignID(msg)

		respond(responseFor(msg, dispatchControl(ctx, events, msg)))
	}

	logger.Debug("IPC connection closed")
}

// assignID gives new expressions an id when the client left it out.
func assignID(msg control.Message) control.Message {
	if m, ok := msg.(control.AddExpression); ok && m.ID == "" {
		m.ID = string(expression.NewID())
		return m
	}
	return msg
}

// responseFor builds the reply line. A successful add reports the id the
// expression was stored under.
func responseFor(msg control.Message, err error) control.Response {
	if err != nil {
		return control.Response{Status: control.StatusError, Error: err.Error()}
	}
	resp := control.Response{Status: control.StatusOK}
	if m, ok := msg.(control.AddExpression); ok {
		resp.ID = m.ID
	}
	return resp
}

// dispatchControl hands msg to the daemon and waits for the reducer's verdict.
func dispatchControl(ctx context.Context, events chan<- Event, msg control.Message) error {
	reply := make(chan error, 1)

	select {
	case events <- ControlEvent{Msg: msg, Reply: reply}:
	default:
		return errors.New("event queue full")
	}

	timer := time.NewTimer(controlReplyTimeout)
	defer timer.Stop()

	select {
	case err := <-reply:
		return err
	case <-timer.C:
		return errors.New("timed out waiting for daemon")
	case <-ctx.Done():
		return ctx.Err()
	}
}
