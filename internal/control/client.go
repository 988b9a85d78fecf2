package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DefaultSocketPath is where the daemon listens unless configured otherwise.
const DefaultSocketPath = "/tmp/emapngtuber.sock"

const defaultTimeout = 5 * time.Second

// Send delivers m to the daemon listening on socketPath and waits for the
// response. A response with status "error" is returned as an error.
func Send(ctx context.Context, socketPath string, m Message) error {
	_, err := Request(ctx, socketPath, m)
	return err
}

// Request is Send that also returns the daemon's response.
func Request(ctx context.Context, socketPath string, m Message) (Response, error) {
	data, err := Marshal(m)
	if err != nil {
		return Response{}, fmt.Errorf("marshal message: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	_ = conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return Response{}, fmt.Errorf("send message: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != StatusOK {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}
