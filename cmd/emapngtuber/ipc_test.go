package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/control"
)

// startIPC runs the control socket with a fake daemon that answers every
// ControlEvent with reply(msg).
func startIPC(t *testing.T, reply func(control.Message) error) (string, <-chan control.Message) {
	t.Helper()

	// Unix socket paths are length-limited; keep it short.
	dir, err := os.MkdirTemp("", "ema")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "ctl.sock")

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 8)
	seen := make(chan control.Message, 8)
	done := make(chan error, 1)

	go func() { done <- runIPCServer(ctx, socket, events, quietLogger()) }()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				ce, ok := ev.(ControlEvent)
				if !ok {
					continue
				}
				seen <- ce.Msg
				if reply != nil {
					ce.Reply <- reply(ce.Msg)
				}
			}
		}
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("ipc server: %v", err)
			}
		case <-time.After(time.Second):
			t.Errorf("ipc server did not stop")
		}
	})

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, "socket not created")
	return socket, seen
}

func TestIPC_AssignsIDAndReportsOK(t *testing.T) {
	socket, seen := startIPC(t, func(control.Message) error { return nil })

	resp, err := control.Request(context.Background(), socket, control.AddExpression{Name: "Blink", Threshold: 0.2})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := <-seen
	add, ok := msg.(control.AddExpression)
	if !ok {
		t.Fatalf("expected AddExpression, got %T", msg)
	}
	if add.ID == "" {
		t.Fatalf("expected the server to assign an id")
	}
	if add.Name != "Blink" {
		t.Fatalf("expected name Blink, got %q", add.Name)
	}
	if resp.ID != add.ID {
		t.Fatalf("expected the response to carry id %q, got %q", add.ID, resp.ID)
	}
}

func TestResponseFor(t *testing.T) {
	if got := responseFor(control.AddExpression{ID: "a1"}, nil); got.Status != control.StatusOK || got.ID != "a1" {
		t.Fatalf("unexpected add response: %+v", got)
	}
	if got := responseFor(control.AddExpression{ID: "a1"}, errDuplicateExpression); got.Status != control.StatusError || got.ID != "" {
		t.Fatalf("expected failed add to carry no id, got %+v", got)
	}
	if got := responseFor(control.ClearLevel{}, nil); got.ID != "" {
		t.Fatalf("expected no id for other messages, got %+v", got)
	}
}

func TestIPC_ReducerErrorReachesClient(t *testing.T) {
	socket, _ := startIPC(t, func(control.Message) error { return errUnknownExpression })

	err := control.Send(context.Background(), socket, control.RemoveExpression{ID: "nope"})
	if err == nil || !strings.Contains(err.Error(), errUnknownExpression.Error()) {
		t.Fatalf("expected unknown expression error, got %v", err)
	}
}

func TestIPC_TimesOutWithoutReply(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the control reply timeout")
	}
	socket, _ := startIPC(t, nil)

	err := control.Send(context.Background(), socket, control.ClearLevel{})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestAssignID_LeavesOtherMessagesAlone(t *testing.T) {
	in := control.AddExpression{ID: "keep"}
	if got := assignID(in).(control.AddExpression); got.ID != "keep" {
		t.Fatalf("expected existing id kept, got %q", got.ID)
	}
	rm := control.RemoveExpression{ID: "x"}
	if got := assignID(rm); got != control.Message(rm) {
		t.Fatalf("expected message unchanged, got %+v", got)
	}
}
