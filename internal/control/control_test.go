package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Envelope(t *testing.T) {
	data, err := Marshal(SetLevel{Level: 0.25})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"set_level","data":{"level":0.25}}`, string(data))

	data, err = Marshal(ClearLevel{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"clear_level"}`, string(data))
}

func TestUnmarshal_AllMessages(t *testing.T) {
	name := "loud"
	th := 0.4
	msgs := []Message{
		AddExpression{Name: "quiet", Threshold: 0.1, Bounce: &Bounce{Enabled: true, MaxVelocity: 6, TotalFrames: 20}, Asset: "q.png"},
		UpdateExpression{ID: "x", Name: &name, Threshold: &th},
		RemoveExpression{ID: "x"},
		MoveExpression{ID: "x", Index: 2},
		SetBackground{Color: "#000000"},
		SetInputDevice{Device: "hw:1"},
		ReloadCatalog{},
		SaveCatalog{},
		SetLevel{Level: 1.5},
		ClearLevel{},
	}

	for _, m := range msgs {
		data, err := Marshal(m)
		require.NoError(t, err)

		got, err := Unmarshal(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, m, got)
	}
}

func TestUnmarshal_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad json":      `{`,
		"unknown type":  `{"type":"explode"}`,
		"missing data":  `{"type":"set_level"}`,
		"wrong payload": `{"type":"set_level","data":{"level":"loud"}}`,
		"update no id":  `{"type":"update_expression","data":{"name":"x"}}`,
		"remove no id":  `{"type":"remove_expression","data":{}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(in))
			assert.Error(t, err)
		})
	}
}

// fakeDaemon answers each line with resp and records the decoded messages.
func fakeDaemon(t *testing.T, resp Response) (string, <-chan Message) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan Message, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		if !sc.Scan() {
			return
		}
		if m, err := Unmarshal(sc.Bytes()); err == nil {
			got <- m
		}
		_ = json.NewEncoder(conn).Encode(resp)
	}()
	return path, got
}

func TestSend(t *testing.T) {
	path, got := fakeDaemon(t, Response{Status: StatusOK})
	require.NoError(t, Send(context.Background(), path, SetInputDevice{Device: "usb"}))
	assert.Equal(t, SetInputDevice{Device: "usb"}, <-got)
}

func TestSend_ErrorResponse(t *testing.T) {
	path, _ := fakeDaemon(t, Response{Status: StatusError, Error: "unknown expression"})
	err := Send(context.Background(), path, RemoveExpression{ID: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown expression")
}

func TestRequest_ReturnsCreatedID(t *testing.T) {
	path, _ := fakeDaemon(t, Response{Status: StatusOK, ID: "4f1c"})
	resp, err := Request(context.Background(), path, AddExpression{Name: "Blink"})
	require.NoError(t, err)
	assert.Equal(t, "4f1c", resp.ID)
}

func TestSend_NoDaemon(t *testing.T) {
	err := Send(context.Background(), filepath.Join(t.TempDir(), "none.sock"), SaveCatalog{})
	assert.Error(t, err)
}
