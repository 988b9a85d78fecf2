package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BluSpring/EmaPNGTuberV4/internal/feed"
)

func encode(t *testing.T, typ string, data any) []byte {
	t.Helper()
	raw, err := feed.Encode(typ, time.Now(), data)
	require.NoError(t, err)
	return raw
}

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage(encode(t, feed.TypeFrame, feed.Frame{Active: "talk", Offset: 3}))
	require.NoError(t, err)
	assert.Equal(t, feed.Frame{Active: "talk", Offset: 3}, msg)

	msg, err = decodeMessage(encode(t, feed.TypeLevel, feed.Level{Overridden: true}))
	require.NoError(t, err)
	assert.Equal(t, feed.Level{Overridden: true}, msg)

	msg, err = decodeMessage([]byte(`{"type":"something_new","data":{}}`))
	require.NoError(t, err)
	assert.Nil(t, msg)

	_, err = decodeMessage([]byte(`{"type":"frame","data":{"offset":"high"}}`))
	assert.Error(t, err)

	_, err = decodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestModel_Apply(t *testing.T) {
	m := NewModel("ws://x/ws", make(chan tea.Msg))

	level := 0.4
	m = m.apply(feed.Snapshot{
		Active:          "idle",
		Level:           &level,
		BackgroundColor: "#00ff00",
		Expressions: []feed.Expression{
			{ID: "idle", Name: "Idle", Threshold: 0},
			{ID: "talk", Name: "Talk", Threshold: 0.3},
		},
	})
	assert.Equal(t, "idle", m.Active)
	require.NotNil(t, m.Level)
	assert.InDelta(t, 0.4, *m.Level, 1e-9)

	m = m.apply(feed.Frame{Active: "talk", Offset: 30})
	assert.Equal(t, "talk", m.Active)
	assert.Equal(t, 30.0, m.Offset)

	m = m.apply(feed.ExpressionChanged{Active: ""})
	assert.Empty(t, m.Active)
	assert.Zero(t, m.Offset)

	m = m.apply(feed.CatalogChanged{BackgroundColor: "#000000", Expressions: nil})
	assert.Equal(t, "#000000", m.Background)
	assert.Empty(t, m.Expressions)

	m = m.apply(feed.AudioStatus{Backend: "sine", Running: true})
	require.NotNil(t, m.Audio)
	assert.True(t, m.Audio.Running)

	m = m.apply(ConnMsg{Err: errors.New("refused")})
	assert.False(t, m.Connected)
	assert.Contains(t, m.View(), "refused")
}

func TestModel_QuitKeys(t *testing.T) {
	m := NewModel("ws://x/ws", make(chan tea.Msg))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_ViewShowsActiveExpression(t *testing.T) {
	m := NewModel("ws://x/ws", make(chan tea.Msg))
	m.Connected = true
	m = m.apply(feed.Snapshot{
		Active: "talk",
		Expressions: []feed.Expression{
			{ID: "idle", Name: "Idle", Threshold: 0},
			{ID: "talk", Name: "Talk", Threshold: 0.3, Bounce: &feed.Bounce{MaxVelocity: 12, TotalFrames: 30}},
		},
	})

	view := m.View()
	assert.Contains(t, view, "Talk")
	assert.Contains(t, view, "bounce=12:30")
	assert.Contains(t, view, "silence")
	assert.True(t, strings.Contains(view, "audio: unknown"))
}

func TestMeterRange(t *testing.T) {
	m := Model{Expressions: []feed.Expression{{Threshold: -40}, {Threshold: -20}}}
	lo, hi := m.meterRange()
	assert.Equal(t, dbfsFloor, lo)
	assert.Equal(t, 0.0, hi)

	m = Model{Expressions: []feed.Expression{{Threshold: 0}, {Threshold: 2}}}
	lo, hi = m.meterRange()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 2.5, hi)

	assert.Equal(t, 0.0, fraction(-100, dbfsFloor, 0))
	assert.Equal(t, 1.0, fraction(5, 0, 1))
	assert.Equal(t, 0.5, fraction(-30, dbfsFloor, 0))
}

func TestLiftLines(t *testing.T) {
	assert.Equal(t, 0, liftLines(0))
	assert.Equal(t, 0, liftLines(-5))
	assert.Equal(t, 2, liftLines(30))
	assert.Equal(t, stageHeight, liftLines(1e6))
}
