package main

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BluSpring/EmaPNGTuberV4/internal/feed"
)

const (
	meterWidth    = 40
	stageHeight   = 8
	dbfsFloor     = -60.0
	pixelsPerLine = 12.0
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	meterOnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	markerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	avatarStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Model is the Bubbletea model of the watcher.
type Model struct {
	URL       string
	Connected bool
	Err       error

	Active      string
	Offset      float64
	Level       *float64
	Overridden  bool
	Background  string
	InputDevice string
	Expressions []feed.Expression
	Audio       *feed.AudioStatus

	Msgs chan tea.Msg

	Width  int
	Height int
}

// NewModel creates a model fed by msgs.
func NewModel(url string, msgs chan tea.Msg) Model {
	return Model{URL: url, Msgs: msgs}
}

func waitForMsg(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// Init starts listening for feed messages.
func (m Model) Init() tea.Cmd {
	return waitForMsg(m.Msgs)
}

// Update applies one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil
	}

	m = m.apply(msg)
	return m, waitForMsg(m.Msgs)
}

// apply folds a feed message into the model.
func (m Model) apply(msg tea.Msg) Model {
	switch msg := msg.(type) {
	case ConnMsg:
		m.Connected = msg.Connected
		m.Err = msg.Err

	case feed.Snapshot:
		m.Active = msg.Active
		m.Offset = msg.Offset
		m.Level = msg.Level
		m.Overridden = msg.LevelOverridden
		m.Background = msg.BackgroundColor
		m.InputDevice = msg.InputDevice
		m.Expressions = msg.Expressions
		m.Audio = msg.Audio

	case feed.Frame:
		m.Active = msg.Active
		m.Offset = msg.Offset

	case feed.ExpressionChanged:
		m.Active = msg.Active
		if msg.Active == "" {
			m.Offset = 0
		}

	case feed.CatalogChanged:
		m.Background = msg.BackgroundColor
		m.InputDevice = msg.InputDevice
		m.Expressions = msg.Expressions

	case feed.Level:
		m.Level = msg.Level
		m.Overridden = msg.Overridden

	case feed.AudioStatus:
		a := msg
		m.Audio = &a
	}
	return m
}

func (m Model) activeExpression() (feed.Expression, bool) {
	for _, e := range m.Expressions {
		if e.ID == m.Active {
			return e, true
		}
	}
	return feed.Expression{}, false
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ema-watch"))
	b.WriteString(" ")
	if m.Connected {
		b.WriteString(labelStyle.Render(m.URL))
	} else {
		b.WriteString(errorStyle.Render("disconnected from " + m.URL))
	}
	b.WriteString("\n")
	if m.Err != nil {
		b.WriteString(errorStyle.Render(m.Err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.viewStage())
	b.WriteString("\n\n")
	b.WriteString(m.viewMeter())
	b.WriteString("\n\n")
	b.WriteString(m.viewCatalog())
	b.WriteString("\n")
	b.WriteString(m.viewAudio())
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

// viewStage draws the avatar as a box lifted by the bounce offset.
func (m Model) viewStage() string {
	label := "(nothing)"
	if e, ok := m.activeExpression(); ok {
		label = e.Name
		if label == "" {
			label = e.ID
		}
	} else if m.Active != "" {
		label = m.Active
	}

	box := avatarStyle
	if m.Background != "" {
		box = box.BorderForeground(lipgloss.Color(m.Background))
	}
	avatar := box.Render(label)

	lift := liftLines(m.Offset)
	lines := strings.Split(avatar, "\n")
	pad := stageHeight - len(lines) - lift
	if pad < 0 {
		pad = 0
	}

	var b strings.Builder
	b.WriteString(strings.Repeat("\n", pad))
	b.WriteString(avatar)
	b.WriteString(strings.Repeat("\n", lift))
	b.WriteString(labelStyle.Render(fmt.Sprintf("offset %.1fpx", m.Offset)))
	return b.String()
}

func liftLines(offset float64) int {
	if offset <= 0 || math.IsNaN(offset) {
		return 0
	}
	n := int(offset / pixelsPerLine)
	return min(n, stageHeight)
}

// viewMeter draws the level bar with a marker at every threshold.
func (m Model) viewMeter() string {
	lo, hi := m.meterRange()

	bar := make([]string, meterWidth)
	filled := 0
	if m.Level != nil {
		filled = int(math.Round(fraction(*m.Level, lo, hi) * meterWidth))
	}
	for i := range bar {
		if i < filled {
			bar[i] = meterOnStyle.Render("█")
		} else {
			bar[i] = labelStyle.Render("░")
		}
	}
	for _, e := range m.Expressions {
		pos := int(math.Round(fraction(e.Threshold, lo, hi) * (meterWidth - 1)))
		bar[pos] = markerStyle.Render("|")
	}

	level := "silence"
	if m.Level != nil {
		level = fmt.Sprintf("%.3f", *m.Level)
	}
	if m.Overridden {
		level += " (forced)"
	}
	return labelStyle.Render("level ") + strings.Join(bar, "") + " " + level
}

// meterRange picks a scale that fits the catalog: dBFS when any threshold
// is negative, linear otherwise.
func (m Model) meterRange() (lo, hi float64) {
	hi = 1
	for _, e := range m.Expressions {
		if e.Threshold < 0 {
			return dbfsFloor, 0
		}
		hi = math.Max(hi, e.Threshold*1.25)
	}
	return 0, hi
}

func fraction(v, lo, hi float64) float64 {
	if hi <= lo || math.IsNaN(v) {
		return 0
	}
	f := (v - lo) / (hi - lo)
	return math.Max(0, math.Min(1, f))
}

func (m Model) viewCatalog() string {
	if len(m.Expressions) == 0 {
		return labelStyle.Render("no expressions")
	}
	var b strings.Builder
	for _, e := range m.Expressions {
		name := e.Name
		if name == "" {
			name = e.ID
		}
		line := fmt.Sprintf("%-16s th=%-8g atk=%-6g rel=%-6g", name, e.Threshold, e.AttackMS, e.ReleaseMS)
		if e.Bounce != nil {
			line += fmt.Sprintf(" bounce=%g:%d", e.Bounce.MaxVelocity, e.Bounce.TotalFrames)
		}
		if e.ID == m.Active {
			b.WriteString(activeStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewAudio() string {
	if m.Audio == nil {
		return labelStyle.Render("audio: unknown")
	}
	a := m.Audio
	state := activeStyle.Render("running")
	if !a.Running {
		state = errorStyle.Render("stopped")
	}
	s := fmt.Sprintf("%s %s/%s %s", labelStyle.Render("audio:"), a.Backend, a.Device, state)
	if a.Error != "" {
		s += " " + errorStyle.Render(a.Error)
	}
	return s
}
