package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"

	"github.com/BluSpring/EmaPNGTuberV4/internal/control"
	"github.com/BluSpring/EmaPNGTuberV4/internal/feed"
)

// ============================================================================
// ema-ctl - Command-line control client
// ============================================================================
// Sends control messages to a running emapngtuber over its Unix socket.
//
// Usage:
//   ema-ctl add Talk --threshold 0.3 --asset talk.png --bounce 12:30
//   ema-ctl update <id> --release 150
//   ema-ctl remove <id>
//   ema-ctl move <id> 0
//   ema-ctl background '#00ff00'
//   ema-ctl device hw:1
//   ema-ctl set-level 0.8 / ema-ctl clear-level
//   ema-ctl reload / ema-ctl save
//   ema-ctl list
// ============================================================================

var version = "0.4.0"

// Globals are shared by every subcommand.
type Globals struct {
	Socket  string           `short:"s" default:"${socket}" help:"Unix domain socket path"`
	HTTP    string           `default:"${http}" help:"Daemon HTTP address (for list)"`
	Timeout time.Duration    `default:"5s" help:"How long to wait for the daemon"`
	Version kong.VersionFlag `short:"v" help:"Print version and exit"`
}

func (g *Globals) send(m control.Message) error {
	_, err := g.request(m)
	return err
}

func (g *Globals) request(m control.Message) (control.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()
	return control.Request(ctx, g.Socket, m)
}

// ExpressionFlags are the optional expression fields. Empty means unchanged.
type ExpressionFlags struct {
	Threshold string `help:"Activation threshold in the daemon's level unit"`
	Attack    string `help:"Attack time in milliseconds"`
	Release   string `help:"Release time in milliseconds"`
	Bounce    string `help:"Bounce as VELOCITY:FRAMES, or 'off'"`
	Asset     string `help:"Image path, relative to the assets directory"`
}

func parseFloatFlag(name, v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &f, nil
}

func parseBounce(v string) (*control.Bounce, error) {
	if v == "" {
		return nil, nil
	}
	if strings.EqualFold(v, "off") {
		return &control.Bounce{Enabled: false}, nil
	}
	vel, frames, ok := strings.Cut(v, ":")
	if !ok {
		return nil, fmt.Errorf("--bounce: expected VELOCITY:FRAMES, got %q", v)
	}
	mv, err := strconv.ParseFloat(vel, 32)
	if err != nil {
		return nil, fmt.Errorf("--bounce velocity: %w", err)
	}
	n, err := strconv.ParseInt(frames, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("--bounce frames: %w", err)
	}
	return &control.Bounce{Enabled: true, MaxVelocity: float32(mv), TotalFrames: int32(n)}, nil
}

type parsedFlags struct {
	threshold, attack, release *float64
	bounce                     *control.Bounce
}

func (f ExpressionFlags) parse() (parsedFlags, error) {
	var p parsedFlags
	var err error
	if p.threshold, err = parseFloatFlag("threshold", f.Threshold); err != nil {
		return p, err
	}
	if p.attack, err = parseFloatFlag("attack", f.Attack); err != nil {
		return p, err
	}
	if p.release, err = parseFloatFlag("release", f.Release); err != nil {
		return p, err
	}
	if p.bounce, err = parseBounce(f.Bounce); err != nil {
		return p, err
	}
	return p, nil
}

func valueOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// ============================================================================
// Commands
// ============================================================================

type AddCmd struct {
	Name string `arg:"" help:"Display name"`
	ID   string `help:"Expression id (generated by the daemon when empty)"`
	ExpressionFlags
}

func (c *AddCmd) Run(g *Globals) error {
	p, err := c.parse()
	if err != nil {
		return err
	}
	resp, err := g.request(control.AddExpression{
		ID:        c.ID,
		Name:      c.Name,
		Threshold: valueOr(p.threshold),
		AttackMS:  valueOr(p.attack),
		ReleaseMS: valueOr(p.release),
		Bounce:    p.bounce,
		Asset:     c.Asset,
	})
	if err != nil {
		return err
	}
	fmt.Println(resp.ID)
	return nil
}

type UpdateCmd struct {
	ID   string `arg:"" help:"Expression id"`
	Name string `help:"New display name"`
	ExpressionFlags
}

func (c *UpdateCmd) Run(g *Globals) error {
	p, err := c.parse()
	if err != nil {
		return err
	}
	m := control.UpdateExpression{
		ID:        c.ID,
		Threshold: p.threshold,
		AttackMS:  p.attack,
		ReleaseMS: p.release,
		Bounce:    p.bounce,
	}
	if c.Name != "" {
		m.Name = &c.Name
	}
	if c.Asset != "" {
		m.Asset = &c.Asset
	}
	return g.send(m)
}

type RemoveCmd struct {
	ID string `arg:"" help:"Expression id"`
}

func (c *RemoveCmd) Run(g *Globals) error {
	return g.send(control.RemoveExpression{ID: c.ID})
}

type MoveCmd struct {
	ID    string `arg:"" help:"Expression id"`
	Index int    `arg:"" help:"New position, starting at 0"`
}

func (c *MoveCmd) Run(g *Globals) error {
	return g.send(control.MoveExpression{ID: c.ID, Index: c.Index})
}

type BackgroundCmd struct {
	Color string `arg:"" help:"Background color as #rrggbb"`
}

func (c *BackgroundCmd) Run(g *Globals) error {
	return g.send(control.SetBackground{Color: c.Color})
}

type DeviceCmd struct {
	Device string `arg:"" help:"Audio input device"`
}

func (c *DeviceCmd) Run(g *Globals) error {
	return g.send(control.SetInputDevice{Device: c.Device})
}

type SetLevelCmd struct {
	Level string `arg:"" help:"Level to force (use -- before negative dBFS values)"`
}

func (c *SetLevelCmd) Run(g *Globals) error {
	v, err := strconv.ParseFloat(c.Level, 32)
	if err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	return g.send(control.SetLevel{Level: float32(v)})
}

type ClearLevelCmd struct{}

func (c *ClearLevelCmd) Run(g *Globals) error { return g.send(control.ClearLevel{}) }

type ReloadCmd struct{}

func (c *ReloadCmd) Run(g *Globals) error { return g.send(control.ReloadCatalog{}) }

type SaveCmd struct{}

func (c *SaveCmd) Run(g *Globals) error { return g.send(control.SaveCatalog{}) }

type ListCmd struct {
	JSON bool `help:"Print the raw snapshot"`
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func (c *ListCmd) Run(g *Globals) error {
	client := &http.Client{Timeout: g.Timeout}
	resp, err := client.Get("http://" + g.HTTP + "/state")
	if err != nil {
		return fmt.Errorf("fetch state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch state: %s", resp.Status)
	}

	var snap feed.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Println(headerStyle.Render("background"), snap.BackgroundColor,
		headerStyle.Render("device"), orDash(snap.InputDevice))
	for i, e := range snap.Expressions {
		line := fmt.Sprintf("%2d  %-36s  %-16s  th=%-8g atk=%-6g rel=%-6g %s",
			i, e.ID, e.Name, e.Threshold, e.AttackMS, e.ReleaseMS, bounceString(e.Bounce))
		if e.ID == snap.Active {
			fmt.Println(activeStyle.Render("* " + line))
		} else {
			fmt.Println("  " + line)
		}
		if e.Asset != "" {
			fmt.Println(dimStyle.Render("      " + e.Asset))
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func bounceString(b *feed.Bounce) string {
	if b == nil {
		return dimStyle.Render("no bounce")
	}
	return fmt.Sprintf("bounce=%g:%d", b.MaxVelocity, b.TotalFrames)
}

// CLI is the ema-ctl command tree.
type CLI struct {
	Globals

	Add        AddCmd        `cmd:"" help:"Add an expression"`
	Update     UpdateCmd     `cmd:"" help:"Change fields of an expression"`
	Remove     RemoveCmd     `cmd:"" aliases:"rm" help:"Remove an expression"`
	Move       MoveCmd       `cmd:"" help:"Reorder an expression"`
	Background BackgroundCmd `cmd:"" aliases:"bg" help:"Set the background color"`
	Device     DeviceCmd     `cmd:"" help:"Switch the audio input device"`
	SetLevel   SetLevelCmd   `cmd:"" name:"set-level" help:"Force the level fed to the engine"`
	ClearLevel ClearLevelCmd `cmd:"" name:"clear-level" help:"Return to the live audio level"`
	Reload     ReloadCmd     `cmd:"" help:"Re-read the catalog file"`
	Save       SaveCmd       `cmd:"" help:"Write the catalog file now"`
	List       ListCmd       `cmd:"" aliases:"ls" help:"Show the catalog and the active expression"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("ema-ctl"),
		kong.Description("Control a running emapngtuber"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
			"socket":  control.DefaultSocketPath,
			"http":    "127.0.0.1:7788",
		},
	)

	err := ctx.Run(&cli.Globals)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("daemon did not answer within %s", cli.Timeout)
	}
	ctx.FatalIfErrorf(err)
}
