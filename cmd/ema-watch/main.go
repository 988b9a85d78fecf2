package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BluSpring/EmaPNGTuberV4/internal/feed"
)

var version = "0.4.0"

// CLI defines the command-line interface.
type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Print version and exit"`
	URL     string           `short:"u" default:"ws://127.0.0.1:7788/ws" help:"State websocket URL"`
	Plain   bool             `help:"Print one line per message instead of the live view"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("ema-watch"),
		kong.Description("Live view of a running emapngtuber"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgs := make(chan tea.Msg, 100)
	go follow(ctx, cli.URL, msgs)

	if cli.Plain {
		printPlain(ctx, msgs)
		return
	}

	p := tea.NewProgram(NewModel(cli.URL, msgs), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// printPlain logs messages as text lines, for piping or debugging.
func printPlain(ctx context.Context, msgs <-chan tea.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgs:
			switch m := msg.(type) {
			case ConnMsg:
				if m.Connected && m.Err == nil {
					fmt.Println("[CONNECTED]")
				} else if m.Err != nil {
					fmt.Printf("[ERROR] %v\n", m.Err)
				}
			case feed.Snapshot:
				fmt.Printf("[STATE] active=%q expressions=%d background=%s device=%q\n",
					m.Active, len(m.Expressions), m.BackgroundColor, m.InputDevice)
			case feed.Frame:
				fmt.Printf("[FRAME] active=%q offset=%.2f\n", m.Active, m.Offset)
			case feed.ExpressionChanged:
				fmt.Printf("[EXPRESSION] %q (%s)\n", m.Active, m.Name)
			case feed.CatalogChanged:
				fmt.Printf("[CATALOG] expressions=%d background=%s device=%q\n",
					len(m.Expressions), m.BackgroundColor, m.InputDevice)
			case feed.Level:
				if m.Level == nil {
					fmt.Println("[LEVEL] silence")
				} else {
					fmt.Printf("[LEVEL] %.3f\n", *m.Level)
				}
			case feed.AudioStatus:
				fmt.Printf("[AUDIO] %s/%s running=%v %s\n", m.Backend, m.Device, m.Running, m.Error)
			}
		}
	}
}
