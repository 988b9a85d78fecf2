package main

import (
	"log/slog"
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/asset"
	"github.com/BluSpring/EmaPNGTuberV4/internal/store"
)

// catalogStore persists the catalog document.
type catalogStore interface {
	Load() (store.Document, error)
	Save(store.Document) error
}

// assetResolver loads expression images.
type assetResolver interface {
	Resolve(ref string, height int) asset.Drawable
}

// assetCache is an assetResolver whose cache can be dropped.
type assetCache interface {
	assetResolver
	Purge()
}

// inputSwitcher moves audio capture to another device.
type inputSwitcher interface {
	Switch(device string)
}

// effects executes reducer-emitted Commands. Any collaborator may be nil, in
// which case commands that need it fail with errNoCollaborator.
type effects struct {
	store       catalogStore
	assets      assetCache
	input       inputSwitcher
	assetHeight int
	logger      *slog.Logger
}

// run executes a single Command and emits observation Events via onEvent.
//
// It must never call Reduce() directly; the daemon loop sequences
// Reduce -> Commands -> run -> Events -> Reduce.
func (fx *effects) run(cmd Command, onEvent func(Event)) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	now := time.Now()

	fail := func(err error) {
		onEvent(CommandFailed{Command: cmd, Err: err, At: now})
	}

	switch c := cmd.(type) {
	case CmdSaveCatalog:
		if fx.store == nil {
			err := errNoCollaborator{what: "catalog store"}
			fx.reply(c.Reply, err)
			fail(err)
			return
		}
		if err := fx.store.Save(c.Doc); err != nil {
			fx.logger.Error("catalog save failed", "error", err)
			fx.reply(c.Reply, err)
			fail(err)
			return
		}
		fx.logger.Info("catalog saved", "expressions", len(c.Doc.Expressions))
		onEvent(CatalogSaved{At: now})
		fx.reply(c.Reply, nil)

	case CmdLoadCatalog:
		if fx.store == nil {
			err := errNoCollaborator{what: "catalog store"}
			fx.reply(c.Reply, err)
			fail(err)
			return
		}
		doc, err := fx.store.Load()
		if err != nil {
			fx.logger.Error("catalog reload failed, keeping current catalog", "error", err)
			fx.reply(c.Reply, err)
			fail(err)
			return
		}
		fx.logger.Info("catalog reloaded", "expressions", len(doc.Expressions))
		onEvent(CatalogReloaded{Doc: doc, At: now})
		fx.reply(c.Reply, nil)

	case CmdPurgeAssets:
		if fx.assets == nil {
			return
		}
		fx.assets.Purge()

	case CmdPrefetchAsset:
		if fx.assets == nil {
			return
		}
		// Decoding and scaling can take a while; keep it off the tick path.
		go fx.assets.Resolve(c.Ref, fx.assetHeight)

	case CmdSwitchInput:
		if fx.input == nil {
			fail(errNoCollaborator{what: "audio input"})
			return
		}
		fx.logger.Info("switching audio input", "device", c.Device)
		fx.input.Switch(c.Device)

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			fx.logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		// Never block the daemon loop.
		select {
		case c.Reply <- c.Snapshot:
		default:
			fx.logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	case CmdReplyControl:
		fx.reply(c.Reply, c.Err)

	default:
		fx.logger.Warn("unknown command type", "command", cmd.String())
		fail(errUnknownCommand{cmd: cmd})
	}
}

// reply answers a control client without blocking the daemon loop.
func (fx *effects) reply(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
		fx.logger.Warn("control reply channel not ready; dropping reply")
	}
}

// errNoCollaborator indicates a command arrived for a component the daemon
// was started without.
type errNoCollaborator struct {
	what string
}

func (e errNoCollaborator) Error() string { return "no " + e.what + " configured" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
