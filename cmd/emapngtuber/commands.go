package main

import (
	"fmt"

	"github.com/BluSpring/EmaPNGTuberV4/internal/store"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdSaveCatalog writes Doc to the catalog file. Reply, when set, receives
// the outcome of the write.
type CmdSaveCatalog struct {
	Doc   store.Document
	Reply chan<- error
}

func (CmdSaveCatalog) commandMarker() {}
func (c CmdSaveCatalog) String() string {
	return fmt.Sprintf("CmdSaveCatalog(expressions=%d)", len(c.Doc.Expressions))
}

// CmdLoadCatalog re-reads the catalog file. Reply, when set, receives the
// outcome of the read.
type CmdLoadCatalog struct {
	Reply chan<- error
}

func (CmdLoadCatalog) commandMarker() {}
func (CmdLoadCatalog) String() string { return "CmdLoadCatalog()" }

// CmdPurgeAssets drops every decoded image so the next resolve reads the
// files again.
type CmdPurgeAssets struct{}

func (CmdPurgeAssets) commandMarker() {}
func (CmdPurgeAssets) String() string { return "CmdPurgeAssets()" }

// CmdPrefetchAsset warms the asset cache for Ref.
type CmdPrefetchAsset struct {
	Ref string
}

func (CmdPrefetchAsset) commandMarker()   {}
func (c CmdPrefetchAsset) String() string { return fmt.Sprintf("CmdPrefetchAsset(ref=%q)", c.Ref) }

// CmdSwitchInput moves audio capture to Device.
type CmdSwitchInput struct {
	Device string
}

func (CmdSwitchInput) commandMarker()   {}
func (c CmdSwitchInput) String() string { return fmt.Sprintf("CmdSwitchInput(device=%q)", c.Device) }

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// CmdReplyControl answers a control message. A nil Err means it was applied.
type CmdReplyControl struct {
	Reply chan<- error
	Err   error
}

func (CmdReplyControl) commandMarker() {}
func (c CmdReplyControl) String() string {
	return fmt.Sprintf("CmdReplyControl(err=%v)", c.Err)
}
