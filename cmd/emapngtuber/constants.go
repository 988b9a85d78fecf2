package main

import "time"

// Engine and scene defaults
const (
	defaultUpdateHz = 60 // Tick frequency (Hz), the refresh rate of a typical display

	// The avatar is scaled to the window height minus a margin.
	defaultWindowHeight = 512
	avatarMarginPx      = 24
	defaultAssetHeight  = defaultWindowHeight - avatarMarginPx

	defaultAssetCacheSize = 64
)

// Daemon plumbing defaults
const (
	defaultHTTPListen    = "127.0.0.1:7788"
	defaultCatalogPath   = "~/.config/emapngtuber/catalog.yaml"
	defaultWatchDebounce = 200 // ms
	defaultRetryMS       = 2000

	eventQueueSize     = 64
	broadcastQueueSize = 256

	// Replies to control messages must arrive within this window or the IPC
	// client is told the daemon is busy.
	controlReplyTimeout = 2 * time.Second

	// Levels are rounded to this many decimals before being compared for
	// change, so that noise below display precision does not flood clients.
	levelBroadcastPrecision = 1000.0
)
