package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/BluSpring/EmaPNGTuberV4/internal/asset"
	"github.com/BluSpring/EmaPNGTuberV4/internal/audio"
	"github.com/BluSpring/EmaPNGTuberV4/internal/store"
)

var version = "0.4.0"

// CLI defines the command-line interface. Flags given here win over the
// config file.
type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Print version and exit"`
	Config  string           `short:"c" type:"path" help:"Path to YAML config file (optional)"`

	Backend   string `help:"Audio backend: arecord, fifo, stdin, sine, websocket"`
	Device    string `short:"d" help:"Audio input device; overrides the one stored in the catalog"`
	LevelMode string `name:"level-mode" help:"Level unit: rss, rms, dbfs"`
	FIFOPath  string `name:"fifo-path" type:"path" help:"Named pipe to read PCM from (fifo backend)"`
	URL       string `name:"url" help:"Level feed URL (websocket backend)"`

	UpdateHz int `name:"update-hz" help:"Engine tick frequency in Hz"`

	Catalog string `type:"path" help:"Path to the expression catalog file"`
	NoWatch bool   `name:"no-watch" help:"Do not reload the catalog when it changes on disk"`
	Assets  string `type:"path" help:"Directory relative asset paths resolve against"`

	Listen string `help:"HTTP listen address for renderers and metrics"`
	NoHTTP bool   `name:"no-http" help:"Disable the HTTP server"`
	Socket string `type:"path" help:"Unix socket path for ema-ctl"`

	LogLevel  string `name:"log-level" help:"Log level: error, warn, info, debug"`
	LogFormat string `name:"log-format" help:"Log format: text, json"`
}

// overrides collects the flags that were actually given.
func (c *CLI) overrides() FlagOverrides {
	var o FlagOverrides
	o.AudioBackend = nonEmpty(c.Backend)
	o.AudioDevice = nonEmpty(c.Device)
	o.AudioLevelMode = nonEmpty(c.LevelMode)
	o.AudioFIFOPath = nonEmpty(c.FIFOPath)
	o.AudioURL = nonEmpty(c.URL)
	if c.UpdateHz != 0 {
		o.EngineUpdateHz = &c.UpdateHz
	}
	o.CatalogPath = nonEmpty(c.Catalog)
	if c.NoWatch {
		f := false
		o.CatalogWatch = &f
	}
	o.AssetsDir = nonEmpty(c.Assets)
	o.HTTPListen = nonEmpty(c.Listen)
	if c.NoHTTP {
		f := false
		o.HTTPEnabled = &f
	}
	o.IPCSocketPath = nonEmpty(c.Socket)
	o.LogLevel = nonEmpty(c.LogLevel)
	o.LogFormat = nonEmpty(c.LogFormat)
	return o
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("emapngtuber"),
		kong.Description("Audio-reactive PNG avatar daemon"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)

	cfg := DefaultConfig()
	if cli.Config != "" {
		loaded, err := LoadConfigFile(cli.Config)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cli.overrides().Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(os.Stderr, logLevel, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cli.Device, logger); err != nil {
		logger.Error("emapngtuber exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run starts every component and blocks until ctx is canceled or one of them
// fails.
func run(ctx context.Context, cfg Config, forceDevice string, logger *slog.Logger) error {
	logger.Info("starting emapngtuber", "version", version)

	// ---- catalog ----
	st := store.New(cfg.CatalogPath(), cfg.NormalizeOptions(), logger)
	_, statErr := os.Stat(st.Path())
	doc, err := st.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		logger.Info("no catalog found, writing default", "path", st.Path())
		if err := st.Save(doc); err != nil {
			logger.Warn("could not write default catalog", "error", err)
		}
	}

	// ---- assets ----
	provider, err := asset.NewProvider(cfg.AssetsDir(), logger,
		asset.WithCacheSize(cfg.Assets.CacheSize),
		asset.WithMissingHook(func(string, error) {
			assetPlaceholders.Inc()
		}),
	)
	if err != nil {
		return fmt.Errorf("asset provider: %w", err)
	}

	events := make(chan Event, eventQueueSize)

	// ---- audio ----
	device := doc.InputDevice
	if forceDevice != "" {
		device = forceDevice
	}
	mode := cfg.LevelMode()
	cell := &audio.LevelCell{}
	cell.Store(audio.Silence(mode))

	monitor := audio.NewMonitor(cfg.ToAudioConfig(device), mode, cell, logger,
		audio.WithRetryDelay(time.Duration(cfg.Audio.RetryMS)*time.Millisecond),
		audio.WithStatusHook(func(s audio.Status) {
			select {
			case events <- AudioStatusObserved{Status: s, At: time.Now()}:
			default:
				logger.Debug("event queue full, dropping audio status")
			}
		}),
	)

	registerAudioMetrics(prometheus.DefaultRegisterer, monitor)

	// ---- daemon state ----
	state := NewDaemonState(doc, cfg.ToEngineOptions())
	fx := &effects{
		store:       st,
		assets:      provider,
		input:       monitor,
		assetHeight: cfg.Assets.TargetHeight,
		logger:      logger,
	}
	rcfg := ReduceConfig{Normalize: cfg.NormalizeOptions()}

	// Seed the loop with the loaded document so assets get prefetched and
	// late subscribers see the catalog.
	events <- CatalogReloaded{Doc: doc, At: time.Now()}

	g, gctx := errgroup.WithContext(ctx)

	var bcasts chan StateBroadcast
	if cfg.HTTP.Enabled {
		bcasts = make(chan StateBroadcast, broadcastQueueSize)
		stateSrv := NewStateServer(logger, events, HubConfig{})
		handler := newHTTPHandler(httpDeps{
			logger:      logger,
			events:      events,
			state:       stateSrv,
			assets:      provider,
			assetHeight: cfg.Assets.TargetHeight,
		})

		g.Go(func() error {
			stateSrv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, stateSrv.Hub(), bcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Listen, handler, logger)
		})
	}

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	if cfg.Catalog.Watch {
		g.Go(func() error {
			debounce := time.Duration(cfg.Catalog.DebounceMS) * time.Millisecond
			if err := watchCatalog(gctx, st, debounce, events, logger); err != nil {
				// Editing through ema-ctl keeps working without the watcher.
				logger.Warn("catalog watcher stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		var out chan<- StateBroadcast
		if bcasts != nil {
			out = bcasts
		}
		return runDaemon(gctx, events, out, fx, state, rcfg, cfg.Engine.UpdateHz, cell.Load, logger)
	})

	logger.Info("listening",
		"ipc", cfg.IPC.SocketPath,
		"http", httpListenInfo(cfg),
		"audio_backend", cfg.Audio.Backend,
		"audio_device", device,
		"level_mode", string(mode),
		"update_hz", cfg.Engine.UpdateHz,
		"catalog", st.Path(),
	)

	return g.Wait()
}

func httpListenInfo(cfg Config) string {
	if !cfg.HTTP.Enabled {
		return "disabled"
	}
	return cfg.HTTP.Listen
}
