package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BluSpring/EmaPNGTuberV4/internal/store"
)

// catalogReloader is the part of the store the watcher needs.
type catalogReloader interface {
	Path() string
	LoadIfChanged() (store.Document, bool, error)
}

// watchCatalog turns external edits of the catalog file into CatalogReloaded
// events. Writes made by the daemon itself are recognized by content and
// ignored.
func watchCatalog(ctx context.Context, st catalogReloader, debounce time.Duration, events chan<- Event, logger *slog.Logger) error {
	logger.Info("watching catalog file", "path", st.Path(), "debounce", debounce)

	return store.Watch(ctx, st.Path(), debounce, func() {
		reloadCatalog(ctx, st, events, logger)
	})
}

func reloadCatalog(ctx context.Context, st catalogReloader, events chan<- Event, logger *slog.Logger) {
	doc, changed, err := st.LoadIfChanged()
	if err != nil {
		logger.Warn("catalog file changed but could not be read, keeping current catalog", "error", err)
		return
	}
	if !changed {
		logger.Debug("catalog file event without content change")
		return
	}

	logger.Info("catalog file changed on disk", "expressions", len(doc.Expressions))
	select {
	case events <- CatalogReloaded{Doc: doc, At: time.Now()}:
	case <-ctx.Done():
	}
}
