package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BluSpring/EmaPNGTuberV4/internal/asset"
	"github.com/BluSpring/EmaPNGTuberV4/internal/expression"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Renderers (OBS browser sources, ema-watch) connect here:
//
//   /ws                 state websocket
//   /state              current snapshot as JSON
//   /assets/{id}.png    the expression image, scaled (?h=N overrides height)
//   /metrics            Prometheus metrics
//   /healthz            liveness
// ============================================================================

const snapshotTimeout = time.Second

type httpDeps struct {
	logger      *slog.Logger
	events      chan<- Event
	state       http.Handler
	assets      assetResolver
	assetHeight int
}

func newHTTPHandler(d httpDeps) http.Handler {
	mux := http.NewServeMux()

	if d.state != nil {
		mux.Handle("/ws", d.state)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /state", d.handleState)
	mux.HandleFunc("GET /assets/{file}", d.handleAsset)

	return mux
}

// requestSnapshot asks the daemon loop for a snapshot.
func requestSnapshot(ctx context.Context, events chan<- Event) (StateSnapshot, error) {
	reply := make(chan StateSnapshot, 1)

	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	select {
	case events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	}
}

func (d httpDeps) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := requestSnapshot(r.Context(), d.events)
	if err != nil {
		d.fail(w, "state", http.StatusServiceUnavailable, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshotPayload(snap)); err != nil {
		d.logger.Warn("http state encode failed", "error", err)
		return
	}
	httpRequests.WithLabelValues("state", "200").Inc()
}

func (d httpDeps) handleAsset(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	id, ok := strings.CutSuffix(file, ".png")
	if !ok || id == "" {
		d.fail(w, "assets", http.StatusNotFound, fmt.Errorf("unknown asset %q", file))
		return
	}

	height := d.assetHeight
	if h := r.URL.Query().Get("h"); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n <= 0 || n > 4096 {
			d.fail(w, "assets", http.StatusBadRequest, fmt.Errorf("invalid height %q", h))
			return
		}
		height = n
	}

	if d.assets == nil {
		d.fail(w, "assets", http.StatusServiceUnavailable, errors.New("no asset provider"))
		return
	}

	snap, err := requestSnapshot(r.Context(), d.events)
	if err != nil {
		d.fail(w, "assets", http.StatusServiceUnavailable, err)
		return
	}

	var ref string
	found := false
	for _, e := range snap.Expressions {
		if e.ID == expression.ID(id) {
			ref, found = e.Asset, true
			break
		}
	}
	if !found {
		d.fail(w, "assets", http.StatusNotFound, fmt.Errorf("unknown expression %q", id))
		return
	}

	var buf bytes.Buffer
	if err := asset.EncodePNG(&buf, d.assets.Resolve(ref, height)); err != nil {
		d.fail(w, "assets", http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(buf.Bytes())
	httpRequests.WithLabelValues("assets", "200").Inc()
}

func (d httpDeps) fail(w http.ResponseWriter, endpoint string, status int, err error) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		d.logger.Warn("http request failed", "endpoint", endpoint, "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}

// runHTTPServer serves handler on listen and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, listen string, handler http.Handler, logger *slog.Logger) error {
	logger.Info("http server listening", "listen", listen)

	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
