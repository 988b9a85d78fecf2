package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emapngtuber_tick_duration_seconds",
			Help:    "Time spent reducing one engine tick",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
	)

	expressionCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emapngtuber_expression_commits_total",
			Help: "Number of times an expression became the displayed one",
		},
		[]string{"expression"},
	)

	levelGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emapngtuber_level",
			Help: "Level fed to the engine on the last tick",
		},
	)

	offsetGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emapngtuber_vertical_offset",
			Help: "Vertical bounce displacement of the displayed expression",
		},
	)

	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emapngtuber_ws_clients",
			Help: "Number of connected state websocket clients",
		},
	)

	assetPlaceholders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emapngtuber_asset_placeholders_total",
			Help: "Number of asset lookups that fell back to the placeholder",
		},
	)

	catalogSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emapngtuber_catalog_saves_total",
			Help: "Catalog file writes by outcome",
		},
		[]string{"status"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emapngtuber_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)
)

// chunkCounter reports how many audio chunks capture has measured.
type chunkCounter interface {
	Chunks() int64
}

// registerAudioMetrics exposes capture throughput. Call it once per process.
func registerAudioMetrics(reg prometheus.Registerer, c chunkCounter) prometheus.CounterFunc {
	return promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Name: "emapngtuber_audio_chunks_total",
			Help: "Number of audio chunks measured by the capture monitor",
		},
		func() float64 { return float64(c.Chunks()) },
	)
}

// observeBroadcast updates metrics derived from reducer output.
func observeBroadcast(b StateBroadcast) {
	switch ev := b.(type) {
	case BroadcastExpressionChanged:
		if ev.Active != "" {
			name := ev.Name
			if name == "" {
				name = string(ev.Active)
			}
			expressionCommits.WithLabelValues(name).Inc()
		}
	case BroadcastFrame:
		offsetGauge.Set(ev.Offset)
	case BroadcastLevel:
		levelGauge.Set(float64(ev.Level))
	}
}

// observeEvent updates metrics derived from effect outcomes.
func observeEvent(e Event) {
	switch ev := e.(type) {
	case CatalogSaved:
		catalogSaves.WithLabelValues("ok").Inc()
	case CommandFailed:
		if _, ok := ev.Command.(CmdSaveCatalog); ok {
			catalogSaves.WithLabelValues("error").Inc()
		}
	}
}
