// Package metrics defines the Prometheus metrics exported by the mirror.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync cycles
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_sync_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"source", "outcome"}, // "ok", "no_work", "busy", "error"
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_cycle_duration_seconds",
			Help:    "Duration of sync cycles in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)

	// Tracks
	TracksSearched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_tracks_searched_total",
			Help: "Total number of tracks looked up in the catalog",
		},
		[]string{"source"},
	)

	TracksAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_tracks_added_total",
			Help: "Total number of tracks added to playlists",
		},
		[]string{"source"},
	)

	TracksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_tracks_failed_total",
			Help: "Total number of tracks whose processing failed",
		},
		[]string{"source"},
	)

	// Playlists
	PlaylistsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_playlists_created_total",
			Help: "Total number of playlists created",
		},
		[]string{"source", "reason"}, // "first", "overflow"
	)

	// Catalog client
	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_catalog_requests_total",
			Help: "Total number of catalog API requests by result",
		},
		[]string{"op", "result"}, // "success", "failure", "rejected"
	)

	CatalogBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mirror_catalog_breaker_state",
			Help: "Catalog circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordCycle records the outcome and duration of one sync cycle.
func RecordCycle(source, outcome string, took time.Duration) {
	SyncCycles.WithLabelValues(source, outcome).Inc()
	CycleDuration.WithLabelValues(source).Observe(took.Seconds())
}

// RecordTracks adds the per-cycle track counters.
func RecordTracks(source string, searched, added, failed int) {
	TracksSearched.WithLabelValues(source).Add(float64(searched))
	TracksAdded.WithLabelValues(source).Add(float64(added))
	TracksFailed.WithLabelValues(source).Add(float64(failed))
}
