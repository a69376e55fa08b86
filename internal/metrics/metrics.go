package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync pass metrics
	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosync_sync_passes_total",
			Help: "Total number of sync passes by outcome",
		},
		[]string{"outcome"}, // success, auth_error, error
	)

	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "biosync_sync_pass_duration_seconds",
			Help:    "Duration of sync passes in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SyncFilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosync_sync_files_processed_total",
			Help: "Remote files downloaded and decoded",
		},
		[]string{"category"},
	)

	SyncCursorTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "biosync_sync_cursor_timestamp_seconds",
			Help: "Unix time of the committed sync cursor",
		},
	)

	// Store metrics
	ReadingsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosync_readings_written_total",
			Help: "Readings written to the store",
		},
		[]string{"category", "source"}, // source: sync, ingest
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosync_store_errors_total",
			Help: "Store operation failures",
		},
		[]string{"operation"},
	)

	StoreSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biosync_store_swept_total",
			Help: "Expired keys removed (or value log files rewritten) by store sweeps",
		},
	)
)
