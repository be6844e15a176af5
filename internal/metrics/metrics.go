// Package metrics exposes the Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesProcessed counts files reaching a terminal disposition, by
	// outcome (finished, skipped, errored, rejected).
	FilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shrinkarr_files_processed_total",
		Help: "Total number of files reaching a terminal disposition, by outcome.",
	}, []string{"outcome"})

	// SpaceSaved accumulates bytes reclaimed by finished encodes.
	SpaceSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shrinkarr_space_saved_bytes_total",
		Help: "Total bytes saved by completed encodes.",
	})

	// Scans counts completed library scan runs.
	Scans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shrinkarr_scans_total",
		Help: "Total number of completed library scans.",
	})

	// WatchEvents counts debounced watcher additions handed to the
	// classifier.
	WatchEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shrinkarr_watch_events_total",
		Help: "Total number of debounced filesystem additions processed.",
	})
)

// Outcome label values for FilesProcessed.
const (
	OutcomeFinished = "finished"
	OutcomeSkipped  = "skipped"
	OutcomeErrored  = "errored"
	OutcomeRejected = "rejected"
)
