// Package metrics holds the Prometheus collectors of the harvester.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SettleWait tracks how long settle waits take by step
	SettleWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridharvester_settle_wait_seconds",
			Help:    "Duration of waits for partial page updates to settle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"step"}, // "search", "page", "page_size", "reset"
	)

	// SyncTimeouts counts waits that gave up
	SyncTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridharvester_sync_timeouts_total",
			Help: "Total number of settle waits that timed out",
		},
		[]string{"step"},
	)

	// PagesHarvested counts result pages read
	PagesHarvested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridharvester_pages_harvested_total",
			Help: "Total number of result pages harvested",
		},
	)

	// RecordsEmitted counts records handed to the sink
	RecordsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridharvester_records_emitted_total",
			Help: "Total number of records emitted to the sink",
		},
	)

	// FilterOutcomes counts finished filter combinations by outcome
	FilterOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridharvester_filters_total",
			Help: "Total number of filter combinations by outcome",
		},
		[]string{"outcome"}, // "done", "aborted", "skipped"
	)

	// PublishErrors counts failed publisher writes
	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridharvester_publish_errors_total",
			Help: "Total number of failed publisher writes",
		},
	)
)
