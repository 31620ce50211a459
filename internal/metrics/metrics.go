// Package metrics holds the Prometheus collectors of the tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tt_sync_passes_total",
			Help: "Sync passes by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tt_sync_pass_duration_seconds",
			Help:    "Duration of completed sync passes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tt_sync_candidates_total",
			Help: "Crawled workbooks by dedup outcome (new, changed, moved, unchanged, failed)",
		},
		[]string{"outcome"},
	)

	ReplicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tt_replications_total",
			Help: "Replica uploads by storage type and outcome",
		},
		[]string{"storage", "outcome"},
	)

	VisualizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tt_visualizations_total",
			Help: "Visualization attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeprecatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tt_resources_deprecated_total",
			Help: "Resources marked deprecated by sync passes",
		},
	)

	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tt_tasks_submitted_total",
			Help: "Tasks submitted by action",
		},
		[]string{"action"},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tt_tasks_finished_total",
			Help: "Tasks finished by action and status",
		},
		[]string{"action", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tt_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
)
