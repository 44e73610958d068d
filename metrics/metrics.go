package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task metrics
var (
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffedit_tasks_submitted_total",
			Help: "Total number of encode tasks accepted",
		},
		[]string{"target"},
	)

	TasksFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffedit_tasks_finished_total",
			Help: "Total number of encode tasks that reached a terminal state",
		},
		[]string{"status"},
	)

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffedit_tasks_running",
			Help: "Number of encoder processes currently running",
		},
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ffedit_task_duration_seconds",
			Help:    "Wall time of encoder processes in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)
)

// Bridge metrics
var (
	BridgeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffedit_bridge_requests_total",
			Help: "Total number of bridge requests by outcome",
		},
		[]string{"message", "result"}, // "sent", "unavailable", "resolved", "abandoned"
	)

	BridgePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffedit_bridge_pending_requests",
			Help: "Number of bridge requests waiting for a reply",
		},
	)
)

// Probe metrics
var (
	ProbeCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffedit_probe_cache_lookups_total",
			Help: "Total number of clip probe cache lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)
)
