package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_test_executions_total",
			Help: "Total number of test case executions by verdict",
		},
		[]string{"language", "verdict"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradebox_execution_duration_ms",
			Help:    "Host-measured wall time of one test case execution in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"language"},
	)

	SubmissionsGraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_submissions_graded_total",
			Help: "Total number of submissions that reached a terminal status",
		},
		[]string{"status"},
	)

	ContainerStartupTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gradebox_container_startup_ms",
			Help:    "Time to create and start a container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_cleanup_failures_total",
			Help: "Containers or workspaces that could not be removed",
		},
		[]string{"kind"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gradebox_queue_depth",
			Help: "Current number of grading jobs in the queue",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gradebox_active_workers",
			Help: "Number of workers currently grading a submission",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradebox_db_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000},
		},
		[]string{"outcome"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gradebox_rate_limit_hits_total",
			Help: "Total number of run requests rejected by the rate limiter",
		},
	)
)
