// Package metrics exposes the pipeline's Prometheus instruments. They are
// registered once on the default registry and served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tariffsync_fetch_attempts_total",
		Help: "Fetch calls by result (ok, transient, permanent)",
	}, []string{"result"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tariffsync_fetch_duration_seconds",
		Help:    "Duration of a fetch including retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tariffsync_outcomes_total",
		Help: "Terminal outcomes per identifier",
	}, []string{"outcome"})

	BatchCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tariffsync_batch_commits_total",
		Help: "Batch commit attempts by result (committed, rolled_back, failed)",
	}, []string{"result"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tariffsync_batch_commit_duration_seconds",
		Help:    "Duration of one batch transaction",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tariffsync_runs_total",
		Help: "Finished runs by status",
	}, []string{"status"})

	RunInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tariffsync_run_in_progress",
		Help: "1 while a run is executing",
	})

	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tariffsync_last_run_finished_timestamp_seconds",
		Help: "Unix time the last run finished",
	})
)

// ObserveFetch records the duration of a fetch started at start.
func ObserveFetch(start time.Time) {
	FetchDuration.Observe(time.Since(start).Seconds())
}

// ObserveBatch records the duration of a batch transaction started at start.
func ObserveBatch(start time.Time) {
	BatchDuration.Observe(time.Since(start).Seconds())
}

// RunFinished records a finished run.
func RunFinished(status string) {
	Runs.WithLabelValues(status).Inc()
	LastRunTimestamp.SetToCurrentTime()
}
