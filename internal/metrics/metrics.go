// Package metrics exposes Prometheus metrics about repository submissions
// and synchronizations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cropalato/pkgrepo/internal/form"
	"github.com/cropalato/pkgrepo/internal/repository"
)

const namespace = "pkgrepo"

var (
	_ form.Recorder           = (*Metrics)(nil)
	_ repository.SyncRecorder = (*Metrics)(nil)
)

// New creates all metrics on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Total number of failed operations",
			},
			[]string{"operation", "error_type"},
		),

		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Total number of repository submissions by outcome",
			},
			[]string{"operation", "outcome"},
		),

		submitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submit_duration_seconds",
				Help:      "Duration of repository submissions in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		repoErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repo_errors_total",
				Help:      "Total number of repository operation errors",
			},
			[]string{"repo", "operation"},
		),

		lastRepoSync: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "repo_last_sync_timestamp",
				Help:      "Timestamp of last successful repository sync",
			},
			[]string{"repo"},
		),

		repoCharts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "repo_charts",
				Help:      "Number of charts kept in the repository index",
			},
			[]string{"repo"},
		),

		serverUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "server_uptime_seconds",
				Help:      "Time since the server started in seconds",
			},
		),
	}
}

// Registry returns the registry holding every metric
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSubmission counts a form submission
func (m *Metrics) RecordSubmission(operation string, outcome form.Outcome, duration time.Duration) {
	m.submissions.WithLabelValues(operation, outcome.String()).Inc()
	if outcome != form.Dropped {
		m.submitDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordRepoSync stores the time and chart count of a successful sync
func (m *Metrics) RecordRepoSync(repo string, charts int) {
	m.lastRepoSync.WithLabelValues(repo).Set(float64(time.Now().Unix()))
	m.repoCharts.WithLabelValues(repo).Set(float64(charts))
}

// RecordRepoError counts a failed repository operation
func (m *Metrics) RecordRepoError(repo, operation string) {
	m.repoErrors.WithLabelValues(repo, operation).Inc()
}

// RecordOperationError counts a failed internal operation
func (m *Metrics) RecordOperationError(operation, errorType string) {
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordOperationDuration observes the duration of an internal operation
func (m *Metrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) recordRepoState(info repository.RepoInfo) {
	if !info.HasIndexFile {
		return
	}
	m.repoCharts.WithLabelValues(info.Name).Set(float64(info.ChartCount))
	if !info.LastSynced.IsZero() {
		m.lastRepoSync.WithLabelValues(info.Name).Set(float64(info.LastSynced.Unix()))
	}
}

func (m *Metrics) updateUptimeMetric(startTime time.Time) {
	m.serverUptime.Set(time.Since(startTime).Seconds())
}
