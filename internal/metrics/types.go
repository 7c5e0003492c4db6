package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cropalato/pkgrepo/internal/repository"
)

// RepositoryLister reports the state of the synchronized repositories
type RepositoryLister interface {
	GetRepositoryInfo(ctx context.Context) ([]repository.RepoInfo, error)
}

// Server represents the metrics server and its dependencies
type Server struct {
	metrics   *Metrics
	repos     RepositoryLister
	logger    *zap.Logger
	server    *http.Server
	listener  net.Listener
	address   string
	interval  time.Duration
	startTime time.Time
}

// Metrics represents all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Operation metrics
	operationErrors   *prometheus.CounterVec
	submissions       *prometheus.CounterVec
	submitDuration    *prometheus.HistogramVec
	operationDuration *prometheus.HistogramVec

	// Repository metrics
	repoErrors   *prometheus.CounterVec
	lastRepoSync *prometheus.GaugeVec
	repoCharts   *prometheus.GaugeVec

	// Server metrics
	serverUptime prometheus.Gauge
}

// MetricsError represents errors that can occur during metrics operations
type MetricsError struct {
	Op         string
	Err        error
	MetricName string
}

func (e *MetricsError) Error() string {
	if e.MetricName != "" {
		return fmt.Sprintf("metrics operation %s failed for metric %s: %v", e.Op, e.MetricName, e.Err)
	}
	return fmt.Sprintf("metrics operation %s failed: %v", e.Op, e.Err)
}

func (e *MetricsError) Unwrap() error {
	return e.Err
}
