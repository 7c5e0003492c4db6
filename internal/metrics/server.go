package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultAddress is where the metrics server listens unless configured otherwise
const DefaultAddress = ":2112"

const defaultCollectInterval = 20 * time.Second

// NewServer creates a new metrics server instance
func NewServer(m *Metrics, repos RepositoryLister, address string, logger *zap.Logger) *Server {
	if address == "" {
		address = DefaultAddress
	}
	return &Server{
		metrics:   m,
		repos:     repos,
		logger:    logger,
		address:   address,
		interval:  defaultCollectInterval,
		startTime: time.Now(),
	}
}

// Start begins collecting metrics and serving them over HTTP
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return &MetricsError{Op: "listen", Err: err}
	}
	s.listener = listener

	errChan := make(chan error, 1)

	if err := s.collectMetrics(ctx); err != nil {
		s.logger.Warn("initial metrics collection failed", zap.Error(err))
	}
	s.startMetricsCollection(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("starting metrics server",
			zap.String("address", fmt.Sprintf("http://%s/metrics", listener.Addr())))

		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	go func() {
		select {
		case err := <-errChan:
			s.logger.Error("metrics server error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}()

	return nil
}

// Addr returns the address the server listens on once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// startMetricsCollection refreshes the repository metrics in the background
func (s *Server) startMetricsCollection(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping metrics collection",
					zap.String("reason", "context cancelled"))
				return
			case <-ticker.C:
				if err := s.collectMetrics(ctx); err != nil {
					s.logger.Error("failed to collect metrics", zap.Error(err))
					s.metrics.RecordOperationError("collect_metrics", "collection_failed")
				}
			}
		}
	}()
}

// collectMetrics refreshes the uptime and the per repository gauges
func (s *Server) collectMetrics(ctx context.Context) error {
	start := time.Now()
	s.metrics.updateUptimeMetric(s.startTime)

	if s.repos == nil {
		return nil
	}

	infos, err := s.repos.GetRepositoryInfo(ctx)
	if err != nil {
		return &MetricsError{Op: "collect", Err: err, MetricName: "repo_charts"}
	}
	for _, info := range infos {
		s.metrics.recordRepoState(info)
	}

	s.metrics.RecordOperationDuration("collect_metrics", time.Since(start))
	s.logger.Debug("metrics collection completed",
		zap.Int("repositories", len(infos)),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.collectMetrics(r.Context()); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
