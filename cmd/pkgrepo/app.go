package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"helm.sh/helm/v3/pkg/cli"

	"github.com/cropalato/pkgrepo/internal/client"
	"github.com/cropalato/pkgrepo/internal/config"
	"github.com/cropalato/pkgrepo/internal/kube"
	"github.com/cropalato/pkgrepo/internal/logging"
	"github.com/cropalato/pkgrepo/internal/metrics"
	"github.com/cropalato/pkgrepo/internal/repository"
	"github.com/cropalato/pkgrepo/internal/store"
	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// Application holds the components shared by the commands
type Application struct {
	config  *config.Config
	logger  *zap.Logger
	context repository.Context
	metrics *metrics.Metrics
	service repository.Service
	out     io.Writer

	// local backend
	store *store.SQLiteStore
	repo  *repository.Manager

	// grpc backend
	client *client.Client
}

// NewApplication creates the logger and the repository service selected by cfg.Backend
func NewApplication(cfg *config.Config, debug bool, out io.Writer) (*Application, error) {
	logger, err := logging.New(cfg.Log, debug, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cluster, namespace := kube.Resolve(cfg.Cluster, cfg.Namespace, cfg.Kubeconfig, cfg.KubeContext, logger)

	app := &Application{
		config:  cfg,
		logger:  logger,
		context: repository.Context{Cluster: cluster, Namespace: namespace},
		metrics: metrics.New(),
		out:     out,
	}

	switch cfg.Backend {
	case config.BackendGRPC:
		c, err := client.New(client.Options{
			Address:  cfg.GRPC.Address,
			Insecure: cfg.GRPC.Insecure,
			Token:    cfg.GRPC.Token,
			Timeout:  cfg.GRPC.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create API client: %w", err)
		}
		app.client = c
		app.service = c

	default:
		settings := cli.New()
		settings.Debug = debug
		if cfg.Kubeconfig != "" {
			settings.KubeConfig = cfg.Kubeconfig
		}
		if cfg.KubeContext != "" {
			settings.KubeContext = cfg.KubeContext
		}
		if cfg.Helm.RepositoryConfig != "" {
			settings.RepositoryConfig = cfg.Helm.RepositoryConfig
		}
		if cfg.Helm.RepositoryCache != "" {
			settings.RepositoryCache = cfg.Helm.RepositoryCache
		}

		st, err := store.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository store: %w", err)
		}
		app.store = st
		app.repo = repository.NewManager(settings, st, logger, repository.WithSyncRecorder(app.metrics))
		app.service = app.repo
	}

	logger.Debug("application initialized",
		zap.String("backend", cfg.Backend),
		zap.String("cluster", cluster),
		zap.String("namespace", namespace))

	return app, nil
}

// Cleanup performs cleanup operations
func (a *Application) Cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close repository store", zap.Error(err))
		}
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("failed to close API connection", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// reference locates a repository in the current context
func (a *Application) reference(name string, plugin repository.Plugin) repository.Reference {
	return repository.Reference{Identifier: name, Context: a.context, Plugin: plugin}
}

// observe times op and counts its failures
func (a *Application) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	a.metrics.RecordOperationDuration(op, time.Since(start))
	if err != nil {
		a.metrics.RecordOperationError(op, errorType(err))
	}
	return err
}

func errorType(err error) string {
	switch {
	case customerrors.Is(err, customerrors.ErrNotFound):
		return "not_found"
	case customerrors.Is(err, customerrors.ErrAlreadyExists):
		return "already_exists"
	case customerrors.IsValidationError(err):
		return "validation"
	case customerrors.IsHelmError(err):
		return "helm"
	case customerrors.IsConfigError(err):
		return "config"
	case customerrors.IsRepositoryError(err):
		return "repository"
	}
	return "unknown"
}

// afterInstall fetches the index of a freshly saved helm repository so the
// filter takes effect right away. Failures are only logged.
func (a *Application) afterInstall(ctx context.Context, cfg repository.Config) {
	if a.repo == nil || !cfg.HelmIndexed() {
		a.logger.Info("package repository saved", zap.String("repo", cfg.Name))
		return
	}
	ref := cfg.Reference()
	info, err := a.repo.SyncRepository(ctx, ref)
	if err != nil {
		a.logger.Warn("initial index download failed",
			zap.String("repo", ref.Identifier),
			zap.Error(err))
		return
	}
	a.logger.Info("package repository synchronized",
		zap.String("repo", info.Name),
		zap.Int("charts", info.ChartCount),
		zap.Int("filtered_out", info.FilteredOut))
}

// Run synchronizes the repositories every refresh period and serves the
// metrics until a shutdown signal arrives
func (a *Application) Run(ctx context.Context) error {
	if a.repo == nil {
		return customerrors.NewConfigError("backend", a.config.Backend,
			customerrors.New("watching requires the local backend"))
	}

	a.logger.Info("Starting pkgrepo",
		zap.String("metrics_address", a.config.Metrics.Address),
		zap.Duration("refresh_rate", a.config.RefreshRate))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.startRepositorySync(ctx); err != nil {
		return fmt.Errorf("failed to start repository sync: %w", err)
	}

	server := metrics.NewServer(a.metrics, a.repo, a.config.Metrics.Address, a.logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	a.logger.Info("Application is ready")

	select {
	case sig := <-sigChan:
		a.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Context cancelled")
	}

	return a.shutdown(server)
}

func (a *Application) startRepositorySync(ctx context.Context) error {
	result, err := a.repo.SyncRepositories(ctx)
	if err != nil {
		return fmt.Errorf("initial repository sync failed: %w", err)
	}

	a.logger.Info("Initial repository sync completed",
		zap.Int("successful", len(result.Successful)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)))

	go func() {
		ticker := time.NewTicker(a.config.RefreshRate)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.repo.SyncRepositories(ctx); err != nil {
					a.logger.Error("Repository sync failed", zap.Error(err))
				}
			}
		}
	}()

	return nil
}

func (a *Application) shutdown(server *metrics.Server) error {
	a.logger.Info("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Failed to shutdown metrics server", zap.Error(err))
	}

	a.logger.Info("Shutdown completed")
	return nil
}
