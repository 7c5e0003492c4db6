package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/getter"
	"helm.sh/helm/v3/pkg/repo"

	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithSyncRecorder reports sync outcomes to r
func WithSyncRecorder(r SyncRecorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// NewManager creates a new repository manager
func NewManager(settings *cli.EnvSettings, store Store, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		settings: settings,
		store:    store,
		logger:   logger,
		getters:  getter.All(settings),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Service = (*Manager)(nil)

// Add validates and persists a new repository, registering it with helm when applicable
func (m *Manager) Add(ctx context.Context, cfg Config) (Reference, error) {
	start := time.Now()

	if err := Validate(cfg); err != nil {
		return Reference{}, customerrors.WrapRepositoryError(err, "create", cfg.Name)
	}

	if cfg.HelmIndexed() {
		taken, err := m.hasEntry(cfg.Name)
		if err != nil {
			return Reference{}, customerrors.WrapRepositoryError(err, "create", cfg.Name)
		}
		if taken {
			return Reference{}, customerrors.WrapRepositoryError(customerrors.ErrAlreadyExists, "create", cfg.Name)
		}
	}

	if err := m.checkIndex(cfg); err != nil {
		return Reference{}, customerrors.WrapRepositoryError(err, "create", cfg.Name)
	}

	if err := m.store.Create(ctx, cfg); err != nil {
		return Reference{}, customerrors.WrapRepositoryError(err, "create", cfg.Name)
	}

	if err := m.writeEntry(cfg); err != nil {
		if delErr := m.store.Delete(ctx, cfg.Reference()); delErr != nil {
			m.logger.Warn("failed to roll back repository",
				zap.String("repo", cfg.Name),
				zap.Error(delErr))
		}
		return Reference{}, customerrors.WrapRepositoryError(err, "create", cfg.Name)
	}

	m.logger.Debug("created package repository",
		zap.String("repo", cfg.Name),
		zap.String("namespace", cfg.Context.Namespace),
		zap.String("plugin", cfg.Plugin.Name),
		zap.Duration("duration", time.Since(start)))

	return cfg.Reference(), nil
}

// Update replaces the configuration of an existing repository
func (m *Manager) Update(ctx context.Context, cfg Config) (Reference, error) {
	start := time.Now()

	if err := Validate(cfg); err != nil {
		return Reference{}, customerrors.WrapRepositoryError(err, "update", cfg.Name)
	}

	previous, err := m.store.Get(ctx, cfg.Reference())
	if err != nil {
		return Reference{}, customerrors.WrapRepositoryError(err, "update", cfg.Name)
	}

	// helm entries are keyed by name only
	if cfg.HelmIndexed() && !previous.HelmIndexed() {
		taken, err := m.hasEntry(cfg.Name)
		if err != nil {
			return Reference{}, customerrors.WrapRepositoryError(err, "update", cfg.Name)
		}
		if taken {
			return Reference{}, customerrors.WrapRepositoryError(customerrors.ErrAlreadyExists, "update", cfg.Name)
		}
	}

	if err := m.checkIndex(cfg); err != nil {
		return Reference{}, customerrors.WrapRepositoryError(err, "update", cfg.Name)
	}

	if err := m.store.Update(ctx, cfg); err != nil {
		return Reference{}, customerrors.WrapRepositoryError(err, "update", cfg.Name)
	}

	switch {
	case cfg.HelmIndexed():
		err = m.writeEntry(cfg)
	case previous.HelmIndexed():
		err = m.removeEntry(cfg.Name)
	}
	if err != nil {
		if restoreErr := m.store.Update(ctx, previous); restoreErr != nil {
			m.logger.Warn("failed to restore repository",
				zap.String("repo", cfg.Name),
				zap.Error(restoreErr))
		}
		return Reference{}, customerrors.WrapRepositoryError(err, "update", cfg.Name)
	}

	m.logger.Debug("updated package repository",
		zap.String("repo", cfg.Name),
		zap.String("namespace", cfg.Context.Namespace),
		zap.Duration("duration", time.Since(start)))

	return cfg.Reference(), nil
}

// Get returns the stored configuration of a repository
func (m *Manager) Get(ctx context.Context, ref Reference) (Config, error) {
	cfg, err := m.store.Get(ctx, ref)
	if err != nil {
		return Config{}, customerrors.WrapRepositoryError(err, "fetch", ref.Identifier)
	}
	return cfg, nil
}

// List returns the repositories stored for a context
func (m *Manager) List(ctx context.Context, c Context) ([]Summary, error) {
	configs, err := m.store.List(ctx, c)
	if err != nil {
		return nil, customerrors.WrapRepositoryError(err, "list", "")
	}

	summaries := make([]Summary, 0, len(configs))
	for _, cfg := range configs {
		summaries = append(summaries, SummaryOf(cfg))
	}
	return summaries, nil
}

// Delete removes a repository together with its helm entry and cached files
func (m *Manager) Delete(ctx context.Context, ref Reference) error {
	cfg, err := m.store.Get(ctx, ref)
	if err != nil {
		return customerrors.WrapRepositoryError(err, "delete", ref.Identifier)
	}

	if cfg.HelmIndexed() {
		if err := m.removeEntry(cfg.Name); err != nil {
			return customerrors.WrapRepositoryError(err, "delete", ref.Identifier)
		}
		m.removeCache(cfg.Name)
	}

	if err := m.store.Delete(ctx, ref); err != nil {
		return customerrors.WrapRepositoryError(err, "delete", ref.Identifier)
	}

	m.logger.Debug("deleted package repository", zap.String("repo", ref.Identifier))
	return nil
}

// Private helper methods

func (m *Manager) loadFile() (*repo.File, error) {
	file, err := repo.LoadFile(m.settings.RepositoryConfig)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return repo.NewFile(), nil
		}
		return nil, customerrors.WrapHelmError(err, "load_repo_file", "",
			map[string]interface{}{"path": m.settings.RepositoryConfig})
	}
	return file, nil
}

func (m *Manager) writeFile(file *repo.File) error {
	path := m.settings.RepositoryConfig
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return customerrors.WrapHelmError(err, "write_repo_file", "", map[string]interface{}{"path": path})
	}
	if err := file.WriteFile(path, 0600); err != nil {
		return customerrors.WrapHelmError(err, "write_repo_file", "", map[string]interface{}{"path": path})
	}
	return nil
}

func (m *Manager) hasEntry(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := m.loadFile()
	if err != nil {
		return false, err
	}
	return file.Has(name), nil
}

func (m *Manager) writeEntry(cfg Config) error {
	if !cfg.HelmIndexed() {
		return nil
	}

	entry, err := m.entryFor(cfg, m.settings.RepositoryCache)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := m.loadFile()
	if err != nil {
		return err
	}
	file.Update(entry)
	return m.writeFile(file)
}

func (m *Manager) removeEntry(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := m.loadFile()
	if err != nil {
		return err
	}
	if !file.Remove(name) {
		return nil
	}
	return m.writeFile(file)
}

func (m *Manager) removeCache(name string) {
	for _, path := range []string{m.indexPath(name), m.caPath(m.settings.RepositoryCache, name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove cached file",
				zap.String("repo", name),
				zap.String("path", path),
				zap.Error(err))
		}
	}
}

func (m *Manager) caPath(dir, name string) string {
	return filepath.Join(dir, name+"-ca.crt")
}

// entryFor translates a configuration into a helm repository entry. The
// certificate authority, if any, is written under dir.
func (m *Manager) entryFor(cfg Config, dir string) (*repo.Entry, error) {
	entry := &repo.Entry{
		Name:                  cfg.Name,
		URL:                   cfg.URL,
		InsecureSkipTLSverify: cfg.TLS.InsecureSkipVerify,
		PassCredentialsAll:    cfg.Auth.PassCredentials,
	}

	switch cfg.Auth.Type {
	case AuthNone:
	case AuthBasic:
		entry.Username = cfg.Auth.UsernamePassword.Username
		entry.Password = cfg.Auth.UsernamePassword.Password
	case AuthBearer, AuthHeader, AuthDockerConfigJSON:
		m.logger.Debug("auth method has no helm repository equivalent",
			zap.String("repo", cfg.Name),
			zap.Stringer("auth_type", cfg.Auth.Type))
	}

	if cfg.TLS.CertAuthority != "" {
		caFile := m.caPath(dir, cfg.Name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		if err := os.WriteFile(caFile, []byte(cfg.TLS.CertAuthority), 0600); err != nil {
			return nil, fmt.Errorf("failed to write certificate authority: %w", err)
		}
		entry.CAFile = caFile
	}

	return entry, nil
}

// checkIndex downloads the repository index into a scratch directory when
// validation is requested.
func (m *Manager) checkIndex(cfg Config) error {
	if !cfg.CustomDetail.PerformValidation || !cfg.HelmIndexed() {
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "pkgrepo-validate-*")
	if err != nil {
		return fmt.Errorf("failed to create validation directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	entry, err := m.entryFor(cfg, tmpDir)
	if err != nil {
		return err
	}

	r, err := repo.NewChartRepository(entry, m.getters)
	if err != nil {
		return customerrors.WrapHelmError(err, "new_chart_repository", cfg.Name, nil)
	}
	r.CachePath = tmpDir

	if _, err := r.DownloadIndexFile(); err != nil {
		m.logger.Debug("repository validation failed",
			zap.String("repo", cfg.Name),
			zap.String("url", cfg.URL),
			zap.Error(err))
		return &customerrors.InvalidRepositoryError{
			Repo: cfg.Name,
			Violations: []*customerrors.ValidationError{{
				Field:   "url",
				Value:   cfg.URL,
				Message: fmt.Sprintf("unable to fetch repository index: %v", err),
			}},
		}
	}
	return nil
}
