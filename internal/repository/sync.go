package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"helm.sh/helm/v3/pkg/helmpath"
	"helm.sh/helm/v3/pkg/repo"

	"github.com/cropalato/pkgrepo/internal/filter"
	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// SyncRepositories synchronizes the index of every stored helm repository
func (m *Manager) SyncRepositories(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	m.logger.Debug("starting repository sync")

	result := &SyncResult{
		Failed: make(map[string]string),
	}

	configs, err := m.store.List(ctx, Context{})
	if err != nil {
		return nil, fmt.Errorf("failed to load repositories: %w", err)
	}

	for _, cfg := range configs {
		if !cfg.HelmIndexed() {
			result.Skipped = append(result.Skipped, cfg.Name)
			continue
		}
		info, err := m.syncRepository(cfg)
		if err != nil {
			m.recorder.RecordRepoError(cfg.Name, "sync")
			result.Failed[cfg.Name] = err.Error()
			continue
		}
		m.recorder.RecordRepoSync(cfg.Name, info.ChartCount)
		result.Successful = append(result.Successful, cfg.Name)
	}

	m.logger.Debug("repository sync completed",
		zap.Int("successful", len(result.Successful)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

// SyncRepository synchronizes a single repository
func (m *Manager) SyncRepository(ctx context.Context, ref Reference) (RepoInfo, error) {
	cfg, err := m.store.Get(ctx, ref)
	if err != nil {
		return RepoInfo{}, customerrors.WrapRepositoryError(err, "sync", ref.Identifier)
	}
	if !cfg.HelmIndexed() {
		return RepoInfo{}, customerrors.NewRepositoryError("sync", ref.Identifier,
			fmt.Errorf("storage type %q is not synchronized locally", cfg.Type))
	}

	info, err := m.syncRepository(cfg)
	if err != nil {
		m.recorder.RecordRepoError(cfg.Name, "sync")
		return RepoInfo{}, customerrors.WrapRepositoryError(err, "sync", ref.Identifier)
	}
	m.recorder.RecordRepoSync(cfg.Name, info.ChartCount)
	return info, nil
}

// GetRepositoryInfo returns information about all synchronized helm repositories
func (m *Manager) GetRepositoryInfo(ctx context.Context) ([]RepoInfo, error) {
	configs, err := m.store.List(ctx, Context{})
	if err != nil {
		return nil, err
	}

	info := make([]RepoInfo, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.HelmIndexed() {
			continue
		}

		repoInfo := RepoInfo{
			Name:      cfg.Name,
			URL:       cfg.URL,
			CacheFile: m.indexPath(cfg.Name),
		}

		if index, err := repo.LoadIndexFile(repoInfo.CacheFile); err == nil {
			repoInfo.HasIndexFile = true
			repoInfo.LastSynced = index.Generated
			repoInfo.ChartCount = len(index.Entries)
			repoInfo.LatestVersion = latestOf(index)
		}

		info = append(info, repoInfo)
	}

	return info, nil
}

// Charts lists the charts of a synchronized repository
func (m *Manager) Charts(ctx context.Context, ref Reference) ([]ChartInfo, error) {
	if _, err := m.store.Get(ctx, ref); err != nil {
		return nil, customerrors.WrapRepositoryError(err, "fetch", ref.Identifier)
	}

	index, err := repo.LoadIndexFile(m.indexPath(ref.Identifier))
	if err != nil {
		return nil, customerrors.WrapRepositoryError(err, "load_index", ref.Identifier)
	}

	charts := make([]ChartInfo, 0, len(index.Entries))
	for name, versions := range index.Entries {
		charts = append(charts, ChartInfo{
			Name:          name,
			LatestVersion: latestVersion(versions),
			Versions:      len(versions),
		})
	}
	sort.Slice(charts, func(i, j int) bool { return charts[i].Name < charts[j].Name })

	return charts, nil
}

// FilterIndex keeps the charts of index accepted by rule and reports how many were dropped
func FilterIndex(index *repo.IndexFile, rule *filter.Rule) (*repo.IndexFile, int, error) {
	matcher, err := filter.Compile(rule)
	if err != nil {
		return nil, 0, err
	}

	out := repo.NewIndexFile()
	out.APIVersion = index.APIVersion
	out.Generated = index.Generated
	out.Annotations = index.Annotations
	out.PublicKeys = index.PublicKeys

	dropped := 0
	for name, versions := range index.Entries {
		ok, err := matcher.Match(name)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			dropped++
			continue
		}
		out.Entries[name] = versions
	}

	return out, dropped, nil
}

// Private helper methods

func (m *Manager) indexPath(name string) string {
	return filepath.Join(m.settings.RepositoryCache, helmpath.CacheIndexFile(name))
}

func (m *Manager) syncRepository(cfg Config) (RepoInfo, error) {
	m.logger.Debug("syncing repository",
		zap.String("name", cfg.Name),
		zap.String("url", cfg.URL))

	entry, err := m.entryFor(cfg, m.settings.RepositoryCache)
	if err != nil {
		return RepoInfo{}, err
	}

	r, err := repo.NewChartRepository(entry, m.getters)
	if err != nil {
		return RepoInfo{}, customerrors.WrapHelmError(err, "new_chart_repository", cfg.Name, nil)
	}
	r.CachePath = m.settings.RepositoryCache

	path, err := r.DownloadIndexFile()
	if err != nil {
		return RepoInfo{}, fmt.Errorf("failed to download repository index: %w", err)
	}

	index, err := repo.LoadIndexFile(path)
	if err != nil {
		return RepoInfo{}, fmt.Errorf("failed to load repository index: %w", err)
	}

	filtered, dropped, err := FilterIndex(index, cfg.CustomDetail.FilterRule)
	if err != nil {
		return RepoInfo{}, err
	}
	if dropped > 0 {
		if err := filtered.WriteFile(path, 0644); err != nil {
			return RepoInfo{}, customerrors.WrapHelmError(err, "write_index", cfg.Name, map[string]interface{}{"path": path})
		}
	}

	m.logger.Debug("repository synced",
		zap.String("name", cfg.Name),
		zap.Int("charts", len(filtered.Entries)),
		zap.Int("filtered_out", dropped))

	return RepoInfo{
		Name:          cfg.Name,
		URL:           cfg.URL,
		LastSynced:    time.Now(),
		ChartCount:    len(filtered.Entries),
		FilteredOut:   dropped,
		CacheFile:     path,
		HasIndexFile:  true,
		LatestVersion: latestOf(filtered),
	}, nil
}

// latestOf returns the highest chart version found in an index
func latestOf(index *repo.IndexFile) string {
	var latest *semver.Version
	for _, versions := range index.Entries {
		if v, err := semver.NewVersion(latestVersion(versions)); err == nil {
			if latest == nil || v.GreaterThan(latest) {
				latest = v
			}
		}
	}
	if latest == nil {
		return ""
	}
	return latest.Original()
}

func latestVersion(versions repo.ChartVersions) string {
	var latest *semver.Version
	for _, cv := range versions {
		if cv == nil || cv.Metadata == nil {
			continue
		}
		v, err := semver.NewVersion(cv.Version)
		if err != nil {
			continue
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
	}
	if latest == nil {
		return ""
	}
	return latest.Original()
}
