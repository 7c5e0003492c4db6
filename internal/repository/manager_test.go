package repository

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/repo"

	"github.com/cropalato/pkgrepo/internal/filter"
	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

type memStore struct {
	mu      sync.Mutex
	configs map[string]Config
}

func newMemStore() *memStore {
	return &memStore{configs: make(map[string]Config)}
}

func memKey(c Context, plugin, name string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.Cluster, c.Namespace, plugin, name)
}

func (s *memStore) Create(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(cfg.Context, cfg.Plugin.Name, cfg.Name)
	if _, ok := s.configs[k]; ok {
		return customerrors.ErrAlreadyExists
	}
	s.configs[k] = cfg
	return nil
}

func (s *memStore) Update(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(cfg.Context, cfg.Plugin.Name, cfg.Name)
	if _, ok := s.configs[k]; !ok {
		return customerrors.ErrNotFound
	}
	s.configs[k] = cfg
	return nil
}

func (s *memStore) Get(_ context.Context, ref Reference) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[memKey(ref.Context, ref.Plugin.Name, ref.Identifier)]
	if !ok {
		return Config{}, customerrors.ErrNotFound
	}
	return cfg, nil
}

func (s *memStore) List(_ context.Context, c Context) ([]Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Config
	for _, cfg := range s.configs {
		if c.Cluster != "" && cfg.Context.Cluster != c.Cluster {
			continue
		}
		if c.Namespace != "" && cfg.Context.Namespace != c.Namespace {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) Delete(_ context.Context, ref Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(ref.Context, ref.Plugin.Name, ref.Identifier)
	if _, ok := s.configs[k]; !ok {
		return customerrors.ErrNotFound
	}
	delete(s.configs, k)
	return nil
}

type syncEvent struct {
	repo   string
	charts int
	op     string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []syncEvent
}

func (r *fakeRecorder) RecordRepoSync(repo string, charts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, syncEvent{repo: repo, charts: charts})
}

func (r *fakeRecorder) RecordRepoError(repo, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, syncEvent{repo: repo, op: op})
}

func setupTestEnvironment(t *testing.T) (*Manager, *memStore, *fakeRecorder) {
	tmpDir := t.TempDir()

	settings := cli.New()
	settings.RepositoryConfig = filepath.Join(tmpDir, "repositories.yaml")
	settings.RepositoryCache = filepath.Join(tmpDir, "cache")
	require.NoError(t, os.MkdirAll(settings.RepositoryCache, 0755))

	store := newMemStore()
	recorder := &fakeRecorder{}
	manager := NewManager(settings, store, zaptest.NewLogger(t), WithSyncRecorder(recorder))

	return manager, store, recorder
}

// serveIndex starts a chart repository serving an index with the given charts
func serveIndex(t *testing.T, charts map[string][]string) *httptest.Server {
	dir := t.TempDir()
	index := repo.NewIndexFile()
	for name, versions := range charts {
		for _, v := range versions {
			md := &chart.Metadata{APIVersion: chart.APIVersionV2, Name: name, Version: v}
			require.NoError(t, index.MustAdd(md, fmt.Sprintf("%s-%s.tgz", name, v), "", "sha256:0"))
		}
	}
	require.NoError(t, index.WriteFile(filepath.Join(dir, "index.yaml"), 0644))

	server := httptest.NewServer(http.FileServer(http.Dir(dir)))
	t.Cleanup(server.Close)
	return server
}

func helmConfig(name, url string) Config {
	f := NewFormFields()
	f.Name = name
	f.URL = url
	f.Context = Context{Cluster: "default", Namespace: "kubeapps"}
	f.SelectPlugin(Plugin{Name: PluginHelm, Version: "v1alpha1"})
	return BuildConfig(f)
}

func TestAddRepository(t *testing.T) {
	server := serveIndex(t, map[string][]string{"nginx": {"1.0.0"}})

	tests := []struct {
		name        string
		cfg         func() Config
		expectError bool
		checkError  func(t *testing.T, err error)
		expectEntry bool
	}{
		{
			name:        "Valid helm repository",
			cfg:         func() Config { return helmConfig("bitnami", server.URL) },
			expectEntry: true,
		},
		{
			name: "Missing name",
			cfg:  func() Config { return helmConfig("", server.URL) },
			checkError: func(t *testing.T, err error) {
				var invalid *customerrors.InvalidRepositoryError
				require.True(t, customerrors.As(err, &invalid))
				assert.Equal(t, "name", invalid.Violations[0].Field)
			},
			expectError: true,
		},
		{
			name: "Unreachable index",
			cfg:  func() Config { return helmConfig("broken", server.URL+"/missing") },
			checkError: func(t *testing.T, err error) {
				assert.True(t, customerrors.IsRepositoryError(err))
				var invalid *customerrors.InvalidRepositoryError
				require.True(t, customerrors.As(err, &invalid))
				assert.Equal(t, "url", invalid.Violations[0].Field)
			},
			expectError: true,
		},
		{
			name: "Validation skipped",
			cfg: func() Config {
				cfg := helmConfig("unchecked", server.URL+"/missing")
				cfg.CustomDetail.PerformValidation = false
				return cfg
			},
			expectEntry: true,
		},
		{
			name: "Kapp repository is stored only",
			cfg: func() Config {
				f := NewFormFields()
				f.Name = "tce"
				f.URL = "projects.registry.vmware.com/tce/main:0.12.0"
				f.SelectPlugin(Plugin{Name: PluginKapp, Version: "v1alpha1"})
				return BuildConfig(f)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, store, _ := setupTestEnvironment(t)
			cfg := tt.cfg()

			ref, err := manager.Add(context.Background(), cfg)
			if tt.expectError {
				require.Error(t, err)
				if tt.checkError != nil {
					tt.checkError(t, err)
				}
				assert.Empty(t, store.configs)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, cfg.Reference(), ref)

			stored, err := store.Get(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, cfg, stored)

			file, err := manager.loadFile()
			require.NoError(t, err)
			assert.Equal(t, tt.expectEntry, file.Has(cfg.Name))
		})
	}
}

func TestAddRepositoryConflict(t *testing.T) {
	manager, _, _ := setupTestEnvironment(t)
	server := serveIndex(t, map[string][]string{"nginx": {"1.0.0"}})

	_, err := manager.Add(context.Background(), helmConfig("bitnami", server.URL))
	require.NoError(t, err)

	other := helmConfig("bitnami", server.URL)
	other.Context.Namespace = "other"
	_, err = manager.Add(context.Background(), other)
	require.Error(t, err)
	assert.True(t, customerrors.Is(err, customerrors.ErrAlreadyExists))
}

func TestAddRepositoryWritesCredentials(t *testing.T) {
	manager, _, _ := setupTestEnvironment(t)
	server := serveIndex(t, map[string][]string{"nginx": {"1.0.0"}})

	cfg := helmConfig("private", server.URL)
	cfg.Auth.Type = AuthBasic
	cfg.Auth.UsernamePassword = UsernamePassword{Username: "user", Password: "secret"}
	cfg.Auth.PassCredentials = true

	_, err := manager.Add(context.Background(), cfg)
	require.NoError(t, err)

	file, err := manager.loadFile()
	require.NoError(t, err)
	entry := file.Get("private")
	require.NotNil(t, entry)
	assert.Equal(t, server.URL, entry.URL)
	assert.Equal(t, "user", entry.Username)
	assert.Equal(t, "secret", entry.Password)
	assert.True(t, entry.PassCredentialsAll)
}

func TestUpdateRepository(t *testing.T) {
	manager, store, _ := setupTestEnvironment(t)
	server := serveIndex(t, map[string][]string{"nginx": {"1.0.0"}})
	ctx := context.Background()

	cfg := helmConfig("bitnami", server.URL)
	_, err := manager.Add(ctx, cfg)
	require.NoError(t, err)

	cfg.Description = "updated"
	cfg.Interval = 600
	_, err = manager.Update(ctx, cfg)
	require.NoError(t, err)

	stored, err := store.Get(ctx, cfg.Reference())
	require.NoError(t, err)
	assert.Equal(t, "updated", stored.Description)
	assert.Equal(t, uint32(600), stored.Interval)

	missing := helmConfig("unknown", server.URL)
	_, err = manager.Update(ctx, missing)
	require.Error(t, err)
	assert.True(t, customerrors.Is(err, customerrors.ErrNotFound))
}

func TestUpdateRepositoryRestoresOnHelmFailure(t *testing.T) {
	manager, store, _ := setupTestEnvironment(t)
	ctx := context.Background()

	cfg := helmConfig("bitnami", "https://a.example.com")
	cfg.CustomDetail.PerformValidation = false
	_, err := manager.Add(ctx, cfg)
	require.NoError(t, err)

	// an unreadable repositories.yaml makes the helm step fail
	require.NoError(t, os.Remove(manager.settings.RepositoryConfig))
	require.NoError(t, os.Mkdir(manager.settings.RepositoryConfig, 0755))

	updated := cfg
	updated.URL = "https://b.example.com"
	_, err = manager.Update(ctx, updated)
	require.Error(t, err)
	assert.True(t, customerrors.IsRepositoryError(err))

	stored, err := store.Get(ctx, cfg.Reference())
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com", stored.URL)
}

func TestUpdateRepositoryHelmNameTaken(t *testing.T) {
	manager, store, _ := setupTestEnvironment(t)
	ctx := context.Background()

	owner := helmConfig("shared", "https://owner.example.com")
	owner.Context.Namespace = "a"
	owner.CustomDetail.PerformValidation = false
	_, err := manager.Add(ctx, owner)
	require.NoError(t, err)

	other := helmConfig("shared", "oci://registry.example.com/charts")
	other.Context.Namespace = "b"
	other.Type = StorageOCI
	other.CustomDetail.PerformValidation = false
	_, err = manager.Add(ctx, other)
	require.NoError(t, err)

	other.Type = StorageHelm
	other.URL = "https://other.example.com"
	_, err = manager.Update(ctx, other)
	require.Error(t, err)
	assert.True(t, customerrors.Is(err, customerrors.ErrAlreadyExists))

	file, err := repo.LoadFile(manager.settings.RepositoryConfig)
	require.NoError(t, err)
	entry := file.Get("shared")
	require.NotNil(t, entry)
	assert.Equal(t, "https://owner.example.com", entry.URL)

	stored, err := store.Get(ctx, other.Reference())
	require.NoError(t, err)
	assert.Equal(t, StorageOCI, stored.Type)

	// leaving helm storage must not remove the entry of another namespace
	other.Type = StorageOCI
	other.URL = "oci://registry.example.com/other"
	_, err = manager.Update(ctx, other)
	require.NoError(t, err)

	file, err = repo.LoadFile(manager.settings.RepositoryConfig)
	require.NoError(t, err)
	assert.True(t, file.Has("shared"))
}

func TestListRepositories(t *testing.T) {
	manager, _, _ := setupTestEnvironment(t)
	ctx := context.Background()

	for name, ns := range map[string]string{"one": "a", "two": "a", "three": "b"} {
		cfg := helmConfig(name, "https://charts.example.com")
		cfg.Context.Namespace = ns
		cfg.CustomDetail.PerformValidation = false
		_, err := manager.Add(ctx, cfg)
		require.NoError(t, err)
	}

	assert.Len(t, mustList(t, manager, Context{}), 3)
	assert.Len(t, mustList(t, manager, Context{Namespace: "a"}), 2)
	assert.Len(t, mustList(t, manager, Context{Cluster: "default", Namespace: "b"}), 1)
	assert.Empty(t, mustList(t, manager, Context{Namespace: "c"}))
}

func mustList(t *testing.T, m *Manager, c Context) []Summary {
	summaries, err := m.List(context.Background(), c)
	require.NoError(t, err)
	return summaries
}

func TestDeleteRepository(t *testing.T) {
	manager, store, _ := setupTestEnvironment(t)
	server := serveIndex(t, map[string][]string{"nginx": {"1.0.0"}})
	ctx := context.Background()

	cfg := helmConfig("bitnami", server.URL)
	_, err := manager.Add(ctx, cfg)
	require.NoError(t, err)
	_, err = manager.SyncRepository(ctx, cfg.Reference())
	require.NoError(t, err)
	require.FileExists(t, manager.indexPath("bitnami"))

	require.NoError(t, manager.Delete(ctx, cfg.Reference()))

	assert.Empty(t, store.configs)
	assert.NoFileExists(t, manager.indexPath("bitnami"))
	file, err := manager.loadFile()
	require.NoError(t, err)
	assert.False(t, file.Has("bitnami"))

	err = manager.Delete(ctx, cfg.Reference())
	require.Error(t, err)
	assert.True(t, customerrors.Is(err, customerrors.ErrNotFound))
}

func TestSyncRepositories(t *testing.T) {
	manager, _, recorder := setupTestEnvironment(t)
	server := serveIndex(t, map[string][]string{
		"nginx":   {"1.0.0", "1.2.0"},
		"redis":   {"17.0.0"},
		"mariadb": {"11.4.2"},
	})
	ctx := context.Background()

	filtered := helmConfig("filtered", server.URL)
	filtered.CustomDetail.FilterRule = filter.Encode("nginx, redis", false, false)
	_, err := manager.Add(ctx, filtered)
	require.NoError(t, err)

	full := helmConfig("full", server.URL)
	_, err = manager.Add(ctx, full)
	require.NoError(t, err)

	broken := helmConfig("broken", server.URL+"/missing")
	broken.CustomDetail.PerformValidation = false
	_, err = manager.Add(ctx, broken)
	require.NoError(t, err)

	f := NewFormFields()
	f.Name = "carvel"
	f.URL = "registry.example.com/packages:1.0.0"
	f.SelectPlugin(Plugin{Name: PluginKapp, Version: "v1alpha1"})
	_, err = manager.Add(ctx, BuildConfig(f))
	require.NoError(t, err)

	result, err := manager.SyncRepositories(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"filtered", "full"}, result.Successful)
	assert.Equal(t, []string{"carvel"}, result.Skipped)
	assert.Contains(t, result.Failed, "broken")

	index, err := repo.LoadIndexFile(manager.indexPath("filtered"))
	require.NoError(t, err)
	assert.Len(t, index.Entries, 2)
	assert.NotContains(t, index.Entries, "mariadb")

	charts, err := manager.Charts(ctx, filtered.Reference())
	require.NoError(t, err)
	require.Len(t, charts, 2)
	assert.Equal(t, "nginx", charts[0].Name)
	assert.Equal(t, "1.2.0", charts[0].LatestVersion)
	assert.Equal(t, 2, charts[0].Versions)
	assert.Equal(t, "redis", charts[1].Name)

	assert.Contains(t, recorder.events, syncEvent{repo: "filtered", charts: 2})
	assert.Contains(t, recorder.events, syncEvent{repo: "full", charts: 3})
	assert.Contains(t, recorder.events, syncEvent{repo: "broken", op: "sync"})

	info, err := manager.GetRepositoryInfo(ctx)
	require.NoError(t, err)
	require.Len(t, info, 3)
	for _, ri := range info {
		switch ri.Name {
		case "full":
			assert.True(t, ri.HasIndexFile)
			assert.Equal(t, 3, ri.ChartCount)
			assert.Equal(t, "17.0.0", ri.LatestVersion)
		case "broken":
			assert.False(t, ri.HasIndexFile)
		}
	}
}

func TestSyncRepositoryExclude(t *testing.T) {
	manager, _, _ := setupTestEnvironment(t)
	server := serveIndex(t, map[string][]string{
		"nginx":       {"1.0.0"},
		"nginx-extra": {"0.1.0"},
		"redis":       {"17.0.0"},
	})
	ctx := context.Background()

	cfg := helmConfig("bitnami", server.URL)
	cfg.CustomDetail.FilterRule = filter.Encode("^nginx", true, true)
	_, err := manager.Add(ctx, cfg)
	require.NoError(t, err)

	info, err := manager.SyncRepository(ctx, cfg.Reference())
	require.NoError(t, err)
	assert.Equal(t, 1, info.ChartCount)
	assert.Equal(t, 2, info.FilteredOut)
	assert.Equal(t, "17.0.0", info.LatestVersion)
}

func TestFilterIndex(t *testing.T) {
	index := repo.NewIndexFile()
	for _, name := range []string{"apache", "nginx", "redis"} {
		md := &chart.Metadata{APIVersion: chart.APIVersionV2, Name: name, Version: "1.0.0"}
		require.NoError(t, index.MustAdd(md, name+"-1.0.0.tgz", "https://charts.example.com", "sha256:0"))
	}

	tests := []struct {
		name     string
		rule     *filter.Rule
		expected []string
		dropped  int
		wantErr  bool
	}{
		{
			name:     "No rule keeps everything",
			expected: []string{"apache", "nginx", "redis"},
		},
		{
			name:     "Exact include",
			rule:     filter.Encode("nginx", false, false),
			expected: []string{"nginx"},
			dropped:  2,
		},
		{
			name:     "Regex exclude",
			rule:     filter.Encode("^a, ^r", true, true),
			expected: []string{"nginx"},
			dropped:  2,
		},
		{
			name:    "Broken expression",
			rule:    &filter.Rule{JQ: ".name |||"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, dropped, err := FilterIndex(index, tt.rule)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, customerrors.IsFilterError(err))
				return
			}
			require.NoError(t, err)

			names := make([]string, 0, len(out.Entries))
			for n := range out.Entries {
				names = append(names, n)
			}
			assert.ElementsMatch(t, tt.expected, names)
			assert.Equal(t, tt.dropped, dropped)
			assert.Equal(t, index.APIVersion, out.APIVersion)
		})
	}
}
