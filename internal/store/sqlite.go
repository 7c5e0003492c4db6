// Package store persists package repository configurations in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/cropalato/pkgrepo/internal/repository"
	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// migrations are applied in order; applied versions are tracked in schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS package_repositories (
    cluster     TEXT NOT NULL DEFAULT '',
    namespace   TEXT NOT NULL DEFAULT '',
    plugin      TEXT NOT NULL,
    name        TEXT NOT NULL,
    type        TEXT NOT NULL,
    url         TEXT NOT NULL,
    config      TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (cluster, namespace, plugin, name)
);
CREATE INDEX IF NOT EXISTS idx_package_repositories_ns ON package_repositories(cluster, namespace);
`,
	},
}

// record is a row of the package_repositories table
type record struct {
	Cluster   string `db:"cluster"`
	Namespace string `db:"namespace"`
	Plugin    string `db:"plugin"`
	Name      string `db:"name"`
	Type      string `db:"type"`
	URL       string `db:"url"`
	Config    string `db:"config"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

// SQLiteStore implements repository.Store on top of SQLite
type SQLiteStore struct {
	db *sqlx.DB
}

var _ repository.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.Get(&count, `SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`, m.version, time.Now().Unix()); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Create inserts a new configuration
func (s *SQLiteStore) Create(ctx context.Context, cfg repository.Config) error {
	rec, err := toRecord(cfg)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	rec.CreatedAt, rec.UpdatedAt = now, now

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO package_repositories (cluster, namespace, plugin, name, type, url, config, created_at, updated_at)
		VALUES (:cluster, :namespace, :plugin, :name, :type, :url, :config, :created_at, :updated_at)
		ON CONFLICT (cluster, namespace, plugin, name) DO NOTHING
	`, rec)
	if err != nil {
		return fmt.Errorf("failed to insert repository: %w", err)
	}
	return expectRow(res, customerrors.ErrAlreadyExists)
}

// Update replaces an existing configuration
func (s *SQLiteStore) Update(ctx context.Context, cfg repository.Config) error {
	rec, err := toRecord(cfg)
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().Unix()

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE package_repositories
		SET type = :type, url = :url, config = :config, updated_at = :updated_at
		WHERE cluster = :cluster AND namespace = :namespace AND plugin = :plugin AND name = :name
	`, rec)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	return expectRow(res, customerrors.ErrNotFound)
}

// Get fetches the configuration of a repository
func (s *SQLiteStore) Get(ctx context.Context, ref repository.Reference) (repository.Config, error) {
	var rec record
	err := s.db.GetContext(ctx, &rec, `
		SELECT * FROM package_repositories
		WHERE cluster = ? AND namespace = ? AND plugin = ? AND name = ?
	`, ref.Context.Cluster, ref.Context.Namespace, ref.Plugin.Name, ref.Identifier)
	if err == sql.ErrNoRows {
		return repository.Config{}, customerrors.ErrNotFound
	}
	if err != nil {
		return repository.Config{}, fmt.Errorf("failed to query repository: %w", err)
	}
	return fromRecord(rec)
}

// List returns the configurations of a cluster and namespace. Empty fields match everything.
func (s *SQLiteStore) List(ctx context.Context, c repository.Context) ([]repository.Config, error) {
	var recs []record
	err := s.db.SelectContext(ctx, &recs, `
		SELECT * FROM package_repositories
		WHERE (? = '' OR cluster = ?) AND (? = '' OR namespace = ?)
		ORDER BY cluster, namespace, name
	`, c.Cluster, c.Cluster, c.Namespace, c.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	configs := make([]repository.Config, 0, len(recs))
	for _, rec := range recs {
		cfg, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Delete removes a configuration
func (s *SQLiteStore) Delete(ctx context.Context, ref repository.Reference) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM package_repositories
		WHERE cluster = ? AND namespace = ? AND plugin = ? AND name = ?
	`, ref.Context.Cluster, ref.Context.Namespace, ref.Plugin.Name, ref.Identifier)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return expectRow(res, customerrors.ErrNotFound)
}

func expectRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

func toRecord(cfg repository.Config) (record, error) {
	data, err := json.MarshalToString(cfg)
	if err != nil {
		return record{}, fmt.Errorf("failed to encode repository %q: %w", cfg.Name, err)
	}
	return record{
		Cluster:   cfg.Context.Cluster,
		Namespace: cfg.Context.Namespace,
		Plugin:    cfg.Plugin.Name,
		Name:      cfg.Name,
		Type:      string(cfg.Type),
		URL:       cfg.URL,
		Config:    data,
	}, nil
}

func fromRecord(rec record) (repository.Config, error) {
	var cfg repository.Config
	if err := json.UnmarshalFromString(rec.Config, &cfg); err != nil {
		return repository.Config{}, fmt.Errorf("failed to decode repository %q: %w", rec.Name, err)
	}
	return cfg, nil
}
