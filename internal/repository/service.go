package repository

import "context"

// Service manages package repositories.
type Service interface {
	// Add creates a new package repository.
	Add(ctx context.Context, cfg Config) (Reference, error)
	// Update replaces the configuration of an existing package repository.
	Update(ctx context.Context, cfg Config) (Reference, error)
	// Get fetches the configuration of a package repository.
	Get(ctx context.Context, ref Reference) (Config, error)
	// List lists the repositories of a cluster/namespace.
	List(ctx context.Context, c Context) ([]Summary, error)
	// Delete removes a package repository.
	Delete(ctx context.Context, ref Reference) error
}

// Store persists repository configurations.
type Store interface {
	Create(ctx context.Context, cfg Config) error
	Update(ctx context.Context, cfg Config) error
	Get(ctx context.Context, ref Reference) (Config, error)
	// List returns the configs matching c; empty fields match everything.
	List(ctx context.Context, c Context) ([]Config, error)
	Delete(ctx context.Context, ref Reference) error
}

// SyncRecorder receives the outcome of repository synchronizations.
type SyncRecorder interface {
	RecordRepoSync(repo string, charts int)
	RecordRepoError(repo, operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRepoSync(string, int) {}
func (nopRecorder) RecordRepoError(string, string) {}
