// Package form holds the editable state of a package repository and submits
// it to a repository service, allowing a single submission at a time.
package form

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cropalato/pkgrepo/internal/repository"
)

// Outcome is the result of a Submit call
type Outcome int

const (
	// Dropped means another submission was in flight; nothing was sent
	Dropped Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Dropped:
		return "dropped"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Operations reported to the Recorder
const (
	OperationCreate = "create"
	OperationUpdate = "update"
)

type state int

const (
	idle state = iota
	submitting
)

// Recorder receives the outcome of every submission
type Recorder interface {
	RecordSubmission(operation string, outcome Outcome, duration time.Duration)
}

// Errors keeps the last create and update failures apart
type Errors struct {
	Create error
	Update error
}

// Form is the editable state of a package repository
type Form struct {
	service      repository.Service
	logger       *zap.Logger
	ref          *repository.Reference
	afterInstall func()
	recorder     Recorder

	mu     sync.Mutex
	state  state
	fields repository.FormFields
	errs   Errors
}

// Option configures a Form
type Option func(*Form)

// WithReference puts the form in edit mode for the given repository
func WithReference(ref repository.Reference) Option {
	return func(f *Form) {
		f.ref = &ref
	}
}

// WithAfterInstall registers a hook run after every successful submission
func WithAfterInstall(hook func()) Option {
	return func(f *Form) {
		f.afterInstall = hook
	}
}

// WithRecorder reports submissions to r
func WithRecorder(r Recorder) Option {
	return func(f *Form) {
		f.recorder = r
	}
}

// New creates an empty form
func New(service repository.Service, logger *zap.Logger, opts ...Option) *Form {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Form{
		service: service,
		logger:  logger,
		fields:  repository.NewFormFields(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.ref != nil {
		f.fields.Name = f.ref.Identifier
		f.fields.Context = f.ref.Context
		f.fields.Plugin = f.ref.Plugin
	}
	return f
}

// Editing reports whether the form edits an existing repository
func (f *Form) Editing() bool {
	return f.ref != nil
}

// Load populates the fields from the repository being edited. It is a no-op
// in create mode.
func (f *Form) Load(ctx context.Context) error {
	if f.ref == nil {
		return nil
	}

	cfg, err := f.service.Get(ctx, *f.ref)
	if err != nil {
		return err
	}
	fields := repository.PopulateForm(cfg, f.logger)

	f.mu.Lock()
	f.fields = fields
	f.mu.Unlock()
	return nil
}

// Set edits the fields. The name of a repository being edited cannot change.
func (f *Form) Set(edit func(*repository.FormFields)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := f.fields.Name
	edit(&f.fields)
	if f.ref != nil {
		f.fields.Name = name
	}
}

// Fields returns a copy of the current fields
func (f *Form) Fields() repository.FormFields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields
}

// Err returns the last create and update errors
func (f *Form) Err() Errors {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs
}

// Submit sends the current fields to the service. A call made while a
// previous one is still in flight returns Dropped without reaching the service.
func (f *Form) Submit(ctx context.Context) (Outcome, error) {
	f.mu.Lock()
	if f.state == submitting {
		f.mu.Unlock()
		f.logger.Debug("submission already in flight, dropping")
		return Dropped, nil
	}
	f.state = submitting
	cfg := repository.BuildConfig(f.fields)
	f.mu.Unlock()

	op := OperationCreate
	if f.ref != nil {
		op = OperationUpdate
	}

	start := time.Now()
	var err error
	if op == OperationUpdate {
		_, err = f.service.Update(ctx, cfg)
	} else {
		_, err = f.service.Add(ctx, cfg)
	}
	duration := time.Since(start)

	f.mu.Lock()
	f.state = idle
	if op == OperationUpdate {
		f.errs.Update = err
	} else {
		f.errs.Create = err
	}
	f.mu.Unlock()

	outcome := Succeeded
	if err != nil {
		outcome = Failed
		f.logger.Debug("package repository submission failed",
			zap.String("operation", op),
			zap.String("repo", cfg.Name),
			zap.Error(err))
	}
	if f.recorder != nil {
		f.recorder.RecordSubmission(op, outcome, duration)
	}

	if err != nil {
		return Failed, err
	}
	if f.afterInstall != nil {
		f.afterInstall()
	}
	return Succeeded, nil
}
