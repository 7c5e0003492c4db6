package errors

import (
	"fmt"
	"strings"
)

// Common error types
type (
	// RepositoryError wraps failures of an operation on a package repository
	RepositoryError struct {
		Op   string // Operation that failed
		Repo string // Repository name
		Err  error  // Original error
	}

	// HelmError wraps failures reported by the helm libraries
	HelmError struct {
		Op      string                 // Operation that failed
		Err     error                  // Original error
		Entry   string                 // Helm repository entry if applicable
		Details map[string]interface{} // Additional context
	}

	// ValidationError describes a single invalid field
	ValidationError struct {
		Field   string      // Field that failed validation
		Value   interface{} // Invalid value
		Message string      // Validation message
	}

	// InvalidRepositoryError aggregates every violation found on a repository
	InvalidRepositoryError struct {
		Repo       string
		Violations []*ValidationError
	}

	// ConfigError wraps configuration-related errors
	ConfigError struct {
		Parameter string      // Parameter that caused the error
		Value     interface{} // Invalid value
		Err       error       // Original error
	}

	// FilterError is returned when a filter expression cannot be parsed or evaluated
	FilterError struct {
		Expr string
		Err  error
	}

	// ServiceError is the structured error returned by the repositories service
	ServiceError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// Error implementations

func (e *RepositoryError) Error() string {
	if e.Repo != "" {
		return fmt.Sprintf("repository operation %q failed for repo %q: %v", e.Op, e.Repo, e.Err)
	}
	return fmt.Sprintf("repository operation %q failed: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func (e *HelmError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "helm operation %q failed", e.Op)
	if e.Entry != "" {
		fmt.Fprintf(&sb, " for entry %q", e.Entry)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&sb, " (details: %v)", e.Details)
	}
	return sb.String()
}

func (e *HelmError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for field %q with value %v: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
}

func (e *InvalidRepositoryError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	if e.Repo != "" {
		return fmt.Sprintf("invalid repository %q: %s", e.Repo, strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("invalid repository: %s", strings.Join(msgs, "; "))
}

func (e *InvalidRepositoryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Violations))
	for _, v := range e.Violations {
		errs = append(errs, v)
	}
	return errs
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for parameter %q with value %v: %v", e.Parameter, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid filter expression %q: %v", e.Expr, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
