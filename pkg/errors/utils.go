package errors

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/status"
)

// Common error checks
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
)

// Sentinel errors shared by the repository stores
var (
	ErrNotFound      = errors.New("package repository not found")
	ErrAlreadyExists = errors.New("package repository already exists")
)

// IsRepositoryError checks if the error is a RepositoryError
func IsRepositoryError(err error) bool {
	var repoErr *RepositoryError
	return As(err, &repoErr)
}

// IsHelmError checks if the error is a HelmError
func IsHelmError(err error) bool {
	var helmErr *HelmError
	return As(err, &helmErr)
}

// IsValidationError checks if the error is, or aggregates, a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return As(err, &validationErr)
}

// IsConfigError checks if the error is a ConfigError
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return As(err, &configErr)
}

// IsFilterError checks if the error is a FilterError
func IsFilterError(err error) bool {
	var filterErr *FilterError
	return As(err, &filterErr)
}

// Error creation helpers

// NewRepositoryError creates a new RepositoryError
func NewRepositoryError(op string, repo string, err error) error {
	return &RepositoryError{
		Op:   op,
		Repo: repo,
		Err:  err,
	}
}

// NewHelmError creates a new HelmError with the given details
func NewHelmError(op string, err error, entry string, details map[string]interface{}) error {
	return &HelmError{
		Op:      op,
		Err:     err,
		Entry:   entry,
		Details: details,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewConfigError creates a new ConfigError
func NewConfigError(parameter string, value interface{}, err error) error {
	return &ConfigError{
		Parameter: parameter,
		Value:     value,
		Err:       err,
	}
}

// NewFilterError creates a new FilterError
func NewFilterError(expr string, err error) error {
	return &FilterError{
		Expr: expr,
		Err:  err,
	}
}

// Error wrapping helpers

// WrapRepositoryError wraps an existing error with repository context
func WrapRepositoryError(err error, op string, repo string) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{
		Op:   op,
		Repo: repo,
		Err:  err,
	}
}

// WrapHelmError wraps an existing error with helm context
func WrapHelmError(err error, op string, entry string, details map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &HelmError{
		Op:      op,
		Err:     err,
		Entry:   entry,
		Details: details,
	}
}

// ErrorContextf adds context to an error
func ErrorContextf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// ParseServiceError extracts the code and message reported by the repositories service.
// JSON-shaped messages are decoded, anything else is kept verbatim.
func ParseServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if As(err, &svcErr) {
		return svcErr
	}

	result := &ServiceError{Message: err.Error()}
	if st, ok := status.FromError(err); ok {
		result.Code = st.Code().String()
		result.Message = st.Message()
	}

	if body, ok := decodeServiceBody(result.Message); ok {
		return body
	}

	return result
}

func decodeServiceBody(msg string) (*ServiceError, bool) {
	msg = strings.TrimSpace(msg)
	if !strings.HasPrefix(msg, "{") {
		return nil, false
	}

	var body struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(msg, &body); err != nil {
		return nil, false
	}
	if body.Message == "" {
		return nil, false
	}

	code := ""
	if body.Code != nil {
		code = fmt.Sprint(body.Code)
	}
	return &ServiceError{Code: code, Message: body.Message}, true
}
