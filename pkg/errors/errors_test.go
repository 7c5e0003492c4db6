package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRepositoryError(t *testing.T) {
	baseErr := errors.New("base error")

	tests := []struct {
		name     string
		err      error
		op       string
		repo     string
		wantStr  string
		wantBase error
	}{
		{
			name:     "basic repository error",
			err:      baseErr,
			op:       "create",
			repo:     "bitnami",
			wantStr:  `repository operation "create" failed for repo "bitnami": base error`,
			wantBase: baseErr,
		},
		{
			name:     "repository error without repo",
			err:      baseErr,
			op:       "list",
			wantStr:  `repository operation "list" failed: base error`,
			wantBase: baseErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repoErr := NewRepositoryError(tt.op, tt.repo, tt.err)

			assert.Equal(t, tt.wantStr, repoErr.Error())
			assert.True(t, errors.Is(repoErr, tt.wantBase))
			assert.True(t, IsRepositoryError(repoErr))
		})
	}
}

func TestHelmError(t *testing.T) {
	baseErr := errors.New("base error")

	helmErr := NewHelmError("write_repo_file", baseErr, "stable", map[string]interface{}{"path": "/tmp/r.yaml"})

	assert.Equal(t, `helm operation "write_repo_file" failed for entry "stable": base error (details: map[path:/tmp/r.yaml])`, helmErr.Error())
	assert.True(t, errors.Is(helmErr, baseErr))
	assert.True(t, IsHelmError(helmErr))
	assert.Nil(t, WrapHelmError(nil, "noop", "", nil))
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   interface{}
		message string
		want    string
	}{
		{
			name:    "validation error with value",
			field:   "type",
			value:   "zip",
			message: "unknown storage type",
			want:    `validation failed for field "type" with value zip: unknown storage type`,
		},
		{
			name:    "validation error without value",
			field:   "name",
			message: "required field",
			want:    `validation failed for field "name": required field`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validErr := NewValidationError(tt.field, tt.value, tt.message)

			assert.Equal(t, tt.want, validErr.Error())
			assert.True(t, IsValidationError(validErr))
		})
	}
}

func TestInvalidRepositoryError(t *testing.T) {
	err := &InvalidRepositoryError{
		Repo: "bitnami",
		Violations: []*ValidationError{
			{Field: "name", Message: "required"},
			{Field: "url", Message: "required"},
		},
	}

	assert.Equal(t, `invalid repository "bitnami": name: required; url: required`, err.Error())
	assert.True(t, IsValidationError(err))

	wrapped := WrapRepositoryError(err, "create", "bitnami")
	assert.True(t, IsValidationError(wrapped))
}

func TestErrorWrapping(t *testing.T) {
	baseErr := errors.New("base error")

	err := WrapRepositoryError(baseErr, "update", "stable")
	assert.True(t, errors.Is(err, baseErr))

	contextErr := ErrorContextf(err, "failed to submit repository %s", "stable")
	assert.Contains(t, contextErr.Error(), "failed to submit repository stable")
	assert.True(t, errors.Is(contextErr, baseErr))

	assert.Nil(t, ErrorContextf(nil, "ignored"))
	assert.Nil(t, WrapRepositoryError(nil, "update", "stable"))
}

func TestErrorTypes(t *testing.T) {
	baseErr := errors.New("base error")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name:  "repository error",
			err:   NewRepositoryError("test", "", baseErr),
			check: IsRepositoryError,
		},
		{
			name:  "helm error",
			err:   NewHelmError("test", baseErr, "", nil),
			check: IsHelmError,
		},
		{
			name:  "validation error",
			err:   NewValidationError("test", nil, "invalid"),
			check: IsValidationError,
		},
		{
			name:  "config error",
			err:   NewConfigError("test", nil, baseErr),
			check: IsConfigError,
		},
		{
			name:  "filter error",
			err:   NewFilterError(".name", baseErr),
			check: IsFilterError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestParseServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *ServiceError
	}{
		{
			name: "grpc status with plain message",
			err:  status.Error(codes.InvalidArgument, "url is required"),
			want: &ServiceError{Code: "InvalidArgument", Message: "url is required"},
		},
		{
			name: "grpc status with json body",
			err:  status.Error(codes.Internal, `{"code": 3, "message": "unable to fetch index"}`),
			want: &ServiceError{Code: "3", Message: "unable to fetch index"},
		},
		{
			name: "plain json error",
			err:  errors.New(`{"code":"AlreadyExists","message":"repository bitnami exists"}`),
			want: &ServiceError{Code: "AlreadyExists", Message: "repository bitnami exists"},
		},
		{
			name: "opaque text",
			err:  errors.New("connection refused"),
			want: &ServiceError{Message: "connection refused"},
		},
		{
			name: "json without message is opaque",
			err:  errors.New(`{"code": 5}`),
			want: &ServiceError{Message: `{"code": 5}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseServiceError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Nil(t, ParseServiceError(nil))
}

func TestParseServiceErrorKeepsWrappedServiceError(t *testing.T) {
	svcErr := &ServiceError{Code: "NotFound", Message: "missing"}
	wrapped := WrapRepositoryError(svcErr, "fetch", "bitnami")

	assert.Same(t, svcErr, ParseServiceError(wrapped))
	assert.Equal(t, "NotFound: missing", svcErr.Error())
}
