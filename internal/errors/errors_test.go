package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{"persistence", ErrCodeIndexWrite, CategoryPersistence, SeverityError, false},
		{"dependency", ErrCodeVectorUnavailable, CategoryDependency, SeverityWarning, true},
		{"validation", ErrCodeInvalidInput, CategoryValidation, SeverityError, false},
		{"auth never retries", ErrCodeAuthFailed, CategoryDependency, SeverityWarning, false},
		{"internal", ErrCodeInternal, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeIndexRead, nil))
}

func TestError_UnwrapAndIs(t *testing.T) {
	cause := stderrors.New("disk gone")
	err := PersistenceError("persist nodes", cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, stderrors.Is(err, New(ErrCodeIndexWrite, "other message", nil)))
	assert.False(t, stderrors.Is(err, New(ErrCodeIndexRead, "other code", nil)))
}

func TestError_WithDetail(t *testing.T) {
	err := ValidationError("bad k", nil).WithDetail("k", "-1")
	assert.Equal(t, "-1", err.Details["k"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(DependencyError(ErrCodeEmbeddingUnavailable, "down", nil)))
	assert.False(t, IsRetryable(ValidationError("bad", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeAuthFailed, GetCode(AuthError("denied", nil)))
	assert.Equal(t, "", GetCode(stderrors.New("plain")))
}
