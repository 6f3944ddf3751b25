package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormatting(t *testing.T) {
	cause := fmt.Errorf("no such process")
	err := NewNotFoundError("thread 42 exited", cause).WithContext("tid", 42)

	assert.Equal(t, "not_found: thread 42 exited: no such process", err.Error())
	assert.Equal(t, 42, err.Context["tid"])
	assert.Same(t, cause, errors.Unwrap(err))

	bare := NewScanError("no processes", nil)
	assert.Equal(t, "scan: no processes", bare.Error())
}

func TestTypeHelpersFollowWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"config_parse", NewConfigParseError("x", nil), IsConfigParseError},
		{"config_io", NewConfigIOError("x", nil), IsConfigIOError},
		{"validation", NewValidationError("x", nil), IsValidationError},
		{"scan", NewScanError("x", nil), IsScanError},
		{"not_found", NewNotFoundError("x", nil), IsNotFoundError},
		{"permission", NewPermissionError("x", nil), IsPermissionError},
		{"rlimit", NewRLimitError("x", nil), IsRLimitError},
		{"apply", NewApplyError("x", nil), IsApplyError},
		{"cgroup_build", NewCgroupBuildError("x", nil), IsCgroupBuildError},
		{"cgroup_teardown", NewCgroupTeardownError("x", nil), IsCgroupTeardownError},
		{"internal", NewInternalError("x", nil), IsInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestDomainErrorIsComparesType(t *testing.T) {
	err := NewPermissionError("denied", nil)
	assert.True(t, errors.Is(err, &DomainError{Type: ErrorTypePermission}))
	assert.False(t, errors.Is(err, &DomainError{Type: ErrorTypeNotFound}))
}

func TestErrorCollection(t *testing.T) {
	c := NewErrorCollection()
	assert.False(t, c.HasErrors())
	assert.NoError(t, c.ToError())

	c.Add(nil)
	c.Add(NewApplyError("first", nil))
	assert.Equal(t, "apply: first", c.Error())

	other := NewErrorCollection()
	other.Add(NewApplyError("second", nil))
	c.Merge(other)
	c.Merge(nil)

	assert.Len(t, c.Errors, 2)
	assert.Equal(t, "2 errors occurred: apply: first", c.ToError().Error())
}
