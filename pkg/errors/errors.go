package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies failures by how the daemon reacts to them.
type ErrorType string

const (
	ErrorTypeConfigParse    ErrorType = "config_parse"    // malformed line, skipped
	ErrorTypeConfigIO       ErrorType = "config_io"       // unreadable file, skipped
	ErrorTypeValidation     ErrorType = "validation"      // out-of-range value, entry dropped
	ErrorTypeScan           ErrorType = "scan"            // process table unusable, tick skipped
	ErrorTypeNotFound       ErrorType = "not_found"       // target exited, benign
	ErrorTypePermission     ErrorType = "permission"      // insufficient privilege
	ErrorTypeRLimit         ErrorType = "rlimit"          // nice value beyond RLIMIT_NICE
	ErrorTypeApply          ErrorType = "apply"           // helper or write failed
	ErrorTypeCgroupBuild    ErrorType = "cgroup_build"    // cgroup dropped from live table
	ErrorTypeCgroupTeardown ErrorType = "cgroup_teardown" // logged only
	ErrorTypeIO             ErrorType = "io"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeInternal       ErrorType = "internal"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError of the same type.
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewConfigParseError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfigParse, message, cause)
}

func NewConfigIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfigIO, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewScanError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeScan, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewRLimitError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeRLimit, message, cause)
}

func NewApplyError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeApply, message, cause)
}

func NewCgroupBuildError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCgroupBuild, message, cause)
}

func NewCgroupTeardownError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCgroupTeardown, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

// TypeOf returns the ErrorType of the first DomainError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func IsConfigParseError(err error) bool    { return TypeOf(err) == ErrorTypeConfigParse }
func IsConfigIOError(err error) bool       { return TypeOf(err) == ErrorTypeConfigIO }
func IsValidationError(err error) bool     { return TypeOf(err) == ErrorTypeValidation }
func IsScanError(err error) bool           { return TypeOf(err) == ErrorTypeScan }
func IsNotFoundError(err error) bool       { return TypeOf(err) == ErrorTypeNotFound }
func IsPermissionError(err error) bool     { return TypeOf(err) == ErrorTypePermission }
func IsRLimitError(err error) bool         { return TypeOf(err) == ErrorTypeRLimit }
func IsApplyError(err error) bool          { return TypeOf(err) == ErrorTypeApply }
func IsCgroupBuildError(err error) bool    { return TypeOf(err) == ErrorTypeCgroupBuild }
func IsCgroupTeardownError(err error) bool { return TypeOf(err) == ErrorTypeCgroupTeardown }
func IsIOError(err error) bool             { return TypeOf(err) == ErrorTypeIO }
func IsConflictError(err error) bool       { return TypeOf(err) == ErrorTypeConflict }
func IsInternalError(err error) bool       { return TypeOf(err) == ErrorTypeInternal }

// ErrorCollection aggregates independent failures, e.g. all aspects of one apply.
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// Merge appends every error of other.
func (e *ErrorCollection) Merge(other *ErrorCollection) {
	if other == nil {
		return
	}
	e.Errors = append(e.Errors, other.Errors...)
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
