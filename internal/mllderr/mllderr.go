// Package mllderr defines the stable error kinds surfaced by the interpreter
// core and a structured error type carrying code, message, source location
// and an optional wrapped cause.
package mllderr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a stable wire identifier for an error kind.
type Code string

const (
	// Parse/validation
	ParseError       Code = "PARSE_ERROR"
	ValidationFailed Code = "VALIDATION_FAILED"
	InvalidDirective Code = "INVALID_DIRECTIVE"

	// Resolution
	VariableNotFound  Code = "VARIABLE_NOT_FOUND"
	FieldNotFound     Code = "FIELD_NOT_FOUND"
	FieldOutOfBounds  Code = "FIELD_OUT_OF_BOUNDS"
	CircularReference Code = "CIRCULAR_REFERENCE"
	InvalidNodeType   Code = "INVALID_NODE_TYPE"

	// Path/IO
	PathInvalid      Code = "PATH_INVALID"
	PathNotAbsolute  Code = "PATH_NOT_ABSOLUTE"
	PathRootDenied   Code = "PATH_ROOT_DENIED"
	FileNotFound     Code = "FILE_NOT_FOUND"
	PermissionDenied Code = "PERMISSION_DENIED"

	// Execution
	ExecNonzero Code = "EXEC_NONZERO"
	ExecTimeout Code = "EXEC_TIMEOUT"
	Cancelled   Code = "CANCELLED"

	// Pipeline
	PipelineRetryExhausted  Code = "PIPELINE_RETRY_EXHAUSTED"
	RetryDenied             Code = "RETRY_DENIED"
	StreamAfterGuardConflict Code = "STREAM_AFTER_GUARD_CONFLICT"

	// Imports
	ImportCycle         Code = "IMPORT_CYCLE"
	ImportCollision     Code = "IMPORT_COLLISION"
	ImportDepthExceeded Code = "IMPORT_DEPTH_EXCEEDED"
	ModuleNotFound      Code = "MODULE_NOT_FOUND"

	// Hooks/guards
	HookDuplicate Code = "HOOK_DUPLICATE"
	GuardDeny     Code = "GUARD_DENY"

	// Tool collections
	ExposeMissingRequired Code = "EXPOSE_MISSING_REQUIRED"

	// Value model
	InvalidValueType     Code = "INVALID_VALUE_TYPE"
	SecurityLabelRequired Code = "SECURITY_LABEL_REQUIRED"
	AssignMismatch        Code = "ASSIGN_MISMATCH"
	ContextImbalance       Code = "CONTEXT_IMBALANCE"

	// Security
	SecurityPolicyDeny Code = "SECURITY_POLICY_DENY"

	// Transport
	TransportError  Code = "TRANSPORT_ERROR"
	Timeout         Code = "TIMEOUT"
	RequestNotFound Code = "REQUEST_NOT_FOUND"
	InvalidRequest  Code = "INVALID_REQUEST"
)

// Location mirrors the AST location shape consumed from the grammar.
type Location struct {
	Line     int
	Column   int
	FilePath string
}

// Error is the structured error type used across the interpreter core.
type Error struct {
	Code     Code
	Message  string
	Location *Location
	Cause    error
}

func (e *Error) Error() string {
	if e.Location != nil && e.Location.FilePath != "" {
		return fmt.Sprintf("%s: %s (%s:%d:%d)", e.Code, e.Message, e.Location.FilePath, e.Location.Line, e.Location.Column)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, mllderr.New(code, "")) style sentinel matching by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds an Error with no location or cause.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// At attaches a source location.
func (e *Error) At(loc *Location) *Error {
	e.Location = loc
	return e
}

// Wrap builds an Error that preserves a stack trace over cause via pkg/errors,
// used at exec/resolver boundaries where the underlying failure crosses an
// external-process or network edge.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   errors.WithStack(cause),
	}
}

// Sentinel returns a bare Error usable only as an errors.Is target for code.
func Sentinel(code Code) *Error { return &Error{Code: code} }

// HasCode reports whether err (or any error it wraps) carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		switch w := err.(type) {
		case interface{ Unwrap() error }:
			err = w.Unwrap()
		case interface{ Cause() error }:
			err = w.Cause()
		default:
			return false
		}
	}
	return false
}
