// Package sqlerr defines the classified errors returned by the binding,
// execution and extraction pipeline.
//
// Every failure surfaced to a caller is an *Error carrying a Code, so callers
// can branch on the kind of failure with the Is* helpers (which see through
// wrapping via errors.As).
package sqlerr

import (
	"errors"
	"fmt"
)

// Code categorizes pipeline errors.
type Code string

const (
	// CodeBinding indicates an argument/declaration mismatch detected before
	// execution (wrong argument count, unsupported or mismatched type).
	CodeBinding Code = "BINDING_ERROR"

	// CodeUnresolvedParameter indicates a placeholder with no matching binding.
	// This is a declaration defect and is never retried.
	CodeUnresolvedParameter Code = "UNRESOLVED_PARAMETER"

	// CodeExtraction indicates the raw result shape does not satisfy the
	// declared return contract.
	CodeExtraction Code = "EXTRACTION_ERROR"

	// CodeKeyNotFound indicates the extraction policy could not locate a
	// generated key in the key-reporting result.
	CodeKeyNotFound Code = "KEY_NOT_FOUND"

	// CodeExecution indicates the database reported a failure.
	CodeExecution Code = "EXECUTION_FAULT"
)

// Error is a classified pipeline error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Extension and Method identify the declared operation, when known.
	Extension string
	Method    string

	// Statement is the SQL text involved (execution faults).
	Statement string

	// Engine is the target engine name (execution faults).
	Engine string

	// Transient reports whether the driver classified the failure as
	// retryable (lock contention, serialization failure, lost connection).
	// The pipeline never retries on its own.
	Transient bool

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Extension != "" && e.Method != "" {
		msg = fmt.Sprintf("%s (method=%s.%s)", msg, e.Extension, e.Method)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithMethod returns a copy of e annotated with the declared operation.
// Existing annotations are kept.
func (e *Error) WithMethod(extension, method string) *Error {
	c := *e
	if c.Extension == "" {
		c.Extension = extension
	}
	if c.Method == "" {
		c.Method = method
	}
	return &c
}

// WithPrefix returns a copy of e whose message is prefixed with context,
// such as the placeholder being bound.
func (e *Error) WithPrefix(prefix string) *Error {
	c := *e
	c.Message = prefix + ": " + c.Message
	return &c
}

// Annotate attaches the declared operation to the classified error in err's
// chain and returns that error. Unclassified errors are returned unchanged.
func Annotate(err error, extension, method string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	return e.WithMethod(extension, method)
}

// Binding creates a BINDING_ERROR.
func Binding(format string, args ...any) *Error {
	return &Error{Code: CodeBinding, Message: fmt.Sprintf(format, args...)}
}

// Unresolved creates an UNRESOLVED_PARAMETER error for a placeholder.
func Unresolved(placeholder string) *Error {
	return &Error{
		Code:    CodeUnresolvedParameter,
		Message: fmt.Sprintf("placeholder %q has no binding", placeholder),
	}
}

// Extraction creates an EXTRACTION_ERROR.
func Extraction(format string, args ...any) *Error {
	return &Error{Code: CodeExtraction, Message: fmt.Sprintf(format, args...)}
}

// WrapExtraction creates an EXTRACTION_ERROR around a cause.
func WrapExtraction(err error, format string, args ...any) *Error {
	return &Error{Code: CodeExtraction, Message: fmt.Sprintf(format, args...), Err: err}
}

// KeyNotFound creates a KEY_NOT_FOUND error.
func KeyNotFound(format string, args ...any) *Error {
	return &Error{Code: CodeKeyNotFound, Message: fmt.Sprintf(format, args...)}
}

// Execution creates an EXECUTION_FAULT wrapping a driver error.
func Execution(err error, engine, statement string, transient bool) *Error {
	return &Error{
		Code:      CodeExecution,
		Message:   "statement execution failed",
		Statement: statement,
		Engine:    engine,
		Transient: transient,
		Err:       err,
	}
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBindingError reports whether err is a binding failure. Unresolved
// placeholders count as binding failures: both are detected before any
// execution and both are fixed at the declaration or call site.
func IsBindingError(err error) bool {
	switch CodeOf(err) {
	case CodeBinding, CodeUnresolvedParameter:
		return true
	}
	return false
}

// IsUnresolvedParameter reports whether err is an UNRESOLVED_PARAMETER error.
func IsUnresolvedParameter(err error) bool {
	return CodeOf(err) == CodeUnresolvedParameter
}

// IsExtractionError reports whether err is an EXTRACTION_ERROR.
func IsExtractionError(err error) bool {
	return CodeOf(err) == CodeExtraction
}

// IsKeyNotFound reports whether err is a KEY_NOT_FOUND error.
func IsKeyNotFound(err error) bool {
	return CodeOf(err) == CodeKeyNotFound
}

// IsExecutionFault reports whether err is an EXECUTION_FAULT.
func IsExecutionFault(err error) bool {
	return CodeOf(err) == CodeExecution
}

// IsTransient reports whether err is an execution fault the driver marked
// as retryable.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeExecution && e.Transient
	}
	return false
}
