package sqlext

import "github.com/roach88/sqlext/internal/sqlerr"

// Error is a classified failure. Use errors.As to inspect Code, Statement,
// Engine and Transient.
type Error = sqlerr.Error

// Code categorizes errors.
type Code = sqlerr.Code

// Error codes.
const (
	CodeBinding             = sqlerr.CodeBinding
	CodeUnresolvedParameter = sqlerr.CodeUnresolvedParameter
	CodeExtraction          = sqlerr.CodeExtraction
	CodeKeyNotFound         = sqlerr.CodeKeyNotFound
	CodeExecution           = sqlerr.CodeExecution
)

// IsBindingError reports an argument or declaration mismatch, including an
// unresolved placeholder.
func IsBindingError(err error) bool { return sqlerr.IsBindingError(err) }

// IsUnresolvedParameter reports a placeholder without a binding.
func IsUnresolvedParameter(err error) bool { return sqlerr.IsUnresolvedParameter(err) }

// IsExtractionError reports a result that does not fit the declared shape.
func IsExtractionError(err error) bool { return sqlerr.IsExtractionError(err) }

// IsKeyNotFound reports a generated key the key policy could not locate.
func IsKeyNotFound(err error) bool { return sqlerr.IsKeyNotFound(err) }

// IsExecutionFault reports a failure reported by the database.
func IsExecutionFault(err error) bool { return sqlerr.IsExecutionFault(err) }

// IsTransient reports an execution fault the driver marks as retryable.
func IsTransient(err error) bool { return sqlerr.IsTransient(err) }

// CodeOf returns the code of the classified error in err's chain, or "".
func CodeOf(err error) Code { return sqlerr.CodeOf(err) }
