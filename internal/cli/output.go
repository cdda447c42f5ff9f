package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Process exit statuses.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a spec failed validation, a scenario failed or an invocation failed
	ExitCommandError = 2 // unusable input: paths, specs, arguments, database
)

// ExitError is a command failure with the process exit status to report.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns a failure with exit status code.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError is NewExitError with a cause.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command error to an exit status. Errors without an
// ExitError in their chain exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// Response is the envelope every command prints with --format json.
type Response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError is a loader code (E0xx), a validation code (E1xx) or a
// pipeline error code such as EXTRACTION_ERROR, with its message.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter prints command results as text or as a JSON Response.
type OutputFormatter struct {
	Format string
	Writer io.Writer
	// ErrWriter receives verbose diagnostics so they never mix with JSON
	// on Writer. Nil means Writer.
	ErrWriter io.Writer
	Verbose   bool
}

// JSON reports whether output is a JSON Response.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Encode writes resp as indented JSON.
func (f *OutputFormatter) Encode(resp Response) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success prints data, or an ok Response carrying it.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.Encode(Response{Status: statusOK, Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Failure prints an error Response whose data holds every failure and
// whose error names the first. It is a no-op in text mode, where commands
// print their own listing.
func (f *OutputFormatter) Failure(first ResponseError, data any) error {
	if !f.JSON() {
		return nil
	}
	return f.Encode(Response{Status: statusError, Data: data, Error: &first})
}

// Error prints one coded failure. Text mode shows details only when
// verbose, one sorted key per line for a map.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return f.Encode(Response{
			Status: statusError,
			Error:  &ResponseError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		printDetails(f.Writer, details)
	}
	return nil
}

func printDetails(w io.Writer, details any) {
	m, ok := details.(map[string]any)
	if !ok {
		fmt.Fprintf(w, "Details: %v\n", details)
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, m[k])
	}
}

// VerboseLog prints a diagnostic line when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
