package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/sqlext/internal/compiler"
	"github.com/roach88/sqlext/internal/ir"
)

// LoadMode controls how errors are handled during spec loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading specs from a directory.
type LoadResult struct {
	Extensions []ir.ExtensionSpec
	CUEValue   cue.Value // The raw CUE value for additional processing
	FileCount  int       // Number of CUE files found
}

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// errStopLoading ends extension iteration in LoadModeFailFast.
var errStopLoading = errors.New("stop loading")

// LoadSpecs loads and optionally compiles CUE specs from a directory.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadSpecs(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	value, err := compiler.Load(dir)
	if err != nil {
		code := ErrCodeLoadFailed
		var cerr *compiler.LoadError
		if errors.As(err, &cerr) && cerr.Stage == compiler.StageBuild {
			code = ErrCodeBuildFailed
		}
		return nil, []error{&LoadError{Code: code, Message: err.Error()}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	iterErr := compiler.EachExtension(value, func(name string, decl cue.Value) error {
		spec, compileErr := compiler.CompileExtension(decl)
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "extension."+name))
			if mode == LoadModeFailFast {
				return errStopLoading
			}
			return nil
		}
		result.Extensions = append(result.Extensions, *spec)
		return nil
	})
	if errors.Is(iterErr, errStopLoading) {
		return result, errs
	}
	if iterErr != nil {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: iterErr.Error()})
		if mode == LoadModeFailFast {
			return result, errs
		}
	}

	if len(result.Extensions) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no extensions found in specs"})
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Declaration errors raised while compiling CUE
	ErrCodeNoMethods      = compiler.ErrExtensionNoMethods // extension declares no methods
	ErrCodeInvalidType    = compiler.ErrInvalidParamType   // unsupported parameter type
	ErrCodeInvalidMethod  = compiler.ErrInvalidKind        // method has no statement, or both query and update
	ErrCodeInvalidLiteral = compiler.ErrInvalidBinding     // bind literal is not a concrete scalar
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "method":
		return ErrCodeNoMethods
	case field == "type":
		return ErrCodeInvalidType
	case field == "literal":
		return ErrCodeInvalidLiteral
	case strings.HasPrefix(field, "method."):
		return ErrCodeInvalidMethod
	default:
		return ErrCodeGeneric
	}
}
