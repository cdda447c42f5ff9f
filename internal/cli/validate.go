package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/sqlext/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Watch    bool
	Debounce time.Duration
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate extension declarations",
		Long: `Validate CUE extension declarations without writing output.

Compiles every extension, then checks kinds, return shapes, parameter
types, statement syntax and that every placeholder has exactly one binding.

With --watch, validation reruns whenever a .cue file under the directory
changes, until interrupted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Watch {
				return runValidate(opts.RootOptions, args[0], cmd)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runValidateWatch(ctx, opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "revalidate when specs change")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 100*time.Millisecond, "delay before revalidating after a change")

	return cmd
}

// runValidateWatch validates once, then again after every batch of spec
// changes. Validation failures are reported but do not stop the watch.
func runValidateWatch(ctx context.Context, opts *ValidateOptions, specsDir string, cmd *cobra.Command) error {
	logger := NewLogger(cmd.ErrOrStderr(), opts.Verbose)

	report := func() {
		err := runValidate(opts.RootOptions, specsDir, cmd)
		if GetExitCode(err) == ExitCommandError {
			logger.Warn("validation could not run", "dir", specsDir, "error", err)
		}
	}
	report()

	w, err := NewSpecWatcher(specsDir, logger, opts.Debounce)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting watcher", err)
	}
	defer w.Close()

	return w.Run(ctx, func(changed []string) {
		logger.Info("specs changed, revalidating", "files", len(changed))
		report()
	})
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeFailFast)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	validationErrors := validateAll(loadResult.CUEValue, formatter)

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}
	return outputValidateSuccess(formatter)
}

// validateAll compiles and validates every extension in the CUE value,
// collecting all errors.
func validateAll(value cue.Value, formatter *OutputFormatter) []compiler.ValidationError {
	var allErrors []compiler.ValidationError

	count := 0
	iterErr := compiler.EachExtension(value, func(name string, decl cue.Value) error {
		count++
		formatter.VerboseLog("Validating extension: %s", name)

		spec, compileErr := compiler.CompileExtension(decl)
		if compileErr != nil {
			var cErr *compiler.CompileError
			if errors.As(compileErr, &cErr) {
				allErrors = append(allErrors, compiler.ValidationError{
					Field:   "extension." + name + "." + cErr.Field,
					Message: cErr.Message,
					Code:    MapFieldToErrorCode(cErr.Field),
					Line:    getLineFromCuePos(cErr.Pos),
				})
			} else {
				allErrors = append(allErrors, compiler.ValidationError{
					Field:   "extension." + name,
					Message: compileErr.Error(),
					Code:    ErrCodeGeneric,
				})
			}
			return nil
		}

		for _, verr := range compiler.Validate(spec) {
			verr.Field = "extension." + name + "." + verr.Field
			allErrors = append(allErrors, verr)
		}
		return nil
	})
	if iterErr != nil {
		allErrors = append(allErrors, compiler.ValidationError{
			Field:   "extension",
			Message: iterErr.Error(),
			Code:    ErrCodeGeneric,
		})
	}

	if count == 0 && len(allErrors) == 0 {
		allErrors = append(allErrors, compiler.ValidationError{
			Field:   "specs",
			Message: "no extensions found in specs",
			Code:    ErrCodeGeneric,
		})
	}

	return allErrors
}

// getLineFromCuePos extracts line number from a token.Pos.
func getLineFromCuePos(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true})
	}

	fmt.Fprintln(formatter.Writer, "✓ All specs valid")
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		first := ResponseError{Code: errs[0].Code, Message: errs[0].Message}
		if err := formatter.Failure(first, ValidationResult{Valid: false, Errors: errs}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

// ValidateSpecsDir validates all specs in a directory.
// This is a helper function for external callers.
func ValidateSpecsDir(specsDir string) ([]compiler.ValidationError, error) {
	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeFailFast)
	if loadResult == nil && len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}

	silent := &OutputFormatter{Format: "text", Writer: io.Discard}
	return validateAll(loadResult.CUEValue, silent), nil
}
