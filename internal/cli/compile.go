package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlext/internal/compiler"
	"github.com/roach88/sqlext/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled extensions.
type CompilationResult struct {
	IRVersion  string              `json:"ir_version"`
	Extensions []CompiledExtension `json:"extensions"`
}

// CompiledExtension is an extension with its content hashes.
type CompiledExtension struct {
	Name    string           `json:"name"`
	Hash    string           `json:"hash"`
	Methods []CompiledMethod `json:"methods"`
}

// CompiledMethod is a method declaration with its signature and hash.
type CompiledMethod struct {
	ir.MethodSpec
	Signature string `json:"signature"`
	Hash      string `json:"hash"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile CUE extension declarations to IR",
		Long: `Compile CUE extension declarations to the JSON IR.

Every method is validated and annotated with its signature and content
hash. Two builds of unchanged declarations produce identical hashes.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)

	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	errs := loadErrors
	for _, ext := range loadResult.Extensions {
		formatter.VerboseLog("Compiling extension: %s (%d method(s))", ext.Name, len(ext.Methods))
		for _, verr := range compiler.Validate(ext) {
			verr.Field = "extension." + ext.Name + "." + verr.Field
			errs = append(errs, verr)
		}
	}
	if len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}

	result, err := BuildCompilationResult(loadResult.Extensions)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// BuildCompilationResult hashes every extension and method.
func BuildCompilationResult(exts []ir.ExtensionSpec) (*CompilationResult, error) {
	result := &CompilationResult{IRVersion: ir.IRVersion, Extensions: []CompiledExtension{}}
	for _, ext := range exts {
		extHash, err := ir.ExtensionHash(ext)
		if err != nil {
			return nil, fmt.Errorf("extension %s: %w", ext.Name, err)
		}
		ce := CompiledExtension{Name: ext.Name, Hash: extHash}
		for _, m := range ext.Methods {
			h, err := ir.MethodHash(ext.Name, m)
			if err != nil {
				return nil, fmt.Errorf("method %s.%s: %w", ext.Name, m.Name, err)
			}
			ce.Methods = append(ce.Methods, CompiledMethod{MethodSpec: m, Signature: m.Signature(), Hash: h})
		}
		result.Extensions = append(result.Extensions, ce)
	}
	return result, nil
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	methods := 0
	for _, ext := range result.Extensions {
		methods += len(ext.Methods)
	}
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d extension(s), %d method(s)\n\n", len(result.Extensions), methods)

	for _, ext := range result.Extensions {
		fmt.Fprintf(formatter.Writer, "%s  %s\n", ext.Name, short(ext.Hash))
		for _, m := range ext.Methods {
			fmt.Fprintf(formatter.Writer, "  %-40s %-7s → %-14s %s\n", m.Signature, m.Kind, m.Returns, short(m.Hash))
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote IR to %s\n", outputFile)
	}
	return nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.JSON() {
		failures := make([]ResponseError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			failures[i] = ResponseError{Code: code, Message: message}
		}
		if err := formatter.Failure(failures[0], failures); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return verr.Code, verr.Field + ": " + verr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeIRToFile writes the compilation result to a file as indented JSON.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
