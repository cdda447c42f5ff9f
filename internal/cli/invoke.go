package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlext"
	"github.com/roach88/sqlext/internal/ir"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Driver    string
	Database  string
	Specs     string
	Schema    string
	KeyPolicy string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <Extension.method> [args...]",
		Short: "Invoke a declared method against a database",
		Long: `Invoke one declared method against a database and print its result.

Arguments for string, bytes, time, uuid and decimal parameters are passed
as given; other arguments are parsed as YAML scalars (42, true, null).

Example:
  sqlext invoke --db ./app.db --specs ./specs SomethingDAO.insert Brian
  sqlext invoke --driver pgx --db "$PG_DSN" --specs ./specs SomethingDAO.findNameById 1`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeMethod(cmd.Context(), opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Driver, "driver", "sqlite3", "database/sql driver name (sqlite3|pgx|sqlserver)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN or SQLite path (required)")
	cmd.Flags().StringVar(&opts.Specs, "specs", "", "directory of CUE extension declarations (required)")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "SQL file to execute before invoking")
	cmd.Flags().StringVar(&opts.KeyPolicy, "key-policy", "", "override the generated key policy (name|position)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("specs")

	return cmd
}

// InvokeResult is the JSON payload of a successful invocation.
type InvokeResult struct {
	Extension string `json:"extension"`
	Method    string `json:"method"`
	Result    any    `json:"result"`
}

func invokeMethod(ctx context.Context, opts *InvokeOptions, target string, rawArgs []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	extName, methodName, ok := strings.Cut(target, ".")
	if !ok || extName == "" || methodName == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid method %q: want Extension.method", target))
	}

	loadResult, loadErrors := LoadSpecs(opts.Specs, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "loading specs", loadErrors[0])
	}
	var spec *ir.ExtensionSpec
	for i := range loadResult.Extensions {
		if loadResult.Extensions[i].Name == extName {
			spec = &loadResult.Extensions[i]
		}
	}
	if spec == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("extension %q not found in %s", extName, opts.Specs))
	}
	method, ok := spec.Method(methodName)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("extension %s has no method %q", extName, methodName))
	}

	args, err := parseInvokeArgs(method, rawArgs)
	if err != nil {
		return WrapExitError(ExitCommandError, "parsing arguments", err)
	}

	dbOpts := []sqlext.Option{sqlext.WithLogger(NewLogger(cmd.ErrOrStderr(), opts.Verbose))}
	if opts.KeyPolicy != "" {
		policy, err := sqlext.ParseKeyPolicy(opts.KeyPolicy)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --key-policy", err)
		}
		dbOpts = append(dbOpts, sqlext.WithKeyPolicy(policy))
	}

	db, err := sqlext.Open(opts.Driver, opts.Database, dbOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer db.Close()

	if opts.Schema != "" {
		schema, err := os.ReadFile(opts.Schema)
		if err != nil {
			return WrapExitError(ExitCommandError, "reading schema", err)
		}
		if _, err := db.SQL().ExecContext(ctx, string(schema)); err != nil {
			return WrapExitError(ExitCommandError, "applying schema", err)
		}
	}

	ext, err := db.Attach(*spec)
	if err != nil {
		return WrapExitError(ExitCommandError, "attaching extension", err)
	}

	formatter.VerboseLog("Invoking %s with %d argument(s)", method.Signature(), len(args))
	result, err := ext.Call(ctx, methodName, args...)
	if err != nil {
		var serr *sqlext.Error
		if errors.As(err, &serr) {
			_ = formatter.Error(string(serr.Code), serr.Message, map[string]any{
				"extension": serr.Extension,
				"method":    serr.Method,
				"statement": serr.Statement,
				"transient": serr.Transient,
			})
		} else {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "invocation failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(InvokeResult{Extension: extName, Method: methodName, Result: result})
	}
	printResult(formatter, result)
	return nil
}

// parseInvokeArgs converts command-line strings into call arguments
// according to the declared parameter types.
func parseInvokeArgs(m ir.MethodSpec, raw []string) ([]any, error) {
	if len(raw) != len(m.Params) {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", m.Signature(), len(m.Params), len(raw))
	}
	args := make([]any, len(raw))
	for i, s := range raw {
		switch m.Params[i].Type {
		case ir.TypeString, ir.TypeBytes, ir.TypeTime, ir.TypeUUID, ir.TypeDecimal:
			args[i] = s
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, m.Params[i].Name, err)
		}
		args[i] = v
	}
	return args, nil
}

func printResult(formatter *OutputFormatter, result any) {
	switch v := result.(type) {
	case nil:
		fmt.Fprintln(formatter.Writer, "(no value)")
	case []map[string]any:
		for _, row := range v {
			fmt.Fprintln(formatter.Writer, formatRow(row))
		}
		fmt.Fprintf(formatter.Writer, "(%d row(s))\n", len(v))
	default:
		fmt.Fprintln(formatter.Writer, v)
	}
}

func formatRow(row map[string]any) string {
	obj := make(ir.IRObject, len(row))
	for k, v := range row {
		iv, err := ir.FromGo(v)
		if err != nil {
			iv = ir.IRString(fmt.Sprint(v))
		}
		obj[k] = iv
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprint(row)
	}
	return string(data)
}
