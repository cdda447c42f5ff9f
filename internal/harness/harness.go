package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/sqlext"
	"github.com/roach88/sqlext/internal/compiler"
	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/store"
	"github.com/roach88/sqlext/internal/testutil"
)

// Harness executes scenario steps against one database.
type Harness struct {
	db     *sqlext.DB
	exts   map[string]*sqlext.Extension
	logger *slog.Logger
	seq    int64
}

// Run executes a scenario with logging discarded.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(context.Background(), scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger executes a test scenario and returns the result.
//
// Each scenario runs in a fresh SQLite database in a temporary directory.
// Execution ids are sequential so that log output is reproducible.
//
// Execution flow:
// 1. Compile the scenario's CUE specs
// 2. Open the database and apply the schema
// 3. Attach every extension
// 4. Execute setup steps, then flow steps with expect validation
// 5. Evaluate assertions
//
// The returned error reports a scenario that could not run; failed
// expectations and assertions are recorded in the Result.
func RunWithLogger(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	specs, err := loadSpecs(scenario.Specs)
	if err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}

	dir, err := os.MkdirTemp("", "sqlext-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}
	defer os.RemoveAll(dir)

	opts, err := dbOptions(scenario, logger)
	if err != nil {
		return nil, err
	}
	db, err := sqlext.Open("sqlite3", filepath.Join(dir, "scenario.db"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	for i, stmt := range scenario.Schema {
		if _, err := db.SQL().ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("schema[%d]: %w", i, err)
		}
	}

	h := &Harness{
		db:     db,
		exts:   make(map[string]*sqlext.Extension, len(specs)),
		logger: logger,
	}
	for _, spec := range specs {
		if _, dup := h.exts[spec.Name]; dup {
			return nil, fmt.Errorf("extension %s declared twice", spec.Name)
		}
		ext, err := db.Attach(spec)
		if err != nil {
			return nil, err
		}
		h.exts[spec.Name] = ext
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{
		DB:  db.SQL(),
		Ctx: ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func dbOptions(scenario *Scenario, logger *slog.Logger) ([]sqlext.Option, error) {
	opts := []sqlext.Option{
		sqlext.WithLogger(logger),
		sqlext.WithIDGenerator(testutil.NewSequentialIDs("exec")),
	}
	if scenario.KeyReporting != "" {
		k, err := store.ParseKeyReporting(scenario.KeyReporting)
		if err != nil {
			return nil, err
		}
		engine := sqlext.SQLite
		engine.KeyReporting = k
		opts = append(opts, sqlext.WithEngine(engine))
	}
	if scenario.KeyPolicy != "" {
		p, err := sqlext.ParseKeyPolicy(scenario.KeyPolicy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sqlext.WithKeyPolicy(p))
	}
	return opts, nil
}

// executeSetup runs all setup steps. Setup calls must succeed.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep, result *Result) error {
	for i, step := range setup {
		ext, method, args, err := h.prepare(step.Invoke, step.Args, result.Captures)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if _, err := h.call(ctx, ext, step.Invoke, method, args, result); err != nil {
			return fmt.Errorf("setup step %d: %s: %w", i, step.Invoke, err)
		}
		h.logger.Info("setup step completed", "step", i, "method", step.Invoke)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Each step:
// 1. Resolves "$name" arguments from earlier captures
// 2. Calls the method, recording invocation and completion in the trace
// 3. Checks the outcome against the expect clause
// 4. Captures the result if the step names a capture
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		ext, method, args, err := h.prepare(step.Invoke, step.Args, result.Captures)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		value, callErr := h.call(ctx, ext, step.Invoke, method, args, result)
		for _, msg := range checkExpect(step, value, callErr) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, msg))
		}
		if callErr == nil && step.Capture != "" {
			result.Captures[step.Capture] = value
		}

		h.logger.Info("flow step completed",
			"step", i,
			"method", step.Invoke,
			"error_code", string(sqlext.CodeOf(callErr)),
		)
	}
	return nil
}

// prepare finds the extension for target and resolves captured arguments.
func (h *Harness) prepare(target string, raw []any, captures map[string]any) (*sqlext.Extension, string, []any, error) {
	extName, method, _ := strings.Cut(target, ".")
	ext, ok := h.exts[extName]
	if !ok {
		return nil, "", nil, fmt.Errorf("unknown extension %q", extName)
	}
	args := make([]any, len(raw))
	for i, a := range raw {
		s, isString := a.(string)
		if !isString || !strings.HasPrefix(s, "$") {
			args[i] = a
			continue
		}
		v, ok := captures[s[1:]]
		if !ok {
			return nil, "", nil, fmt.Errorf("argument %d: %s was not captured", i, s)
		}
		args[i] = v
	}
	return ext, method, args, nil
}

// call invokes one method and records it in the trace.
func (h *Harness) call(ctx context.Context, ext *sqlext.Extension, target, method string, args []any, result *Result) (any, error) {
	h.seq++
	result.AddInvocationTrace(target, traceValue(args), h.seq)

	value, err := ext.Call(ctx, method, args...)

	h.seq++
	if err != nil {
		code := string(sqlext.CodeOf(err))
		if code == "" {
			code = "UNCLASSIFIED"
		}
		result.AddCompletionTrace(target, nil, code, h.seq)
		return nil, err
	}
	result.AddCompletionTrace(target, traceValue(value), "", h.seq)
	return value, nil
}

// checkExpect compares a call's outcome with the step's expectation.
func checkExpect(step FlowStep, value any, callErr error) []string {
	exp := step.Expect
	switch {
	case exp == nil || exp.HasValue:
		if callErr != nil {
			return []string{fmt.Sprintf("unexpected error: %v", callErr)}
		}
		if exp == nil {
			return nil
		}
		want, got := canonical(traceValue(exp.Value)), canonical(traceValue(value))
		if want != got {
			return []string{fmt.Sprintf("expected value %s, got %s", want, got)}
		}
	default:
		if callErr == nil {
			return []string{fmt.Sprintf("expected error %s, got value %s", exp.Error, canonical(traceValue(value)))}
		}
		if code := string(sqlext.CodeOf(callErr)); code != exp.Error {
			return []string{fmt.Sprintf("expected error %s, got %s (%v)", exp.Error, code, callErr)}
		}
	}
	return nil
}

// traceValue converts call arguments and results into IR values for the
// trace. Values the IR cannot hold, such as fractional floats, are kept as
// their printed form.
func traceValue(v any) ir.IRValue {
	switch val := v.(type) {
	case []map[string]any:
		arr := make(ir.IRArray, len(val))
		for i, row := range val {
			arr[i] = traceValue(row)
		}
		return arr
	case []any:
		arr := make(ir.IRArray, len(val))
		for i, elem := range val {
			arr[i] = traceValue(elem)
		}
		return arr
	case map[string]any:
		obj := make(ir.IRObject, len(val))
		for k, elem := range val {
			obj[k] = traceValue(elem)
		}
		return obj
	}
	iv, err := ir.FromGo(v)
	if err != nil {
		return ir.IRString(fmt.Sprint(v))
	}
	return iv
}

func canonical(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// loadSpecs compiles the extensions declared in each CUE file or directory.
// Declarations are not validated here: a scenario may exercise a method
// whose bindings fail when it is first called.
func loadSpecs(paths []string) ([]ir.ExtensionSpec, error) {
	var specs []ir.ExtensionSpec
	for _, p := range paths {
		value, err := compiler.Load(p)
		if err != nil {
			return nil, err
		}
		before := len(specs)
		err = compiler.EachExtension(value, func(name string, decl cue.Value) error {
			spec, err := compiler.CompileExtension(decl)
			if err != nil {
				return fmt.Errorf("%s: extension %s: %w", p, name, err)
			}
			specs = append(specs, *spec)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(specs) == before {
			return nil, fmt.Errorf("%s: no extensions declared", p)
		}
	}
	return specs, nil
}
