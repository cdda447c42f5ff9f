package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlext"
	"github.com/roach88/sqlext/internal/store"
)

// Scenario defines a conformance test scenario.
// A scenario declares a schema and the extensions under test, calls their
// methods against a fresh database and asserts on the results, the trace
// and the final table contents.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE files or directories declaring the extensions.
	// Paths are relative to the scenario file location.
	Specs []string `yaml:"specs"`

	// Schema holds SQL statements run before setup.
	Schema []string `yaml:"schema,omitempty"`

	// KeyReporting overrides how the engine reports generated keys
	// ("returning", "output_inserted", "last_insert_id", "returning_into").
	KeyReporting string `yaml:"key_reporting,omitempty"`

	// KeyPolicy overrides the key policy derived from the engine
	// ("name", "position").
	KeyPolicy string `yaml:"key_policy,omitempty"`

	// Setup contains calls made before the flow. A failing setup call
	// aborts the scenario.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow contains the calls under test.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, row_count, distinct
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep is a single method call.
type ActionStep struct {
	// Invoke is the method as "Extension.method".
	Invoke string `yaml:"invoke"`

	// Args are the positional call arguments. A string "$name" is
	// replaced by the value captured under name.
	Args []any `yaml:"args"`
}

// FlowStep is a method call with an optional capture and expectation.
type FlowStep struct {
	Invoke string `yaml:"invoke"`
	Args   []any  `yaml:"args"`

	// Capture saves the call's result under this name for later "$name"
	// arguments and distinct assertions.
	Capture string `yaml:"capture,omitempty"`

	// Expect specifies the expected outcome. If nil the call must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a call: either a value
// (which may be null) or an error code.
type ExpectClause struct {
	Value    any
	HasValue bool
	Error    string
}

// UnmarshalYAML records whether value was present, so that "value: null"
// can be told apart from an omitted value.
func (e *ExpectClause) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expect must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "value":
			if err := val.Decode(&e.Value); err != nil {
				return err
			}
			e.HasValue = true
		case "error":
			if err := val.Decode(&e.Error); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: field %s not found in expect", key.Line, key.Value)
		}
	}
	return nil
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a method was called, with args if given
	// - "trace_order": methods were first called in this order
	// - "trace_count": a method was called exactly Count times
	// - "final_state": exactly one row matches Where and holds Expect
	// - "row_count": exactly Count rows match Where
	// - "distinct": the captured Vars hold pairwise different values
	Type string `yaml:"type"`

	// Method is "Extension.method" (trace_contains, trace_count).
	Method string `yaml:"method,omitempty"`

	// Args are the expected resolved arguments (trace_contains).
	Args []any `yaml:"args,omitempty"`

	// Methods is the expected call order (trace_order).
	Methods []string `yaml:"methods,omitempty"`

	// Table is the table name (final_state, row_count).
	Table string `yaml:"table,omitempty"`

	// Where specifies equality filters (final_state, row_count).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of calls or rows (trace_count, row_count).
	Count int `yaml:"count,omitempty"`

	// Vars names captured values (distinct).
	Vars []string `yaml:"vars,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRowCount      = "row_count"
	AssertDistinct      = "distinct"
)

// LoadScenario reads and parses a scenario YAML file. Spec paths are
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving spec paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// KnownFields catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec path not found: %s", specPath)
		}
	}

	if s.KeyReporting != "" {
		if _, err := store.ParseKeyReporting(s.KeyReporting); err != nil {
			return fmt.Errorf("key_reporting: %w", err)
		}
	}
	if s.KeyPolicy != "" {
		if _, err := sqlext.ParseKeyPolicy(s.KeyPolicy); err != nil {
			return fmt.Errorf("key_policy: %w", err)
		}
	}

	for i, step := range s.Setup {
		if err := validateTarget(step.Invoke); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	captured := make(map[string]bool)
	for i, step := range s.Flow {
		if err := validateTarget(step.Invoke); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if step.Expect != nil {
			if step.Expect.HasValue && step.Expect.Error != "" {
				return fmt.Errorf("flow[%d].expect: value and error are mutually exclusive", i)
			}
			if !step.Expect.HasValue && step.Expect.Error == "" {
				return fmt.Errorf("flow[%d].expect: value or error is required", i)
			}
			if step.Expect.Error != "" && step.Capture != "" {
				return fmt.Errorf("flow[%d]: cannot capture the result of a call expected to fail", i)
			}
		}
		if step.Capture != "" {
			if captured[step.Capture] {
				return fmt.Errorf("flow[%d]: %q captured twice", i, step.Capture)
			}
			captured[step.Capture] = true
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, captured); err != nil {
			return err
		}
	}

	return nil
}

func validateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("invoke is required")
	}
	ext, method, ok := strings.Cut(target, ".")
	if !ok || ext == "" || method == "" {
		return fmt.Errorf("invoke %q: want Extension.method", target)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, captured map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Methods) == 0 {
			return fmt.Errorf("assertions[%d]: methods list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertDistinct:
		if len(a.Vars) < 2 {
			return fmt.Errorf("assertions[%d]: distinct needs at least two vars", index)
		}
		for _, v := range a.Vars {
			if !captured[v] {
				return fmt.Errorf("assertions[%d]: %q is never captured", index, v)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
