package harness

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// validIdentifier restricts table and column names interpolated into
// assertion queries.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion with the trace for context.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Type == EventInvocation {
				fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Method, canonical(traceValue(event.Args)))
			}
		}
	}

	return buf.String()
}

func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	var want string
	if assertion.Args != nil {
		want = canonical(traceValue(assertion.Args))
	}
	for _, event := range trace {
		if event.Type != EventInvocation || event.Method != assertion.Method {
			continue
		}
		if want == "" || canonical(traceValue(event.Args)) == want {
			return nil
		}
	}

	expected := "call to " + assertion.Method
	if want != "" {
		expected += " with args " + want
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// first call position per method, 1-indexed
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type == EventInvocation && positions[event.Method] == 0 {
			positions[event.Method] = i + 1
		}
	}

	for _, method := range assertion.Methods {
		if positions[method] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all methods called: %v", assertion.Methods),
				Actual:   fmt.Sprintf("missing method: %s", method),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Methods); i++ {
		prev, curr := assertion.Methods[i-1], assertion.Methods[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("methods in order: %v", assertion.Methods),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventInvocation && event.Method == assertion.Method {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d call(s) to %s", assertion.Count, assertion.Method),
			Actual:   fmt.Sprintf("%d call(s)", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertDistinct(captures map[string]any, assertion Assertion) error {
	seen := make(map[string]string, len(assertion.Vars))
	for _, name := range assertion.Vars {
		v, ok := captures[name]
		if !ok {
			return &AssertionError{
				Type:     AssertDistinct,
				Expected: fmt.Sprintf("%q to be captured", name),
				Actual:   "no value captured",
			}
		}
		key := canonical(traceValue(v))
		if other, dup := seen[key]; dup {
			return &AssertionError{
				Type:     AssertDistinct,
				Expected: fmt.Sprintf("distinct values for %v", assertion.Vars),
				Actual:   fmt.Sprintf("%s and %s are both %s", other, name, key),
			}
		}
		seen[key] = name
	}
	return nil
}

func assertRowCount(ctx context.Context, db *sqlx.DB, assertion Assertion) error {
	query, args, err := selectFrom("COUNT(*)", assertion.Table, assertion.Where)
	if err != nil {
		return err
	}

	var count int
	if err := sqlx.GetContext(ctx, db, &count, db.Rebind(query), args...); err != nil {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("count rows of %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d row(s) in %s where %s", assertion.Count, assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   fmt.Sprintf("%d row(s)", count),
		}
	}
	return nil
}

func assertFinalState(ctx context.Context, db *sqlx.DB, assertion Assertion) error {
	query, args, err := selectFrom("*", assertion.Table, assertion.Where)
	if err != nil {
		return err
	}

	rows, err := db.QueryxContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	whereDesc := formatWhereClause(assertion.Where)
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("read %s: %w", assertion.Table, err)
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	}

	actualRow := make(map[string]any)
	if err := rows.MapScan(actualRow); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("column %q not present in %s", key, assertion.Table),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// selectFrom builds "SELECT what FROM table WHERE ..." with ? placeholders.
// Table and column names must be plain identifiers.
func selectFrom(what, table string, where map[string]any) (string, []any, error) {
	if !validIdentifier.MatchString(table) {
		return "", nil, fmt.Errorf("invalid table name %q: must match pattern %s", table, validIdentifier.String())
	}
	query := fmt.Sprintf("SELECT %s FROM %s", what, table)

	if len(where) == 0 {
		return query, nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, where[key])
	}

	return query + " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML value with a scanned column value.
// SQLite stores booleans as 0/1 integers.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := expected.(bool); ok {
		if n, ok := actual.(int64); ok {
			return b == (n != 0)
		}
	}
	return canonical(traceValue(expected)) == canonical(traceValue(actual))
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	DB  *sql.DB
	Ctx context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state and
// row_count assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	var db *sqlx.DB
	ctx := context.Background()
	if actx != nil {
		if actx.DB != nil {
			db = sqlx.NewDb(actx.DB, "sqlite3")
		}
		if actx.Ctx != nil {
			ctx = actx.Ctx
		}
	}

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertDistinct:
			err = assertDistinct(result.Captures, assertion)
		case AssertFinalState, AssertRowCount:
			if db == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertFinalState {
				err = assertFinalState(ctx, db, assertion)
			} else {
				err = assertRowCount(ctx, db, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
