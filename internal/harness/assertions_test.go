package harness

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/testutil"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.AddInvocationTrace("D.insert", ir.IRArray{ir.IRString("Foo")}, 1)
	r.AddCompletionTrace("D.insert", ir.IRInt(1), "", 2)
	r.AddInvocationTrace("D.find", ir.IRArray{ir.IRInt(1)}, 3)
	r.AddCompletionTrace("D.find", ir.IRString("Foo"), "", 4)
	r.AddInvocationTrace("D.insert", ir.IRArray{ir.IRString("Bar")}, 5)
	r.AddCompletionTrace("D.insert", ir.IRInt(2), "", 6)
	return r.Trace
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Method: "D.find"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Method: "D.insert", Args: []any{"Bar"}}))

	err := assertTraceContains(trace, Assertion{Method: "D.insert", Args: []any{"Baz"}})
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Expected, `with args ["Baz"]`)
	assert.Contains(t, err.Error(), `[5] D.insert ["Bar"]`)
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Methods: []string{"D.insert", "D.find"}}))

	err := assertTraceOrder(trace, Assertion{Methods: []string{"D.find", "D.insert"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "D.find (pos 3) should be before D.insert (pos 1)")

	err = assertTraceOrder(trace, Assertion{Methods: []string{"D.insert", "D.delete"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing method: D.delete")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Method: "D.insert", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Method: "D.delete", Count: 0}))
	assert.Error(t, assertTraceCount(trace, Assertion{Method: "D.find", Count: 2}))
}

func TestAssertDistinct(t *testing.T) {
	captures := map[string]any{"a": int64(1), "b": int64(2), "c": int64(1)}

	assert.NoError(t, assertDistinct(captures, Assertion{Vars: []string{"a", "b"}}))

	err := assertDistinct(captures, Assertion{Vars: []string{"a", "b", "c"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a and c are both 1")

	err = assertDistinct(captures, Assertion{Vars: []string{"a", "z"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"z" to be captured`)
}

func openStateDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testutil.SomethingSchema)
	require.NoError(t, err)
	_, err = db.Exec(`ALTER TABLE something ADD COLUMN active INTEGER`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO something (name, active) VALUES ('Foo', 1), ('Bar', 0), ('Bar', NULL)`)
	require.NoError(t, err)
	return db
}

func TestEvaluateAssertions_State(t *testing.T) {
	actx := &AssertionContext{DB: openStateDB(t), Ctx: context.Background()}
	result := NewResult()

	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name:      "row count all",
			assertion: Assertion{Type: AssertRowCount, Table: "something", Count: 3},
		},
		{
			name:      "row count where",
			assertion: Assertion{Type: AssertRowCount, Table: "something", Where: map[string]any{"name": "Bar"}, Count: 2},
		},
		{
			name:      "row count null",
			assertion: Assertion{Type: AssertRowCount, Table: "something", Where: map[string]any{"active": nil}, Count: 1},
		},
		{
			name:      "row count mismatch",
			assertion: Assertion{Type: AssertRowCount, Table: "something", Count: 5},
			want:      "3 row(s)",
		},
		{
			name:      "final state",
			assertion: Assertion{Type: AssertFinalState, Table: "something", Where: map[string]any{"name": "Foo"}, Expect: map[string]any{"id": 1, "active": true}},
		},
		{
			name:      "final state mismatch",
			assertion: Assertion{Type: AssertFinalState, Table: "something", Where: map[string]any{"id": 2}, Expect: map[string]any{"name": "Foo"}},
			want:      `column "name" = Foo`,
		},
		{
			name:      "final state ambiguous",
			assertion: Assertion{Type: AssertFinalState, Table: "something", Where: map[string]any{"name": "Bar"}, Expect: map[string]any{"id": 2}},
			want:      "multiple rows matched",
		},
		{
			name:      "final state missing row",
			assertion: Assertion{Type: AssertFinalState, Table: "something", Where: map[string]any{"name": "Baz"}, Expect: map[string]any{"id": 2}},
			want:      "row not found",
		},
		{
			name:      "final state missing column",
			assertion: Assertion{Type: AssertFinalState, Table: "something", Where: map[string]any{"id": 1}, Expect: map[string]any{"email": "x"}},
			want:      `column "email" not present`,
		},
		{
			name:      "injection in table name",
			assertion: Assertion{Type: AssertRowCount, Table: "something; DROP TABLE something"},
			want:      "invalid table name",
		},
		{
			name:      "injection in column name",
			assertion: Assertion{Type: AssertRowCount, Table: "something", Where: map[string]any{"1=1 OR name": "x"}},
			want:      "invalid column name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(result, []Assertion{tt.assertion}, actx)
			if tt.want == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestEvaluateAssertions_NoDatabase(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertRowCount, Table: "something"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires database context")
}
