// Package harness runs conformance scenarios for declared SQL extensions.
//
// A scenario compiles CUE extension declarations, applies a schema to a
// fresh SQLite database, calls methods and asserts on what happened.
//
// # Scenario Format
//
//	name: generated_keys_by_position
//	description: "Keys are read by position when the engine cannot name them"
//	specs:
//	  - specs/something.cue
//	schema:
//	  - CREATE TABLE something (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)
//	key_reporting: last_insert_id
//	key_policy: position
//	flow:
//	  - invoke: SomethingDAO.insert
//	    args: ["Foo"]
//	    capture: foo
//	  - invoke: SomethingDAO.findNameById
//	    args: ["$foo"]
//	    expect:
//	      value: Foo
//	  - invoke: SomethingDAO.findNameById
//	    args: [999]
//	    expect:
//	      error: EXTRACTION_ERROR
//	assertions:
//	  - type: row_count
//	    table: something
//	    count: 1
//
// Arguments are positional. A string argument "$name" is replaced by the
// value an earlier flow step captured under name.
//
// # Assertion Types
//
//   - trace_contains: a method was called, with the given args if any
//   - trace_order: methods were first called in the given order
//   - trace_count: a method was called exactly N times
//   - final_state: exactly one row matches where and holds the expected values
//   - row_count: exactly N rows match where
//   - distinct: captured values differ pairwise
//
// # Deterministic Testing
//
// Every call appends an invocation and a completion event, numbered by a
// per-run sequence. Traces are serialized as canonical JSON, so a scenario
// produces byte-identical output across runs and can be compared with a
// golden file (see RunWithGolden).
package harness
