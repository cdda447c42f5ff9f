// Package ir provides the declaration IR for SQL extensions.
//
// An ExtensionSpec names a group of declared methods (the Go counterpart of
// an annotated DAO interface). Each MethodSpec carries the statement text,
// the ordered call parameters, optional explicit bindings, the declared
// return shape and, for key-returning updates, the generated key columns.
//
// This package contains type definitions, canonical JSON and content hashes
// only. All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types in IR values - use int64 or strings for numbers
//   - All JSON tags use snake_case
//   - Method identity is (extension name, method signature)
package ir
