// Package extract converts raw execution results into typed return values.
//
// Each declared return shape has one extractor variant:
//
//   - Scalar: first column of exactly one row (or zero rows when optional)
//   - RowMapped: a lazy, single-pass iterator of mapped rows
//   - GeneratedKey: one key from the reported key set, located by a KeyPolicy
//   - RowCount: the number of affected rows
//
// Extractors own the result they are given: they close it once done, or,
// for RowMapped, hand ownership to the returned iterator.
package extract

import (
	"fmt"

	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/sqlerr"
	"github.com/roach88/sqlext/internal/store"
)

// Variant names an extractor strategy.
type Variant int

const (
	VariantScalar Variant = iota
	VariantRowMapped
	VariantGeneratedKey
	VariantRowCount
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case VariantScalar:
		return "scalar"
	case VariantRowMapped:
		return "row_mapped"
	case VariantGeneratedKey:
		return "generated_key"
	case VariantRowCount:
		return "row_count"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Extractor turns a raw result into a return value.
type Extractor interface {
	Variant() Variant
	// Shape is the declared return shape this extractor serves.
	Shape() ir.Shape
	Extract(res *store.Result) (any, error)
}

// RowMapper converts the current row into a T.
type RowMapper[T any] func(row store.Row) (T, error)

// Scalar reads the first column of a single-row result.
//
// Required scalars fail on zero rows; optional scalars return a nil *T for
// zero rows or a NULL value. More than one row always fails.
type Scalar[T any] struct {
	Optional bool
}

func (Scalar[T]) Variant() Variant { return VariantScalar }

func (s Scalar[T]) Shape() ir.Shape {
	if s.Optional {
		return ir.ShapeOptional
	}
	return ir.ShapeScalar
}

// Extract returns a T, or a *T when optional.
func (s Scalar[T]) Extract(res *store.Result) (any, error) {
	if res == nil || res.Rows == nil {
		return nil, sqlerr.Extraction("scalar result has no rows")
	}
	rows := res.Rows
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if s.Optional {
			return (*T)(nil), nil
		}
		return nil, sqlerr.Extraction("expected exactly one row, got 0")
	}

	var (
		value T
		ptr   *T
	)
	target := any(&value)
	if s.Optional {
		target = &ptr
	}
	if err := scanColumn(rows, 0, target); err != nil {
		return nil, err
	}

	if rows.Next() {
		n := 2
		for rows.Next() {
			n++
		}
		return nil, sqlerr.Extraction("expected exactly one row, got %d", n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.Optional {
		return ptr, nil
	}
	return value, nil
}

// GeneratedKey reads one database-generated key.
type GeneratedKey[T any] struct {
	// Column is the declared key column name.
	Column string
	Policy KeyPolicy
}

func (GeneratedKey[T]) Variant() Variant { return VariantGeneratedKey }
func (GeneratedKey[T]) Shape() ir.Shape  { return ir.ShapeGeneratedKey }

// Extract returns the key as a T.
func (g GeneratedKey[T]) Extract(res *store.Result) (any, error) {
	if res == nil || res.Keys == nil {
		return nil, sqlerr.KeyNotFound("no generated key set reported")
	}
	keys := res.Keys
	defer keys.Close()

	if !keys.Next() {
		if err := keys.Err(); err != nil {
			return nil, err
		}
		return nil, sqlerr.KeyNotFound("empty generated key set")
	}

	cols, err := keys.Columns()
	if err != nil {
		return nil, err
	}
	idx, err := g.Policy.Locate(cols, g.Column)
	if err != nil {
		return nil, err
	}

	var key T
	if err := scanColumn(keys, idx, &key); err != nil {
		return nil, err
	}

	if keys.Next() {
		return nil, sqlerr.Extraction("expected one generated key row, got more")
	}
	if err := keys.Err(); err != nil {
		return nil, err
	}
	return key, nil
}

// RowCount returns the number of rows an update affected as an int64.
type RowCount struct{}

func (RowCount) Variant() Variant { return VariantRowCount }
func (RowCount) Shape() ir.Shape  { return ir.ShapeNone }

func (RowCount) Extract(res *store.Result) (any, error) {
	if res == nil {
		return nil, sqlerr.Extraction("update returned no result")
	}
	defer res.Close()
	return res.RowsAffected, nil
}

// scanColumn scans column idx of the current row into target and discards
// the others.
func scanColumn(row store.Row, idx int, target any) error {
	cols, err := row.Columns()
	if err != nil {
		return err
	}
	if idx >= len(cols) {
		return sqlerr.Extraction("result has %d columns, need column %d", len(cols), idx+1)
	}

	dest := make([]any, len(cols))
	for i := range dest {
		if i == idx {
			dest[i] = target
		} else {
			dest[i] = new(any)
		}
	}
	if err := row.Scan(dest...); err != nil {
		return sqlerr.WrapExtraction(err, "column %q", cols[idx])
	}
	return nil
}
