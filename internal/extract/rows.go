package extract

import (
	"iter"
	"reflect"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"

	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/sqlerr"
	"github.com/roach88/sqlext/internal/store"
)

// RowMapped maps every row of a query result with Map.
type RowMapped[T any] struct {
	Map RowMapper[T]
}

func (RowMapped[T]) Variant() Variant { return VariantRowMapped }
func (RowMapped[T]) Shape() ir.Shape  { return ir.ShapeRows }

// Extract returns a *Iter[T] that owns the result rows.
func (m RowMapped[T]) Extract(res *store.Result) (any, error) {
	if res == nil || res.Rows == nil {
		return nil, sqlerr.Extraction("row-mapped result has no rows")
	}
	if m.Map == nil {
		res.Close()
		return nil, sqlerr.Extraction("row-mapped extractor has no mapper")
	}
	return &Iter[T]{rows: res.Rows, mapper: m.Map}, nil
}

// Iter is a lazy, single-pass sequence of mapped rows. It is not safe for
// concurrent use and cannot be restarted.
//
// The underlying cursor stays open until the iterator is exhausted, fails
// or is closed. On a single-connection store no other statement can run
// until then.
type Iter[T any] struct {
	rows   store.Rows
	mapper RowMapper[T]
	cur    T
	err    error
	done   bool
	fault  func(error) error
}

// Next advances to the next mapped row.
func (it *Iter[T]) Next() bool {
	if it.done {
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.fail(err)
		}
		it.finish()
		return false
	}

	v, err := it.mapper(it.rows)
	if err != nil {
		if sqlerr.CodeOf(err) == "" {
			err = sqlerr.WrapExtraction(err, "map row")
		}
		it.err = err
		it.finish()
		return false
	}
	it.cur = v
	return true
}

// Value returns the current row.
func (it *Iter[T]) Value() T { return it.cur }

// Err returns the first error met while iterating.
func (it *Iter[T]) Err() error { return it.err }

// Close releases the cursor. It is safe to call more than once.
func (it *Iter[T]) Close() error {
	if it.done {
		return nil
	}
	it.done = true
	return it.rows.Close()
}

// Collect drains the iterator into a slice. The result is never nil.
func (it *Iter[T]) Collect() ([]T, error) {
	out := []T{}
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, it.Err()
}

// All returns the remaining rows as a range-over-func sequence. Iteration
// stops after the first error, which is yielded with a zero T.
func (it *Iter[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Value(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// OnFault installs a classifier for driver errors met during iteration.
func (it *Iter[T]) OnFault(classify func(error) error) {
	it.fault = classify
}

func (it *Iter[T]) fail(err error) {
	if it.fault != nil {
		err = it.fault(err)
	}
	it.err = err
}

func (it *Iter[T]) finish() {
	if !it.done {
		it.done = true
		if err := it.rows.Close(); err != nil && it.err == nil {
			it.fail(err)
		}
	}
}

// ColumnMapper maps the first column of each row to T.
func ColumnMapper[T any]() RowMapper[T] {
	return func(row store.Row) (T, error) {
		var v T
		err := scanColumn(row, 0, &v)
		return v, err
	}
}

// fieldMapper resolves struct fields by db tag, falling back to the
// lower-cased field name.
var fieldMapper = reflectx.NewMapperFunc("db", sqlx.NameMapper)

// StructMapper maps each row onto a struct (or pointer to struct) T by
// matching column names to db tags, the way sqlx scans. Every column must
// have a destination field.
func StructMapper[T any]() RowMapper[T] {
	return func(row store.Row) (T, error) {
		var out T
		v := reflect.ValueOf(&out).Elem()
		target := v
		if v.Kind() == reflect.Pointer {
			v.Set(reflect.New(v.Type().Elem()))
			target = v.Elem()
		}
		if target.Kind() != reflect.Struct {
			return out, sqlerr.Extraction("struct mapper needs a struct type, got %s", target.Type())
		}

		cols, err := row.Columns()
		if err != nil {
			return out, err
		}
		traversals := fieldMapper.TraversalsByName(target.Type(), cols)

		dest := make([]any, len(cols))
		for i, idx := range traversals {
			if len(idx) == 0 {
				return out, sqlerr.Extraction("missing destination name %s in %s", cols[i], target.Type())
			}
			dest[i] = reflectx.FieldByIndexes(target, idx).Addr().Interface()
		}
		if err := row.Scan(dest...); err != nil {
			return out, sqlerr.WrapExtraction(err, "scan into %s", target.Type())
		}
		return out, nil
	}
}

// MapMapper maps each row to a column-name keyed map using sqlx.MapScan.
// Byte slices are returned as strings.
func MapMapper() RowMapper[map[string]any] {
	return func(row store.Row) (map[string]any, error) {
		scanner, ok := row.(sqlx.ColScanner)
		if !ok {
			return nil, sqlerr.Extraction("row %T cannot be map scanned", row)
		}
		out := make(map[string]any)
		if err := sqlx.MapScan(scanner, out); err != nil {
			return nil, sqlerr.WrapExtraction(err, "map scan")
		}
		for k, v := range out {
			if b, ok := v.([]byte); ok {
				out[k] = string(b)
			}
		}
		return out, nil
	}
}
