package sqlext

import (
	"context"

	"github.com/roach88/sqlext/internal/descriptor"
	"github.com/roach88/sqlext/internal/extract"
	"github.com/roach88/sqlext/internal/store"
)

// Result is the raw outcome of one execution.
type Result = store.Result

// Row is the current row handed to a RowMapper.
type Row = store.Row

// RowMapper converts one row into a T.
type RowMapper[T any] = extract.RowMapper[T]

// Iter is a lazy, single-pass sequence of mapped rows.
type Iter[T any] = extract.Iter[T]

// StructMapper maps rows onto struct fields by db tag.
func StructMapper[T any]() RowMapper[T] { return extract.StructMapper[T]() }

// ColumnMapper maps the first column of each row.
func ColumnMapper[T any]() RowMapper[T] { return extract.ColumnMapper[T]() }

// One calls a scalar method and returns the first column of its single row.
// Zero rows, more than one row, or NULL into a non-pointer T is an
// extraction error.
func One[T any](ctx context.Context, e *Extension, method string, args ...any) (T, error) {
	var zero T
	out, err := e.invoke(ctx, method, args, func(*descriptor.Descriptor) extract.Extractor {
		return extract.Scalar[T]{}
	})
	if err != nil {
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

// Maybe calls an optional scalar method. It returns nil when the query
// produced no row or a NULL value.
func Maybe[T any](ctx context.Context, e *Extension, method string, args ...any) (*T, error) {
	out, err := e.invoke(ctx, method, args, func(*descriptor.Descriptor) extract.Extractor {
		return extract.Scalar[T]{Optional: true}
	})
	if err != nil {
		return nil, err
	}
	return out.(*T), nil
}

// Rows calls a rows method and returns a lazy iterator. Struct types are
// mapped by db tag, other types from the first column. The caller must
// drain or close the iterator.
func Rows[T any](ctx context.Context, e *Extension, method string, args ...any) (*Iter[T], error) {
	return RowsWith(ctx, e, method, defaultMapper[T](), args...)
}

// RowsWith is Rows with an explicit row mapper.
func RowsWith[T any](ctx context.Context, e *Extension, method string, mapper RowMapper[T], args ...any) (*Iter[T], error) {
	out, err := e.invoke(ctx, method, args, func(*descriptor.Descriptor) extract.Extractor {
		return extract.RowMapped[T]{Map: mapper}
	})
	if err != nil {
		return nil, err
	}
	return out.(*Iter[T]), nil
}

// List calls a rows method and collects every row.
func List[T any](ctx context.Context, e *Extension, method string, args ...any) ([]T, error) {
	it, err := Rows[T](ctx, e, method, args...)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return it.Collect()
}

// Key calls a generated-key method and returns the key. The key is
// located with the DB's key policy.
func Key[T any](ctx context.Context, e *Extension, method string, args ...any) (T, error) {
	var zero T
	out, err := e.invoke(ctx, method, args, func(d *descriptor.Descriptor) extract.Extractor {
		return extract.GeneratedKey[T]{Column: d.KeyColumn(), Policy: d.Policy}
	})
	if err != nil {
		return zero, err
	}
	// A NULL scanned into an interface T arrives as a nil any.
	v, _ := out.(T)
	return v, nil
}

// Exec calls an update method and returns the number of affected rows.
func Exec(ctx context.Context, e *Extension, method string, args ...any) (int64, error) {
	out, err := e.invoke(ctx, method, args, func(*descriptor.Descriptor) extract.Extractor {
		return extract.RowCount{}
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}
