package store

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Row is the current row of a result: column names and a scanner.
type Row interface {
	Columns() ([]string, error)
	Scan(dest ...any) error
}

// Rows is a forward-only cursor. *sql.Rows implements it.
type Rows interface {
	Row
	Next() bool
	Err() error
	Close() error
}

// Result is the raw outcome of one execution. It is consumed exactly once.
type Result struct {
	// Rows holds query rows (KindQuery).
	Rows Rows
	// Keys holds the generated key set (KindKeys).
	Keys Rows
	// RowsAffected is the number of affected rows, or -1 when the engine
	// reported keys through a cursor and the count is unknown.
	RowsAffected int64
}

// Close releases any open cursor of the result.
func (r *Result) Close() error {
	var errs []error
	if r.Rows != nil {
		errs = append(errs, r.Rows.Close())
	}
	if r.Keys != nil {
		errs = append(errs, r.Keys.Close())
	}
	return errors.Join(errs...)
}

// StaticRows is an in-memory Rows. It carries key sets that the driver
// reports outside a cursor (LastInsertId).
type StaticRows struct {
	columns []string
	values  [][]any
	cur     int
	closed  bool
}

// NewStaticRows returns rows over the given values. Every value row must
// have one entry per column.
func NewStaticRows(columns []string, values ...[]any) *StaticRows {
	return &StaticRows{columns: columns, values: values, cur: -1}
}

// Columns returns the column names.
func (r *StaticRows) Columns() ([]string, error) {
	if r.closed {
		return nil, errors.New("store: rows are closed")
	}
	return append([]string(nil), r.columns...), nil
}

// Next advances to the next row.
func (r *StaticRows) Next() bool {
	if r.closed || r.cur+1 >= len(r.values) {
		return false
	}
	r.cur++
	return true
}

// Scan copies the current row into dest, converting the way database/sql
// does for the supported kinds.
func (r *StaticRows) Scan(dest ...any) error {
	if r.closed {
		return errors.New("store: rows are closed")
	}
	if r.cur < 0 || r.cur >= len(r.values) {
		return errors.New("store: Scan called without calling Next")
	}
	row := r.values[r.cur]
	if len(dest) != len(row) {
		return fmt.Errorf("store: expected %d destination arguments in Scan, not %d", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("store: Scan error on column index %d, name %q: %w", i, r.columns[i], err)
		}
	}
	return nil
}

// Err always returns nil; static rows cannot fail mid-iteration.
func (r *StaticRows) Err() error { return nil }

// Close marks the rows closed.
func (r *StaticRows) Close() error {
	r.closed = true
	return nil
}

// assign stores src into the pointer dest.
func assign(dest, src any) error {
	if s, ok := dest.(sql.Scanner); ok {
		return s.Scan(src)
	}
	if p, ok := dest.(*any); ok {
		*p = src
		return nil
	}

	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return errors.New("destination not a pointer")
	}
	elem := dv.Elem()

	if elem.Kind() == reflect.Pointer {
		if src == nil {
			elem.SetZero()
			return nil
		}
		fresh := reflect.New(elem.Type().Elem())
		if err := assign(fresh.Interface(), src); err != nil {
			return err
		}
		elem.Set(fresh)
		return nil
	}

	if src == nil {
		return fmt.Errorf("converting NULL to %s is unsupported", elem.Kind())
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(elem.Type()) {
		elem.Set(sv)
		return nil
	}

	text := asString(src)
	switch elem.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, elem.Type().Bits())
		if err != nil {
			return fmt.Errorf("converting %T %q to %s: %w", src, text, elem.Kind(), err)
		}
		elem.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, elem.Type().Bits())
		if err != nil {
			return fmt.Errorf("converting %T %q to %s: %w", src, text, elem.Kind(), err)
		}
		elem.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, elem.Type().Bits())
		if err != nil {
			return fmt.Errorf("converting %T %q to %s: %w", src, text, elem.Kind(), err)
		}
		elem.SetFloat(f)
	case reflect.String:
		elem.SetString(text)
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return fmt.Errorf("converting %T %q to bool: %w", src, text, err)
		}
		elem.SetBool(b)
	case reflect.Slice:
		if elem.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("unsupported Scan, storing %T into %s", src, elem.Type())
		}
		elem.SetBytes([]byte(text))
	default:
		return fmt.Errorf("unsupported Scan, storing %T into %s", src, elem.Type())
	}
	return nil
}

func asString(src any) string {
	switch v := src.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
