package binder

import (
	"database/sql/driver"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/sqlerr"
)

var valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()

// maxExactFloat is the largest magnitude up to which every integer has an
// exact float64 representation.
const maxExactFloat = 1 << 53

// Coerce converts v into a driver value acceptable for the declared
// parameter type. An empty declared type means ir.TypeAny.
//
// Supported kinds: integers of every width (to int64, unsigned only when
// it fits), floats (to float64), string, []byte, bool, time.Time,
// driver.Valuer implementations (decimal.Decimal, uuid.UUID, sql.Null*),
// and pointers to any of these (nil pointers bind NULL). Named types bind
// as their underlying kind. Everything else is a BindingError.
func Coerce(v any, declared string) (driver.Value, error) {
	if declared == "" {
		declared = ir.TypeAny
	}
	if !ir.ValidParamTypes[declared] {
		return nil, sqlerr.Binding("unknown parameter type %q", declared)
	}

	switch declared {
	case ir.TypeStruct:
		return nil, sqlerr.Binding("struct parameter cannot bind a placeholder directly, bind one of its fields")
	case ir.TypeDecimal:
		return coerceDecimal(v)
	case ir.TypeUUID:
		return coerceUUID(v)
	}

	val, err := normalize(v)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}

	switch declared {
	case ir.TypeAny:
		return val, nil
	case ir.TypeInt, ir.TypeInt64:
		if i, ok := val.(int64); ok {
			return i, nil
		}
	case ir.TypeInt32:
		if i, ok := val.(int64); ok {
			if i < math.MinInt32 || i > math.MaxInt32 {
				return nil, sqlerr.Binding("value %d overflows int32", i)
			}
			return i, nil
		}
	case ir.TypeUint:
		if i, ok := val.(int64); ok {
			if i < 0 {
				return nil, sqlerr.Binding("negative value %d for uint parameter", i)
			}
			return i, nil
		}
	case ir.TypeFloat:
		switch f := val.(type) {
		case float64:
			return f, nil
		case int64:
			if f > maxExactFloat || f < -maxExactFloat {
				return nil, sqlerr.Binding("integer %d cannot be represented exactly as float", f)
			}
			return float64(f), nil
		}
	case ir.TypeString:
		if s, ok := val.(string); ok {
			return s, nil
		}
	case ir.TypeBytes:
		if b, ok := val.([]byte); ok {
			return b, nil
		}
	case ir.TypeBool:
		if b, ok := val.(bool); ok {
			return b, nil
		}
	case ir.TypeTime:
		if t, ok := val.(time.Time); ok {
			return t, nil
		}
	}
	return nil, sqlerr.Binding("cannot bind %T to %s parameter", v, declared)
}

// CheckRecord verifies that v can serve field bindings: a struct, a
// non-nil pointer to one, or a map with string keys.
func CheckRecord(v any) error {
	if v == nil {
		return sqlerr.Binding("nil argument for struct parameter")
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return sqlerr.Binding("nil %T for struct parameter", v)
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return nil
		}
	}
	return sqlerr.Binding("cannot bind %T to struct parameter", v)
}

// normalize reduces v to one of the driver.Value kinds.
func normalize(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		if !rv.Type().Implements(valuerType) {
			return normalize(rv.Elem().Interface())
		}
	}

	switch val := v.(type) {
	case driver.Valuer:
		dv, err := val.Value()
		if err != nil {
			return nil, sqlerr.Binding("value of %T: %v", v, err)
		}
		if _, again := dv.(driver.Valuer); again {
			return nil, sqlerr.Binding("value of %T is itself a driver.Valuer", v)
		}
		return normalize(dv)
	case int64, float64, bool, string, time.Time:
		return val, nil
	case []byte:
		return val, nil
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, sqlerr.Binding("unsigned value %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
	}
	return nil, sqlerr.Binding("unsupported argument type %T", v)
}

func coerceDecimal(v any) (driver.Value, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return d.String(), nil
	case *decimal.Decimal:
		if d == nil {
			return nil, nil
		}
		return d.String(), nil
	case decimal.NullDecimal:
		if !d.Valid {
			return nil, nil
		}
		return d.Decimal.String(), nil
	}

	val, err := normalize(v)
	if err != nil {
		return nil, err
	}
	switch x := val.(type) {
	case nil:
		return nil, nil
	case int64:
		return decimal.NewFromInt(x).String(), nil
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return nil, sqlerr.Binding("invalid decimal %q: %v", x, err)
		}
		return d.String(), nil
	}
	return nil, sqlerr.Binding("cannot bind %T to decimal parameter", v)
}

func coerceUUID(v any) (driver.Value, error) {
	switch u := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return u.String(), nil
	case *uuid.UUID:
		if u == nil {
			return nil, nil
		}
		return u.String(), nil
	case uuid.NullUUID:
		if !u.Valid {
			return nil, nil
		}
		return u.UUID.String(), nil
	}

	val, err := normalize(v)
	if err != nil {
		return nil, err
	}
	switch x := val.(type) {
	case nil:
		return nil, nil
	case string:
		id, err := uuid.Parse(x)
		if err != nil {
			return nil, sqlerr.Binding("invalid uuid %q: %v", x, err)
		}
		return id.String(), nil
	case []byte:
		id, err := uuid.FromBytes(x)
		if err != nil {
			return nil, sqlerr.Binding("invalid uuid bytes: %v", err)
		}
		return id.String(), nil
	}
	return nil, sqlerr.Binding("cannot bind %T to uuid parameter", v)
}
