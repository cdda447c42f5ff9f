package sqlext

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sort"
	"time"

	"github.com/roach88/sqlext/internal/descriptor"
	"github.com/roach88/sqlext/internal/extract"
	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/registry"
	"github.com/roach88/sqlext/internal/sqlerr"
)

// Extension is an attached extension declaration.
type Extension struct {
	db      *DB
	name    string
	spec    ExtensionSpec
	methods map[string]ir.MethodSpec
	hashes  map[string]string
}

// Name returns the extension name.
func (e *Extension) Name() string { return e.name }

// Methods returns the declared method names, sorted.
func (e *Extension) Methods() []string {
	names := make([]string, 0, len(e.methods))
	for n := range e.methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Spec returns the declaration.
func (e *Extension) Spec() ExtensionSpec { return e.spec }

// Validate builds every method descriptor and returns the failures joined.
func (e *Extension) Validate() error {
	var errs []error
	for _, name := range e.Methods() {
		if _, err := e.describe(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// describe resolves a method's descriptor through the registry.
func (e *Extension) describe(method string) (*descriptor.Descriptor, error) {
	spec, ok := e.methods[method]
	if !ok {
		return nil, sqlerr.Binding("extension has no method %q", method).WithMethod(e.name, method)
	}
	key := registry.Key{Extension: e.name, Signature: spec.Signature(), Hash: e.hashes[method]}
	return e.db.registry.Resolve(key, func() (*descriptor.Descriptor, error) {
		return descriptor.Build(e.name, spec, e.db.policy)
	})
}

func (e *Extension) invoke(ctx context.Context, method string, args []any, ex func(*descriptor.Descriptor) extract.Extractor) (any, error) {
	desc, err := e.describe(method)
	if err != nil {
		return nil, err
	}
	return e.db.dispatcher.Invoke(ctx, desc, args, ex(desc))
}

// Call invokes a method without static result types.
//
// The result depends on the declared shape: scalar → any, optional → any
// (nil when absent), rows → []map[string]any, generated_key → any, none →
// int64 rows affected.
func (e *Extension) Call(ctx context.Context, method string, args ...any) (any, error) {
	return e.invoke(ctx, method, args, func(d *descriptor.Descriptor) extract.Extractor {
		switch d.Shape {
		case ir.ShapeScalar:
			return extract.Scalar[any]{}
		case ir.ShapeOptional:
			return optionalAny{}
		case ir.ShapeRows:
			return collected{}
		case ir.ShapeGeneratedKey:
			return extract.GeneratedKey[any]{Column: d.KeyColumn(), Policy: d.Policy}
		default:
			return extract.RowCount{}
		}
	})
}

// optionalAny flattens the *any of an optional scalar to a plain value.
type optionalAny struct{ extract.Scalar[any] }

func (optionalAny) Shape() ir.Shape { return ir.ShapeOptional }

func (o optionalAny) Extract(res *Result) (any, error) {
	out, err := extract.Scalar[any]{Optional: true}.Extract(res)
	if err != nil {
		return nil, err
	}
	if p := out.(*any); p != nil {
		return *p, nil
	}
	return nil, nil
}

// collected drains mapped rows eagerly.
type collected struct{ extract.RowMapped[map[string]any] }

func (collected) Extract(res *Result) (any, error) {
	out, err := extract.RowMapped[map[string]any]{Map: extract.MapMapper()}.Extract(res)
	if err != nil {
		return nil, err
	}
	return out.(*Iter[map[string]any]).Collect()
}

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// defaultMapper picks StructMapper for plain struct types and ColumnMapper
// for everything else, including scanners such as uuid.UUID and
// decimal.Decimal.
func defaultMapper[T any]() RowMapper[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() == reflect.Struct && base != timeType && !reflect.PointerTo(base).Implements(scannerType) {
		return extract.StructMapper[T]()
	}
	return extract.ColumnMapper[T]()
}
