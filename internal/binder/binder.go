// Package binder resolves call arguments into a statement template.
//
// A Binding pairs one template placeholder (by name or 1-based position)
// with the source of its value. Bind walks the template's placeholders in
// order, looks each one up among the bindings, coerces the resolved value
// to a driver value and renders the SQL for the target placeholder style.
//
// Binding is pure: no I/O, no shared mutable state. The same bindings are
// reused by every call of a method.
package binder

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"

	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/sqlerr"
	"github.com/roach88/sqlext/internal/template"
)

// SourceKind says where a bound value comes from.
type SourceKind int

const (
	// SourceArg takes the value of a call argument.
	SourceArg SourceKind = iota
	// SourceField takes a field of a struct or map call argument.
	SourceField
	// SourceLiteral uses a constant declared with the method.
	SourceLiteral
)

// String returns the source kind name.
func (k SourceKind) String() string {
	switch k {
	case SourceArg:
		return "arg"
	case SourceField:
		return "field"
	case SourceLiteral:
		return "literal"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// Source locates the value for one binding.
type Source struct {
	Kind    SourceKind
	Arg     int    // call argument index (SourceArg, SourceField)
	Field   string // dotted path by db tag or map key (SourceField)
	Literal any    // constant value (SourceLiteral)
}

// Binding pairs a placeholder with a value source.
//
// Exactly one of Name and Position is set. Type is the declared parameter
// type used for coercion; empty means ir.TypeAny.
type Binding struct {
	Name     string
	Position int
	Type     string
	Source   Source
}

// Placeholder returns the display form of the bound placeholder.
func (b Binding) Placeholder() string {
	if b.Name != "" {
		return ":" + b.Name
	}
	return fmt.Sprintf("?%d", b.Position)
}

func (b Binding) matches(p template.Placeholder) bool {
	if p.Name != "" {
		return b.Name == p.Name
	}
	return b.Name == "" && b.Position == p.Position
}

// Param is one resolved placeholder, in template order.
type Param struct {
	Placeholder string
	Value       driver.Value
}

// Bound is a fully bound statement ready for execution.
type Bound struct {
	SQL    string
	Args   []any
	Params []Param
}

// Check verifies that every placeholder of tmpl resolves to exactly one
// binding and that every binding targets a placeholder.
//
// A placeholder without a binding is an UnresolvedParameterError; a
// placeholder with several bindings, or a binding without a placeholder, is
// a BindingError.
func Check(tmpl *template.Template, bindings []Binding) error {
	for _, p := range distinct(tmpl) {
		n := 0
		for _, b := range bindings {
			if b.matches(p) {
				n++
			}
		}
		switch {
		case n == 0:
			return sqlerr.Unresolved(display(p))
		case n > 1:
			return sqlerr.Binding("placeholder %s is bound %d times", display(p), n)
		}
	}

	for _, b := range bindings {
		if b.Source.Kind == SourceArg && b.Type == ir.TypeStruct {
			return sqlerr.Binding("binding %s takes struct argument %d whole, bind one of its fields", b.Placeholder(), b.Source.Arg)
		}
		found := false
		for _, p := range tmpl.Placeholders() {
			if b.matches(p) {
				found = true
				break
			}
		}
		if !found {
			return sqlerr.Binding("binding %s matches no placeholder in the statement", b.Placeholder())
		}
	}
	return nil
}

// Defaults derives bindings from the declared parameters alone.
//
// For a named template each parameter whose name occurs as a placeholder
// binds that placeholder. For a positional template parameter i binds
// position i+1.
func Defaults(tmpl *template.Template, params []ir.ParamSpec) []Binding {
	var out []Binding
	if tmpl.IsPositional() {
		for i, p := range params {
			if i >= tmpl.Arity() {
				break
			}
			out = append(out, Binding{Position: i + 1, Type: p.Type, Source: Source{Kind: SourceArg, Arg: i}})
		}
		return out
	}

	names := make(map[string]bool)
	for _, n := range tmpl.Names() {
		names[n] = true
	}
	for i, p := range params {
		if names[p.Name] {
			out = append(out, Binding{Name: p.Name, Type: p.Type, Source: Source{Kind: SourceArg, Arg: i}})
		}
	}
	return out
}

// FromSpecs converts declared bind specs into bindings. Arg sources take
// the declared type of their parameter; field and literal sources are
// coerced as ir.TypeAny.
func FromSpecs(binds []ir.BindSpec, params []ir.ParamSpec) ([]Binding, error) {
	out := make([]Binding, 0, len(binds))
	for _, bs := range binds {
		b := Binding{Name: bs.Name, Position: bs.Position, Type: ir.TypeAny}
		if (b.Name == "") == (b.Position == 0) {
			return nil, sqlerr.Binding("bind %s must name exactly one of name or position", bs.Placeholder())
		}

		switch {
		case bs.Literal != nil:
			b.Source = Source{Kind: SourceLiteral, Literal: ir.ToGo(bs.Literal)}
		default:
			if bs.Arg < 0 || bs.Arg >= len(params) {
				return nil, sqlerr.Binding("bind %s refers to argument %d, method has %d parameters",
					bs.Placeholder(), bs.Arg, len(params))
			}
			if bs.Field != "" {
				b.Source = Source{Kind: SourceField, Arg: bs.Arg, Field: bs.Field}
			} else {
				b.Source = Source{Kind: SourceArg, Arg: bs.Arg}
				b.Type = params[bs.Arg].Type
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// FieldOnly reports, per call argument, whether the argument is read only
// through field bindings. Such an argument is a record, not a scalar.
func FieldOnly(bindings []Binding, nargs int) []bool {
	out := make([]bool, nargs)
	direct := make([]bool, nargs)
	for _, b := range bindings {
		i := b.Source.Arg
		if i < 0 || i >= nargs {
			continue
		}
		switch b.Source.Kind {
		case SourceField:
			out[i] = true
		case SourceArg:
			direct[i] = true
		}
	}
	for i := range out {
		out[i] = out[i] && !direct[i]
	}
	return out
}

// Bind resolves args into tmpl and renders it in the given style.
//
// Placeholders are resolved in template order; a named placeholder that
// occurs several times is emitted once per occurrence. The bindings are
// expected to have passed Check, but Bind still reports an unresolved
// placeholder rather than guessing.
func Bind(tmpl *template.Template, bindings []Binding, args []any, style template.Style) (Bound, error) {
	placeholders := tmpl.Placeholders()
	bound := Bound{
		SQL:    tmpl.Render(style),
		Args:   make([]any, 0, len(placeholders)),
		Params: make([]Param, 0, len(placeholders)),
	}

	for _, p := range placeholders {
		b, ok := lookup(bindings, p)
		if !ok {
			return Bound{}, sqlerr.Unresolved(display(p))
		}

		raw, err := resolve(b.Source, args)
		if err != nil {
			return Bound{}, err.WithPrefix(display(p))
		}

		v, cerr := Coerce(raw, b.Type)
		if cerr != nil {
			return Bound{}, prefixed(cerr, display(p))
		}

		bound.Args = append(bound.Args, v)
		bound.Params = append(bound.Params, Param{Placeholder: display(p), Value: v})
	}
	return bound, nil
}

func prefixed(err error, prefix string) error {
	var se *sqlerr.Error
	if errors.As(err, &se) {
		return se.WithPrefix(prefix)
	}
	return sqlerr.Binding("%s: %v", prefix, err)
}

func lookup(bindings []Binding, p template.Placeholder) (Binding, bool) {
	for _, b := range bindings {
		if b.matches(p) {
			return b, true
		}
	}
	return Binding{}, false
}

func resolve(src Source, args []any) (any, *sqlerr.Error) {
	switch src.Kind {
	case SourceLiteral:
		return src.Literal, nil
	case SourceArg, SourceField:
		if src.Arg < 0 || src.Arg >= len(args) {
			return nil, sqlerr.Binding("argument %d out of range (%d arguments)", src.Arg, len(args))
		}
		if src.Kind == SourceArg {
			return args[src.Arg], nil
		}
		return fieldValue(args[src.Arg], src.Field)
	default:
		return nil, sqlerr.Binding("unknown binding source %s", src.Kind)
	}
}

// fieldMapper resolves struct fields by db tag, falling back to the
// lower-cased field name, as sqlx does when scanning rows.
var fieldMapper = reflectx.NewMapperFunc("db", sqlx.NameMapper)

// fieldValue extracts a dotted field path from a struct (by db tag) or a
// string-keyed map.
func fieldValue(arg any, path string) (any, *sqlerr.Error) {
	if arg == nil {
		return nil, sqlerr.Binding("field %q of nil argument", path)
	}

	v := reflect.ValueOf(arg)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, sqlerr.Binding("field %q of nil argument", path)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		idx := fieldMapper.TraversalsByName(v.Type(), []string{path})[0]
		if len(idx) == 0 {
			return nil, sqlerr.Binding("type %s has no field %q", v.Type(), path)
		}
		return reflectx.FieldByIndexesReadOnly(v, idx).Interface(), nil

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, sqlerr.Binding("field %q of map with non-string keys", path)
		}
		head, rest, nested := strings.Cut(path, ".")
		elem := v.MapIndex(reflect.ValueOf(head).Convert(v.Type().Key()))
		if !elem.IsValid() {
			return nil, sqlerr.Binding("map has no key %q", head)
		}
		if nested {
			return fieldValue(elem.Interface(), rest)
		}
		return elem.Interface(), nil

	default:
		return nil, sqlerr.Binding("field %q of non-struct argument %T", path, arg)
	}
}

// distinct returns each placeholder once: names by first occurrence,
// positions as they are.
func distinct(tmpl *template.Template) []template.Placeholder {
	var out []template.Placeholder
	seen := make(map[string]bool)
	for _, p := range tmpl.Placeholders() {
		if p.Name != "" {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
		}
		out = append(out, p)
	}
	return out
}

func display(p template.Placeholder) string {
	if p.Name != "" {
		return ":" + p.Name
	}
	return fmt.Sprintf("?%d", p.Position)
}
