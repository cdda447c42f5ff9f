package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/sqlext/internal/ir"
)

// CompileExtension parses a CUE value into an ExtensionSpec.
//
// The CUE value should be the extension struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(src)
//	spec, err := CompileExtension(v.LookupPath(cue.ParsePath("extension.SomethingDAO")))
//
// An extension declares its methods under "method". Each method has exactly
// one of "query" or "update" holding its statement, plus optional "params"
// (ordered name: type), "binds", "returns" and "generated_keys":
//
//	extension: SomethingDAO: method: insert: {
//		update: "insert into something (name) values (:name)"
//		params: name: "string"
//		returns: "generated_key"
//		generated_keys: ["id"]
//	}
func CompileExtension(v cue.Value) (*ir.ExtensionSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ExtensionSpec{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	methodsVal := v.LookupPath(cue.ParsePath("method"))
	if !methodsVal.Exists() {
		return nil, &CompileError{
			Field:   "method",
			Message: "at least one method is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := methodsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		m, err := compileMethod(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Methods = append(spec.Methods, m)
	}

	if len(spec.Methods) == 0 {
		return nil, &CompileError{
			Field:   "method",
			Message: "at least one method is required",
			Pos:     v.Pos(),
		}
	}
	return spec, nil
}

func compileMethod(name string, v cue.Value) (ir.MethodSpec, error) {
	m := ir.MethodSpec{Name: name}
	field := "method." + name

	queryVal := v.LookupPath(cue.ParsePath("query"))
	updateVal := v.LookupPath(cue.ParsePath("update"))
	switch {
	case queryVal.Exists() && updateVal.Exists():
		return m, &CompileError{
			Field:   field,
			Message: "declare exactly one of query or update",
			Pos:     v.Pos(),
		}
	case queryVal.Exists():
		m.Kind = ir.KindQuery
		sql, err := queryVal.String()
		if err != nil {
			return m, formatCUEError(err)
		}
		m.SQL = sql
	case updateVal.Exists():
		m.Kind = ir.KindUpdate
		sql, err := updateVal.String()
		if err != nil {
			return m, formatCUEError(err)
		}
		m.SQL = sql
	default:
		return m, &CompileError{
			Field:   field,
			Message: "a query or update statement is required",
			Pos:     v.Pos(),
		}
	}

	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if paramsVal.Exists() {
		iter, err := paramsVal.Fields()
		if err != nil {
			return m, formatCUEError(err)
		}
		for iter.Next() {
			typ, err := extractTypeName(iter.Value())
			if err != nil {
				return m, err
			}
			m.Params = append(m.Params, ir.ParamSpec{Name: iter.Label(), Type: typ})
		}
	}

	bindsVal := v.LookupPath(cue.ParsePath("binds"))
	if bindsVal.Exists() {
		list, err := bindsVal.List()
		if err != nil {
			return m, formatCUEError(err)
		}
		for list.Next() {
			b, err := compileBind(list.Value())
			if err != nil {
				return m, err
			}
			m.Binds = append(m.Binds, b)
		}
	}

	m.Returns = defaultShape(m.Kind)
	returnsVal := v.LookupPath(cue.ParsePath("returns"))
	if returnsVal.Exists() {
		shape, err := returnsVal.String()
		if err != nil {
			return m, formatCUEError(err)
		}
		m.Returns = ir.Shape(shape)
	}

	keysVal := v.LookupPath(cue.ParsePath("generated_keys"))
	if keysVal.Exists() {
		list, err := keysVal.List()
		if err != nil {
			return m, formatCUEError(err)
		}
		for list.Next() {
			col, err := list.Value().String()
			if err != nil {
				return m, formatCUEError(err)
			}
			m.GeneratedKeys = append(m.GeneratedKeys, col)
		}
	}

	return m, nil
}

func defaultShape(kind ir.StatementKind) ir.Shape {
	if kind == ir.KindQuery {
		return ir.ShapeRows
	}
	return ir.ShapeNone
}

// compileBind parses one explicit binding:
//
//	{name: "id", arg: 0}
//	{position: 2, arg: 1, field: "address.city"}
//	{name: "status", literal: "active"}
func compileBind(v cue.Value) (ir.BindSpec, error) {
	var b ir.BindSpec

	if nv := v.LookupPath(cue.ParsePath("name")); nv.Exists() {
		s, err := nv.String()
		if err != nil {
			return b, formatCUEError(err)
		}
		b.Name = s
	}
	if pv := v.LookupPath(cue.ParsePath("position")); pv.Exists() {
		n, err := pv.Int64()
		if err != nil {
			return b, formatCUEError(err)
		}
		b.Position = int(n)
	}
	if av := v.LookupPath(cue.ParsePath("arg")); av.Exists() {
		n, err := av.Int64()
		if err != nil {
			return b, formatCUEError(err)
		}
		b.Arg = int(n)
	}
	if fv := v.LookupPath(cue.ParsePath("field")); fv.Exists() {
		s, err := fv.String()
		if err != nil {
			return b, formatCUEError(err)
		}
		b.Field = s
	}
	if lv := v.LookupPath(cue.ParsePath("literal")); lv.Exists() {
		lit, err := literalValue(lv)
		if err != nil {
			return b, err
		}
		b.Literal = lit
	}
	return b, nil
}

// literalValue converts a concrete CUE scalar into an IR value.
func literalValue(v cue.Value) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.BytesKind:
		b, err := v.Bytes()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(b), nil
	default:
		return nil, &CompileError{
			Field:   "literal",
			Message: fmt.Sprintf("literal must be a concrete null, bool, int, string or bytes, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// extractTypeName converts a parameter declaration to an IR type name.
// A concrete string names the type ("int64", "uuid"); a bare CUE type
// (string, int, bool, bytes, float, _) maps to the nearest IR type, and a
// struct ({...}) declares a record read through field bindings.
func extractTypeName(v cue.Value) (string, error) {
	if v.Kind() == cue.StringKind {
		s, err := v.String()
		if err != nil {
			return "", formatCUEError(err)
		}
		return s, nil
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		return ir.TypeString, nil
	case cue.IntKind:
		return ir.TypeInt64, nil
	case cue.BoolKind:
		return ir.TypeBool, nil
	case cue.BytesKind:
		return ir.TypeBytes, nil
	case cue.FloatKind, cue.NumberKind:
		return ir.TypeFloat, nil
	case cue.StructKind:
		return ir.TypeStruct, nil
	case cue.TopKind:
		return ir.TypeAny, nil
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
