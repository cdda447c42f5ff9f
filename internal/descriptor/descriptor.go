// Package descriptor builds the immutable, per-method execution plan of a
// declared method: parsed template, checked bindings, return shape and key
// extraction policy.
package descriptor

import (
	"errors"

	"github.com/roach88/sqlext/internal/binder"
	"github.com/roach88/sqlext/internal/extract"
	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/sqlerr"
	"github.com/roach88/sqlext/internal/store"
	"github.com/roach88/sqlext/internal/template"
)

// Descriptor is everything needed to run one declared method. It is built
// once, never mutated, and shared by every call.
type Descriptor struct {
	Extension  string
	Method     string
	Signature  string
	Kind       ir.StatementKind
	Template   *template.Template
	Bindings   []binder.Binding
	Params     []ir.ParamSpec
	Shape      ir.Shape
	KeyColumns []string
	Policy     extract.KeyPolicy
	// Hash is the content hash of the method declaration.
	Hash string
}

// Build validates a method declaration and produces its descriptor.
//
// Every placeholder of the statement must resolve to exactly one binding;
// a missing binding fails here, before any execution, with an
// UnresolvedParameterError.
func Build(extension string, spec ir.MethodSpec, policy extract.KeyPolicy) (*Descriptor, error) {
	d, err := build(extension, spec, policy)
	if err != nil {
		return nil, sqlerr.Annotate(err, extension, spec.Name)
	}
	return d, nil
}

func build(extension string, spec ir.MethodSpec, policy extract.KeyPolicy) (*Descriptor, error) {
	if !ir.ValidShapes[spec.Kind][spec.Returns] {
		return nil, sqlerr.Binding("return shape %q is not valid for a %s statement", spec.Returns, spec.Kind)
	}
	for i, p := range spec.Params {
		if !ir.ValidParamTypes[p.Type] {
			return nil, sqlerr.Binding("parameter %d (%s) has unknown type %q", i, p.Name, p.Type)
		}
	}
	if spec.Returns == ir.ShapeGeneratedKey && policy == extract.ByColumnName && len(spec.GeneratedKeys) == 0 {
		return nil, sqlerr.Binding("generated key method declares no key column")
	}

	tmpl, err := template.Parse(spec.SQL)
	if err != nil {
		var perr *template.ParseError
		if errors.As(err, &perr) {
			return nil, sqlerr.Binding("statement: %s", perr.Error())
		}
		return nil, err
	}

	var bindings []binder.Binding
	if len(spec.Binds) > 0 {
		bindings, err = binder.FromSpecs(spec.Binds, spec.Params)
		if err != nil {
			return nil, err
		}
	} else {
		bindings = binder.Defaults(tmpl, spec.Params)
	}
	if err := binder.Check(tmpl, bindings); err != nil {
		return nil, err
	}

	hash, err := ir.MethodHash(extension, spec)
	if err != nil {
		return nil, sqlerr.Binding("hash method: %v", err)
	}

	return &Descriptor{
		Extension:  extension,
		Method:     spec.Name,
		Signature:  spec.Signature(),
		Kind:       spec.Kind,
		Template:   tmpl,
		Bindings:   bindings,
		Params:     append([]ir.ParamSpec(nil), spec.Params...),
		Shape:      spec.Returns,
		KeyColumns: append([]string(nil), spec.GeneratedKeys...),
		Policy:     policy,
		Hash:       hash,
	}, nil
}

// StoreKind is how the store must execute this method's statement.
func (d *Descriptor) StoreKind() store.Kind {
	switch {
	case d.Kind == ir.KindQuery:
		return store.KindQuery
	case d.Shape == ir.ShapeGeneratedKey:
		return store.KindKeys
	default:
		return store.KindUpdate
	}
}

// KeyColumn is the declared column of the generated key, or "".
func (d *Descriptor) KeyColumn() string {
	if len(d.KeyColumns) == 0 {
		return ""
	}
	return d.KeyColumns[0]
}

// String returns Extension.Signature.
func (d *Descriptor) String() string {
	return d.Extension + "." + d.Signature
}
