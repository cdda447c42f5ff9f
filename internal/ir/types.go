package ir

import (
	"fmt"
	"strings"
)

// ExtensionSpec is a compiled extension declaration: a named set of methods.
type ExtensionSpec struct {
	Name    string       `json:"name"`
	Methods []MethodSpec `json:"methods"`
}

// Method returns the method with the given name.
func (e ExtensionSpec) Method(name string) (MethodSpec, bool) {
	for _, m := range e.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodSpec{}, false
}

// StatementKind distinguishes queries from updates.
type StatementKind string

const (
	// KindQuery is a statement producing rows (@SqlQuery).
	KindQuery StatementKind = "query"
	// KindUpdate is a statement producing a row count or generated keys (@SqlUpdate).
	KindUpdate StatementKind = "update"
)

// Shape is the declared return shape of a method.
type Shape string

const (
	// ShapeNone returns the number of affected rows.
	ShapeNone Shape = "none"
	// ShapeScalar returns the first column of exactly one row.
	ShapeScalar Shape = "scalar"
	// ShapeOptional returns the first column of zero or one row.
	ShapeOptional Shape = "optional"
	// ShapeRows returns a lazily mapped sequence of rows.
	ShapeRows Shape = "rows"
	// ShapeGeneratedKey returns a database-generated key.
	ShapeGeneratedKey Shape = "generated_key"
)

// ValidShapes defines allowed return shapes per statement kind.
var ValidShapes = map[StatementKind]map[Shape]bool{
	KindQuery: {
		ShapeScalar:   true,
		ShapeOptional: true,
		ShapeRows:     true,
	},
	KindUpdate: {
		ShapeNone:         true,
		ShapeGeneratedKey: true,
	},
}

// MethodSpec is one declared operation.
type MethodSpec struct {
	Name          string        `json:"name"`
	Kind          StatementKind `json:"kind"`
	SQL           string        `json:"sql"`
	Params        []ParamSpec   `json:"params"`
	Binds         []BindSpec    `json:"binds,omitempty"`
	Returns       Shape         `json:"returns"`
	GeneratedKeys []string      `json:"generated_keys,omitempty"`
}

// Signature returns the method's stable identity within its extension:
// the name followed by the ordered parameter types, e.g. "insert(string)".
func (m MethodSpec) Signature() string {
	types := make([]string, len(m.Params))
	for i, p := range m.Params {
		types[i] = p.Type
	}
	return fmt.Sprintf("%s(%s)", m.Name, strings.Join(types, ","))
}

// ParamSpec is a named, typed call parameter.
type ParamSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Parameter type names accepted in declarations.
const (
	TypeString  = "string"
	TypeInt     = "int"
	TypeInt32   = "int32"
	TypeInt64   = "int64"
	TypeUint    = "uint"
	TypeBool    = "bool"
	TypeFloat   = "float"
	TypeBytes   = "bytes"
	TypeTime    = "time"
	TypeDecimal = "decimal"
	TypeUUID    = "uuid"
	TypeAny     = "any"
	// TypeStruct is a struct, struct pointer or string-keyed map whose
	// fields feed field bindings. It never binds directly.
	TypeStruct = "struct"
)

// ValidParamTypes defines the declarable parameter types.
var ValidParamTypes = map[string]bool{
	TypeString:  true,
	TypeInt:     true,
	TypeInt32:   true,
	TypeInt64:   true,
	TypeUint:    true,
	TypeBool:    true,
	TypeFloat:   true,
	TypeBytes:   true,
	TypeTime:    true,
	TypeDecimal: true,
	TypeUUID:    true,
	TypeAny:     true,
	TypeStruct:  true,
}

// BindSpec pairs a placeholder with the source of its value.
//
// Exactly one of Name or Position identifies the placeholder. The value comes
// from call argument Arg, optionally narrowed by Field (a dotted path into a
// struct or map argument), or from Literal when Literal is set.
type BindSpec struct {
	Name     string  `json:"name,omitempty"`
	Position int     `json:"position,omitempty"` // 1-based
	Arg      int     `json:"arg"`
	Field    string  `json:"field,omitempty"`
	Literal  IRValue `json:"literal,omitempty"`
}

// Placeholder returns a display name for the bound placeholder.
func (b BindSpec) Placeholder() string {
	if b.Name != "" {
		return ":" + b.Name
	}
	return fmt.Sprintf("?%d", b.Position)
}
