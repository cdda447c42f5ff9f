package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlext/internal/ir"
)

func validSpec() ir.ExtensionSpec {
	return ir.ExtensionSpec{
		Name: "SomethingDAO",
		Methods: []ir.MethodSpec{
			{
				Name:          "insert",
				Kind:          ir.KindUpdate,
				SQL:           "insert into something (name) values (:name)",
				Params:        []ir.ParamSpec{{Name: "name", Type: ir.TypeString}},
				Returns:       ir.ShapeGeneratedKey,
				GeneratedKeys: []string{"id"},
			},
			{
				Name:    "findNameById",
				Kind:    ir.KindQuery,
				SQL:     "select name from something where id = ?",
				Params:  []ir.ParamSpec{{Name: "id", Type: ir.TypeInt64}},
				Returns: ir.ShapeScalar,
			},
		},
	}
}

func TestValidateExtensionValid(t *testing.T) {
	spec := validSpec()
	assert.Empty(t, Validate(spec))
	assert.Empty(t, Validate(&spec))
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("nope")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidateExtensionErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ir.ExtensionSpec)
		code   string
	}{
		{"empty name", func(s *ir.ExtensionSpec) { s.Name = "" }, ErrExtensionNameInvalid},
		{"bad name", func(s *ir.ExtensionSpec) { s.Name = "my-dao" }, ErrExtensionNameInvalid},
		{"no methods", func(s *ir.ExtensionSpec) { s.Methods = nil }, ErrExtensionNoMethods},
		{"duplicate method", func(s *ir.ExtensionSpec) { s.Methods[1].Name = "insert" }, ErrDuplicateName},
		{"duplicate param", func(s *ir.ExtensionSpec) {
			s.Methods[1].Params = append(s.Methods[1].Params, ir.ParamSpec{Name: "id", Type: ir.TypeInt64})
		}, ErrDuplicateName},
		{"bad kind", func(s *ir.ExtensionSpec) { s.Methods[0].Kind = "call" }, ErrInvalidKind},
		{"bad type", func(s *ir.ExtensionSpec) { s.Methods[1].Params[0].Type = "number" }, ErrInvalidParamType},
		{"key from query", func(s *ir.ExtensionSpec) { s.Methods[1].Returns = ir.ShapeGeneratedKey }, ErrInvalidShape},
		{"rows from update", func(s *ir.ExtensionSpec) { s.Methods[0].Returns = ir.ShapeRows }, ErrInvalidShape},
		{"stray key columns", func(s *ir.ExtensionSpec) { s.Methods[1].GeneratedKeys = []string{"id"} }, ErrKeyColumnsMisplaced},
		{"empty sql", func(s *ir.ExtensionSpec) { s.Methods[0].SQL = "  " }, ErrEmptyStatement},
		{"mixed placeholders", func(s *ir.ExtensionSpec) {
			s.Methods[0].SQL = "insert into something (name) values (:name || ?)"
		}, ErrStatementSyntax},
		{"unbound placeholder", func(s *ir.ExtensionSpec) {
			s.Methods[0].SQL = "insert into something (name) values (:label)"
		}, ErrUnresolvedBinding},
		{"bind arg out of range", func(s *ir.ExtensionSpec) {
			s.Methods[0].Binds = []ir.BindSpec{{Name: "name", Arg: 3}}
		}, ErrBindArgOutOfRange},
		{"bind by name on positional", func(s *ir.ExtensionSpec) {
			s.Methods[1].Binds = []ir.BindSpec{{Name: "id", Arg: 0}}
		}, ErrMixedPlaceholderKind},
		{"stray bind", func(s *ir.ExtensionSpec) {
			s.Methods[0].Binds = []ir.BindSpec{{Name: "name", Arg: 0}, {Name: "other", Arg: 0}}
		}, ErrInvalidBinding},
		{"bind without target", func(s *ir.ExtensionSpec) {
			s.Methods[0].Binds = []ir.BindSpec{{Arg: 0}}
		}, ErrInvalidBinding},
		{"struct param bound whole", func(s *ir.ExtensionSpec) {
			s.Methods[0].Params[0].Type = ir.TypeStruct
		}, ErrInvalidBinding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)

			errs := Validate(spec)
			require.NotEmpty(t, errs)
			codes := make([]string, len(errs))
			for i, e := range errs {
				codes[i] = e.Code
			}
			assert.Contains(t, codes, tt.code)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	spec := validSpec()
	spec.Name = ""
	spec.Methods[0].Params[0].Type = "number"
	spec.Methods[1].Returns = ir.ShapeNone

	errs := Validate(spec)
	assert.Len(t, errs, 3)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "methods[0].sql", Message: "statement is empty", Code: ErrEmptyStatement}
	assert.Equal(t, "[E110] methods[0].sql: statement is empty", err.Error())

	err.Line = 12
	assert.Equal(t, "[E110] line 12: methods[0].sql: statement is empty", err.Error())
}
