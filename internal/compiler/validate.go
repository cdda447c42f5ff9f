package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/sqlext/internal/binder"
	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/sqlerr"
	"github.com/roach88/sqlext/internal/template"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// ExtensionSpec errors (E101-E109)
	ErrExtensionNameInvalid = "E101" // extension name missing or not an identifier
	ErrExtensionNoMethods   = "E102" // at least one method required
	ErrDuplicateName        = "E103" // duplicate method or param name
	ErrInvalidKind          = "E104" // kind must be query or update
	ErrInvalidParamType     = "E105" // unknown param type
	ErrInvalidShape         = "E106" // returns not valid for kind
	ErrKeyColumnsMisplaced  = "E107" // generated_keys on a method that does not return a key

	// Statement errors (E110-E119)
	ErrEmptyStatement       = "E110" // statement text is empty
	ErrStatementSyntax      = "E111" // placeholder syntax error
	ErrUnresolvedBinding    = "E112" // placeholder without a binding
	ErrInvalidBinding       = "E113" // malformed, stray or duplicate binding
	ErrBindArgOutOfRange    = "E114" // bind references a missing argument
	ErrMixedPlaceholderKind = "E115" // binds by name on a positional statement or vice versa
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate validates compiled IR against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.ExtensionSpec:
		return validateExtension(spec)
	case ir.ExtensionSpec:
		return validateExtension(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

func validateExtension(spec *ir.ExtensionSpec) []ValidationError {
	var errs []ValidationError

	if !identRe.MatchString(spec.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("extension name %q must be an identifier", spec.Name),
			Code:    ErrExtensionNameInvalid,
		})
	}
	if len(spec.Methods) == 0 {
		errs = append(errs, ValidationError{
			Field:   "methods",
			Message: "at least one method is required",
			Code:    ErrExtensionNoMethods,
		})
	}

	seen := make(map[string]bool)
	for i, m := range spec.Methods {
		if seen[m.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("methods[%d].name", i),
				Message: fmt.Sprintf("duplicate method name: %q", m.Name),
				Code:    ErrDuplicateName,
			})
		}
		seen[m.Name] = true
		errs = append(errs, validateMethod(m, fmt.Sprintf("methods[%d]", i))...)
	}

	return errs
}

func validateMethod(m ir.MethodSpec, path string) []ValidationError {
	var errs []ValidationError

	if m.Kind != ir.KindQuery && m.Kind != ir.KindUpdate {
		errs = append(errs, ValidationError{
			Field:   path + ".kind",
			Message: fmt.Sprintf("kind %q must be query or update", m.Kind),
			Code:    ErrInvalidKind,
		})
	} else if !ir.ValidShapes[m.Kind][m.Returns] {
		errs = append(errs, ValidationError{
			Field:   path + ".returns",
			Message: fmt.Sprintf("%q is not a valid return shape for a %s", m.Returns, m.Kind),
			Code:    ErrInvalidShape,
		})
	}

	if len(m.GeneratedKeys) > 0 && m.Returns != ir.ShapeGeneratedKey {
		errs = append(errs, ValidationError{
			Field:   path + ".generated_keys",
			Message: "generated_keys is only meaningful when returns is generated_key",
			Code:    ErrKeyColumnsMisplaced,
		})
	}

	params := make(map[string]bool)
	for j, p := range m.Params {
		if params[p.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.params[%d]", path, j),
				Message: fmt.Sprintf("duplicate param name: %q", p.Name),
				Code:    ErrDuplicateName,
			})
		}
		params[p.Name] = true
		if !ir.ValidParamTypes[p.Type] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.params[%d].type", path, j),
				Message: fmt.Sprintf("invalid type %q for param %q", p.Type, p.Name),
				Code:    ErrInvalidParamType,
			})
		}
	}

	bindsOK := true
	for j, b := range m.Binds {
		if b.Literal == nil && (b.Arg < 0 || b.Arg >= len(m.Params)) {
			bindsOK = false
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.binds[%d].arg", path, j),
				Message: fmt.Sprintf("argument %d does not exist (method takes %d)", b.Arg, len(m.Params)),
				Code:    ErrBindArgOutOfRange,
			})
		}
	}

	return append(errs, validateStatement(m, path, bindsOK)...)
}

// validateStatement parses the statement and checks its bindings the same
// way a descriptor build does.
func validateStatement(m ir.MethodSpec, path string, bindsOK bool) []ValidationError {
	field := path + ".sql"
	if strings.TrimSpace(m.SQL) == "" {
		return []ValidationError{{Field: field, Message: "statement is empty", Code: ErrEmptyStatement}}
	}

	tmpl, err := template.Parse(m.SQL)
	if err != nil {
		return []ValidationError{{Field: field, Message: err.Error(), Code: ErrStatementSyntax}}
	}

	for j, b := range m.Binds {
		if (b.Name != "" && tmpl.IsPositional()) || (b.Position > 0 && !tmpl.IsPositional() && tmpl.Arity() > 0) {
			return []ValidationError{{
				Field:   fmt.Sprintf("%s.binds[%d]", path, j),
				Message: fmt.Sprintf("binding %s does not match the statement's placeholder style", b.Placeholder()),
				Code:    ErrMixedPlaceholderKind,
			}}
		}
	}

	if !bindsOK {
		return nil
	}

	var bindings []binder.Binding
	if len(m.Binds) > 0 {
		bindings, err = binder.FromSpecs(m.Binds, m.Params)
		if err != nil {
			return []ValidationError{{Field: path + ".binds", Message: bindMessage(err), Code: ErrInvalidBinding}}
		}
	} else {
		bindings = binder.Defaults(tmpl, m.Params)
	}

	if err := binder.Check(tmpl, bindings); err != nil {
		code := ErrInvalidBinding
		if sqlerr.IsUnresolvedParameter(err) {
			code = ErrUnresolvedBinding
		}
		return []ValidationError{{Field: field, Message: bindMessage(err), Code: code}}
	}
	return nil
}

func bindMessage(err error) string {
	var serr *sqlerr.Error
	if errors.As(err, &serr) {
		return serr.Message
	}
	return err.Error()
}
