// Package template parses parameterized SQL statements into immutable token
// sequences and renders them in a driver's placeholder style.
//
// Two placeholder forms are recognized, and a statement may use only one:
//   - named:      :name (identifier characters, letters/digits/underscore)
//   - positional: ?
//
// Placeholders inside quoted strings, quoted identifiers and comments are
// left alone, as are PostgreSQL casts (::type).
//
// A Template never changes after Parse returns. It is safe to share between
// goroutines and to render concurrently.
package template

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenKind identifies a token in a statement.
type TokenKind int

const (
	// Literal is SQL text copied verbatim.
	Literal TokenKind = iota
	// Named is a :name placeholder.
	Named
	// Positional is a ? placeholder.
	Positional
)

// Token is a single element of a parsed statement.
type Token struct {
	Kind TokenKind
	// Text holds literal SQL for Literal tokens.
	Text string
	// Name holds the placeholder name for Named tokens.
	Name string
	// Position is the 1-based ordinal of a Positional token.
	Position int
}

// Placeholder is one occurrence of a parameter in statement order.
type Placeholder struct {
	Name     string // empty for positional placeholders
	Position int    // 1-based; for named placeholders the occurrence ordinal
}

// Style is a driver placeholder syntax.
type Style int

const (
	// Question renders every placeholder as ? (SQLite, MySQL).
	Question Style = iota
	// Dollar renders $1, $2, ... (PostgreSQL).
	Dollar
	// AtP renders @p1, @p2, ... (SQL Server).
	AtP
	// Colon renders :1, :2, ... (Oracle).
	Colon
)

// String returns the style name.
func (s Style) String() string {
	switch s {
	case Question:
		return "question"
	case Dollar:
		return "dollar"
	case AtP:
		return "atp"
	case Colon:
		return "colon"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

// Template is a parsed, immutable statement.
type Template struct {
	source       string
	tokens       []Token
	placeholders []Placeholder
	names        []string // distinct named placeholders, first-occurrence order
	positional   bool
}

// Source returns the original statement text.
func (t *Template) Source() string { return t.source }

// Tokens returns a copy of the token sequence.
func (t *Template) Tokens() []Token {
	out := make([]Token, len(t.tokens))
	copy(out, t.tokens)
	return out
}

// Placeholders returns every placeholder occurrence in statement order.
func (t *Template) Placeholders() []Placeholder {
	out := make([]Placeholder, len(t.placeholders))
	copy(out, t.placeholders)
	return out
}

// Names returns the distinct placeholder names in first-occurrence order.
// Positional templates return nil.
func (t *Template) Names() []string {
	if len(t.names) == 0 {
		return nil
	}
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// IsPositional reports whether the template uses ? placeholders.
func (t *Template) IsPositional() bool { return t.positional }

// Arity returns the number of placeholder occurrences.
func (t *Template) Arity() int { return len(t.placeholders) }

// Render produces driver SQL in the given style. Each placeholder occurrence
// becomes its own driver parameter, numbered in statement order, so the
// values passed with the rendered SQL line up with Placeholders().
func (t *Template) Render(style Style) string {
	var b strings.Builder
	b.Grow(len(t.source) + 2*len(t.placeholders))

	n := 0
	for _, tok := range t.tokens {
		if tok.Kind == Literal {
			b.WriteString(tok.Text)
			continue
		}
		n++
		switch style {
		case Dollar:
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		case AtP:
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(n))
		case Colon:
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

// String returns the original statement text.
func (t *Template) String() string { return t.source }
