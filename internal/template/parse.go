package template

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed statement.
type ParseError struct {
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("statement offset %d: %s", e.Offset, e.Message)
}

// scanner states
const (
	sText = iota
	sSingleQuote
	sDoubleQuote
	sBacktick
	sBracket
	sLineComment
	sBlockComment
	sDollarQuote
)

// Parse tokenizes a statement. It fails when the statement is empty, mixes
// named and positional placeholders, or leaves a quote or block comment open.
func Parse(sql string) (*Template, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &ParseError{Offset: 0, Message: "empty statement"}
	}

	t := &Template{source: sql}
	seen := make(map[string]bool)

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.tokens = append(t.tokens, Token{Kind: Literal, Text: lit.String()})
			lit.Reset()
		}
	}

	state := sText
	stateStart := 0
	dollarTag := ""
	named, positional := false, false

	for i := 0; i < len(sql); {
		c := sql[i]

		switch state {
		case sText:
			switch {
			case c == '\'':
				state, stateStart = sSingleQuote, i
			case c == '"':
				state, stateStart = sDoubleQuote, i
			case c == '`':
				state, stateStart = sBacktick, i
			case c == '[':
				state, stateStart = sBracket, i
			case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
				state, stateStart = sLineComment, i
				lit.WriteString("--")
				i += 2
				continue
			case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
				state, stateStart = sBlockComment, i
				lit.WriteString("/*")
				i += 2
				continue
			case c == '$':
				if tag, ok := dollarQuoteTag(sql, i); ok {
					state, stateStart, dollarTag = sDollarQuote, i, tag
					lit.WriteString(tag)
					i += len(tag)
					continue
				}
			case c == ':' && i+1 < len(sql) && sql[i+1] == ':':
				// PostgreSQL cast
				lit.WriteString("::")
				i += 2
				continue
			case c == ':' && i+1 < len(sql) && isIdentStart(sql[i+1]) && !prevIsIdent(sql, i):
				j := i + 1
				for j < len(sql) && isIdentPart(sql[j]) {
					j++
				}
				if positional {
					return nil, &ParseError{Offset: i, Message: "cannot mix named and positional placeholders"}
				}
				named = true
				name := sql[i+1 : j]
				flush()
				t.tokens = append(t.tokens, Token{Kind: Named, Name: name})
				t.placeholders = append(t.placeholders, Placeholder{Name: name, Position: len(t.placeholders) + 1})
				if !seen[name] {
					seen[name] = true
					t.names = append(t.names, name)
				}
				i = j
				continue
			case c == '?':
				if named {
					return nil, &ParseError{Offset: i, Message: "cannot mix named and positional placeholders"}
				}
				positional = true
				flush()
				pos := len(t.placeholders) + 1
				t.tokens = append(t.tokens, Token{Kind: Positional, Position: pos})
				t.placeholders = append(t.placeholders, Placeholder{Position: pos})
				i++
				continue
			}
			lit.WriteByte(c)
			i++

		case sSingleQuote, sDoubleQuote, sBacktick, sBracket:
			closer := closerFor(state)
			lit.WriteByte(c)
			i++
			if c == closer {
				// doubled closer is an escaped quote
				if i < len(sql) && sql[i] == closer && state != sBracket {
					lit.WriteByte(sql[i])
					i++
					continue
				}
				state = sText
			}

		case sLineComment:
			lit.WriteByte(c)
			i++
			if c == '\n' || c == '\r' {
				state = sText
			}

		case sBlockComment:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				lit.WriteString("*/")
				i += 2
				state = sText
				continue
			}
			lit.WriteByte(c)
			i++

		case sDollarQuote:
			p := strings.Index(sql[i:], dollarTag)
			if p < 0 {
				return nil, &ParseError{Offset: stateStart, Message: "unterminated dollar-quoted string"}
			}
			lit.WriteString(sql[i : i+p+len(dollarTag)])
			i += p + len(dollarTag)
			state = sText
		}
	}

	switch state {
	case sSingleQuote, sDoubleQuote, sBacktick, sBracket:
		return nil, &ParseError{Offset: stateStart, Message: "unterminated quoted text"}
	case sBlockComment:
		return nil, &ParseError{Offset: stateStart, Message: "unterminated block comment"}
	}

	flush()
	t.positional = positional
	return t, nil
}

// MustParse is like Parse but panics on error. Intended for statements
// declared as package-level literals.
func MustParse(sql string) *Template {
	t, err := Parse(sql)
	if err != nil {
		panic(err)
	}
	return t
}

func closerFor(state int) byte {
	switch state {
	case sSingleQuote:
		return '\''
	case sDoubleQuote:
		return '"'
	case sBacktick:
		return '`'
	default:
		return ']'
	}
}

// dollarQuoteTag recognizes $$ or $tag$ at i.
func dollarQuoteTag(sql string, i int) (string, bool) {
	j := i + 1
	for j < len(sql) && isIdentPart(sql[j]) {
		j++
	}
	if j < len(sql) && sql[j] == '$' {
		tag := sql[i : j+1]
		// $1 style parameters are not quote tags
		if len(tag) > 2 && tag[1] >= '0' && tag[1] <= '9' {
			return "", false
		}
		return tag, true
	}
	return "", false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// prevIsIdent keeps "a:b" style tokens (e.g. time literals outside quotes)
// from being read as placeholders.
func prevIsIdent(sql string, i int) bool {
	return i > 0 && isIdentPart(sql[i-1])
}
