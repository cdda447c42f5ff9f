package store

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// withReturning appends RETURNING with the key columns unless the statement
// already has a RETURNING clause. No columns means every column.
func withReturning(sql string, columns []string) string {
	if keywordAt(sql, "RETURNING") >= 0 {
		return sql
	}
	trimmed := strings.TrimRightFunc(sql, func(r rune) bool { return unicode.IsSpace(r) || r == ';' })
	return trimmed + " RETURNING " + columnList(columns, "")
}

// withReturningInto appends RETURNING <cols> INTO :n, ... with one out
// bind per key column, numbered after the statement's own arguments.
// Out binds need concrete columns, so an empty column list is an error.
func withReturningInto(sql string, columns []string, arity int) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("RETURNING INTO needs at least one key column")
	}
	if keywordAt(sql, "RETURNING") >= 0 {
		return "", fmt.Errorf("statement already has a RETURNING clause")
	}
	outs := make([]string, len(columns))
	for i := range columns {
		outs[i] = ":" + strconv.Itoa(arity+i+1)
	}
	trimmed := strings.TrimRightFunc(sql, func(r rune) bool { return unicode.IsSpace(r) || r == ';' })
	return trimmed + " RETURNING " + columnList(columns, "") + " INTO " + strings.Join(outs, ", "), nil
}

// withOutputInserted adds OUTPUT INSERTED.<col> to an INSERT or UPDATE
// unless the statement already has an OUTPUT clause.
//
// For INSERT the clause goes before VALUES, SELECT or DEFAULT VALUES; for
// UPDATE it goes before FROM or WHERE, or at the end.
func withOutputInserted(sql string, columns []string) (string, error) {
	if keywordAt(sql, "OUTPUT") >= 0 {
		return sql, nil
	}
	clause := "OUTPUT " + columnList(columns, "INSERTED.") + " "

	verb := strings.ToUpper(firstWord(sql))
	var candidates []string
	switch verb {
	case "INSERT":
		candidates = []string{"VALUES", "SELECT", "DEFAULT"}
	case "UPDATE":
		candidates = []string{"FROM", "WHERE"}
	default:
		return "", fmt.Errorf("cannot report generated keys for %s statement", verb)
	}

	at := -1
	for _, kw := range candidates {
		if i := keywordAt(sql, kw); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	if at < 0 {
		if verb == "UPDATE" {
			trimmed := strings.TrimRightFunc(sql, func(r rune) bool { return unicode.IsSpace(r) || r == ';' })
			return trimmed + " " + strings.TrimSpace(clause), nil
		}
		return "", fmt.Errorf("no VALUES, SELECT or DEFAULT VALUES in INSERT statement")
	}
	return sql[:at] + clause + sql[at:], nil
}

func columnList(columns []string, prefix string) string {
	if len(columns) == 0 {
		return prefix + "*"
	}
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = prefix + c
	}
	return strings.Join(parts, ", ")
}

func firstWord(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// keywordAt returns the byte offset of the first top-level occurrence of
// keyword (case-insensitive, whole word) outside quotes, brackets and
// parentheses, or -1.
func keywordAt(sql, keyword string) int {
	depth := 0
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch c {
		case '\'', '"', '`':
			j := strings.IndexByte(sql[i+1:], c)
			if j < 0 {
				return -1
			}
			i += j + 1
			continue
		case '[':
			j := strings.IndexByte(sql[i+1:], ']')
			if j < 0 {
				return -1
			}
			i += j + 1
			continue
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		}
		if depth != 0 || i+len(keyword) > len(sql) {
			continue
		}
		if !strings.EqualFold(sql[i:i+len(keyword)], keyword) {
			continue
		}
		if i > 0 && isWordByte(sql[i-1]) {
			continue
		}
		if end := i + len(keyword); end < len(sql) && isWordByte(sql[end]) {
			continue
		}
		return i
	}
	return -1
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c == '@' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
