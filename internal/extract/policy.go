package extract

import (
	"fmt"
	"strings"

	"github.com/roach88/sqlext/internal/sqlerr"
	"github.com/roach88/sqlext/internal/store"
)

// KeyPolicy says how a generated key is located in a reported key set.
type KeyPolicy int

const (
	// ByColumnName finds the key column whose name matches the declared key
	// column, ignoring case.
	ByColumnName KeyPolicy = iota
	// ByColumnPosition ignores the declared name and reads the first column.
	ByColumnPosition
)

// String returns the policy name as used in configuration.
func (p KeyPolicy) String() string {
	switch p {
	case ByColumnName:
		return "name"
	case ByColumnPosition:
		return "position"
	default:
		return fmt.Sprintf("KeyPolicy(%d)", int(p))
	}
}

// ParseKeyPolicy parses "name" or "position".
func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "name", "by_column_name":
		return ByColumnName, nil
	case "position", "by_column_position":
		return ByColumnPosition, nil
	default:
		return 0, fmt.Errorf("unknown key policy %q (want name or position)", s)
	}
}

// PolicyFor returns the policy matching how an engine reports keys.
// Engines that report keys under their column names get ByColumnName;
// engines that report a synthetic or positional key get ByColumnPosition.
func PolicyFor(engine store.Engine) KeyPolicy {
	if engine.KeyReporting.ByName() {
		return ByColumnName
	}
	return ByColumnPosition
}

// Locate returns the index of the key column among the reported columns.
// An empty column list, or a missing name under ByColumnName, is a
// KeyNotFoundError.
func (p KeyPolicy) Locate(columns []string, declared string) (int, error) {
	if len(columns) == 0 {
		return -1, sqlerr.KeyNotFound("empty generated key set")
	}

	switch p {
	case ByColumnPosition:
		return 0, nil
	case ByColumnName:
		if declared == "" {
			return -1, sqlerr.KeyNotFound("no generated key column declared")
		}
		for i, c := range columns {
			if strings.EqualFold(c, declared) {
				return i, nil
			}
		}
		return -1, sqlerr.KeyNotFound("generated key column %q not among reported columns %v", declared, columns)
	default:
		return -1, sqlerr.KeyNotFound("unknown key policy %s", p)
	}
}
