package store

import (
	"fmt"
	"strings"

	"github.com/roach88/sqlext/internal/template"
)

// KeyReporting says how an engine hands back database-generated keys.
type KeyReporting int

const (
	// KeysReturning appends a RETURNING clause naming the key columns.
	KeysReturning KeyReporting = iota
	// KeysOutputInserted adds an OUTPUT INSERTED clause naming the key columns.
	KeysOutputInserted
	// KeysLastInsertID reads the driver's LastInsertId into a synthetic
	// GENERATED_KEY column.
	KeysLastInsertID
	// KeysReturningInto appends RETURNING ... INTO with one out bind per
	// key column.
	KeysReturningInto
)

// String returns the key reporting name.
func (k KeyReporting) String() string {
	switch k {
	case KeysReturning:
		return "returning"
	case KeysOutputInserted:
		return "output_inserted"
	case KeysLastInsertID:
		return "last_insert_id"
	case KeysReturningInto:
		return "returning_into"
	default:
		return fmt.Sprintf("KeyReporting(%d)", int(k))
	}
}

// ParseKeyReporting parses a key reporting name as printed by String.
func ParseKeyReporting(s string) (KeyReporting, error) {
	switch strings.ToLower(s) {
	case "returning":
		return KeysReturning, nil
	case "output_inserted":
		return KeysOutputInserted, nil
	case "last_insert_id":
		return KeysLastInsertID, nil
	case "returning_into":
		return KeysReturningInto, nil
	}
	return 0, fmt.Errorf("unknown key reporting %q: want returning, output_inserted, last_insert_id or returning_into", s)
}

// ByName reports whether key sets produced this way carry the declared
// column names.
func (k KeyReporting) ByName() bool {
	return k != KeysLastInsertID
}

// GeneratedKeyColumn is the column name of LastInsertId key sets.
const GeneratedKeyColumn = "GENERATED_KEY"

// Engine identifies a database dialect.
type Engine struct {
	Name         string
	Driver       string
	Placeholders template.Style
	KeyReporting KeyReporting
}

// String returns the engine name.
func (e Engine) String() string { return e.Name }

// Known engines.
var (
	SQLite = Engine{
		Name:         "sqlite3",
		Driver:       "sqlite3",
		Placeholders: template.Question,
		KeyReporting: KeysReturning,
	}
	Postgres = Engine{
		Name:         "postgres",
		Driver:       "pgx",
		Placeholders: template.Dollar,
		KeyReporting: KeysReturning,
	}
	SQLServer = Engine{
		Name:         "sqlserver",
		Driver:       "sqlserver",
		Placeholders: template.AtP,
		KeyReporting: KeysOutputInserted,
	}
	MySQL = Engine{
		Name:         "mysql",
		Driver:       "mysql",
		Placeholders: template.Question,
		KeyReporting: KeysLastInsertID,
	}
	Oracle = Engine{
		Name:         "oracle",
		Driver:       "godror",
		Placeholders: template.Colon,
		KeyReporting: KeysReturningInto,
	}
)

// EngineFor resolves the engine for a database/sql driver name.
// The returned engine keeps the given driver name.
func EngineFor(driverName string) (Engine, error) {
	var e Engine
	switch strings.ToLower(driverName) {
	case "sqlite3", "sqlite":
		e = SQLite
	case "pgx", "postgres", "postgresql":
		e = Postgres
	case "sqlserver", "mssql":
		e = SQLServer
	case "mysql":
		e = MySQL
	case "godror", "oracle":
		e = Oracle
	default:
		return Engine{}, fmt.Errorf("unknown database driver %q", driverName)
	}
	e.Driver = driverName
	return e, nil
}
