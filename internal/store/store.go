package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// sqliteReturningVersion is the first SQLite release with RETURNING (3.35.0).
const sqliteReturningVersion = 3035000

// Kind selects how Execute runs a statement.
type Kind int

const (
	// KindQuery returns rows.
	KindQuery Kind = iota
	// KindUpdate returns the affected row count.
	KindUpdate
	// KindKeys returns the generated key set.
	KindKeys
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindUpdate:
		return "update"
	case KindKeys:
		return "keys"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Statement is a fully bound statement in the engine's placeholder style.
type Statement struct {
	SQL  string
	Args []any
	// KeyColumns names the generated key columns for KindKeys.
	KeyColumns []string
}

// Store executes statements against one database.
type Store struct {
	db     *sql.DB
	engine Engine
}

// Open opens a database with the given database/sql driver and resolves
// its engine.
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - a single open connection
//
// and fall back to LastInsertId key reporting when the linked SQLite
// library predates RETURNING.
func Open(driverName, dsn string) (*Store, error) {
	engine, err := EngineFor(driverName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if engine.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
		engine = negotiateSQLite(engine)
	}

	return New(db, engine), nil
}

// New wraps an existing database handle. The caller keeps ownership of db
// configuration; Close still closes it.
func New(db *sql.DB, engine Engine) *Store {
	return &Store{db: db, engine: engine}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct use (schema setup, fixtures).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Engine returns the resolved engine.
func (s *Store) Engine() Engine {
	return s.engine
}

// querier is the part of *sql.DB and *sql.Tx that Execute needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) querier(ctx context.Context) querier {
	if tx := txFrom(ctx, s); tx != nil {
		return tx
	}
	return s.db
}

// Execute runs stmt as the given kind.
//
// Errors are returned as the driver reported them; callers classify them
// with Transient. For KindQuery and KindKeys the caller must close the
// returned Result.
func (s *Store) Execute(ctx context.Context, stmt Statement, kind Kind) (*Result, error) {
	q := s.querier(ctx)

	switch kind {
	case KindQuery:
		rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: rows, RowsAffected: -1}, nil

	case KindUpdate:
		res, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		return &Result{RowsAffected: n}, nil

	case KindKeys:
		return s.executeKeys(ctx, q, stmt)

	default:
		return nil, fmt.Errorf("unknown statement kind %s", kind)
	}
}

func (s *Store) executeKeys(ctx context.Context, q querier, stmt Statement) (*Result, error) {
	switch s.engine.KeyReporting {
	case KeysReturning:
		rows, err := q.QueryContext(ctx, withReturning(stmt.SQL, stmt.KeyColumns), stmt.Args...)
		if err != nil {
			return nil, err
		}
		return &Result{Keys: rows, RowsAffected: -1}, nil

	case KeysOutputInserted:
		query, err := withOutputInserted(stmt.SQL, stmt.KeyColumns)
		if err != nil {
			return nil, err
		}
		rows, err := q.QueryContext(ctx, query, stmt.Args...)
		if err != nil {
			return nil, err
		}
		return &Result{Keys: rows, RowsAffected: -1}, nil

	case KeysLastInsertID:
		res, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		keys := NewStaticRows([]string{GeneratedKeyColumn})
		if n > 0 {
			keys = NewStaticRows([]string{GeneratedKeyColumn}, []any{id})
		}
		return &Result{Keys: keys, RowsAffected: n}, nil

	case KeysReturningInto:
		query, err := withReturningInto(stmt.SQL, stmt.KeyColumns, len(stmt.Args))
		if err != nil {
			return nil, err
		}
		// Keys come back as text; Scan converts them like any key set.
		outs := make([]string, len(stmt.KeyColumns))
		args := append([]any(nil), stmt.Args...)
		for i := range outs {
			args = append(args, sql.Out{Dest: &outs[i]})
		}
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		keys := NewStaticRows(stmt.KeyColumns)
		if n > 0 {
			row := make([]any, len(outs))
			for i, v := range outs {
				row[i] = v
			}
			keys = NewStaticRows(stmt.KeyColumns, row)
		}
		return &Result{Keys: keys, RowsAffected: n}, nil

	default:
		return nil, fmt.Errorf("engine %s: unknown key reporting %s", s.engine, s.engine.KeyReporting)
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// negotiateSQLite picks the key reporting the linked SQLite library supports.
func negotiateSQLite(e Engine) Engine {
	if e.KeyReporting != KeysReturning {
		return e
	}
	if _, version, _ := sqlite3.Version(); version < sqliteReturningVersion {
		e.KeyReporting = KeysLastInsertID
	}
	return e
}
