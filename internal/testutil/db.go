package testutil

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlext/internal/store"
)

// SomethingSchema is the table most tests insert into and read back.
// AUTOINCREMENT makes ids come from sqlite_sequence, never reused.
const SomethingSchema = `CREATE TABLE something (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
)`

// OpenSQLite opens a SQLite store in a temp dir, applies the given schema
// statements and closes the store when the test ends.
func OpenSQLite(t *testing.T, schema ...string) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, stmt := range schema {
		_, err := s.DB().Exec(stmt)
		require.NoError(t, err, "schema: %s", stmt)
	}
	return s
}

// WithKeyReporting returns a store sharing s's database whose engine reports
// keys the given way.
func WithKeyReporting(s *store.Store, k store.KeyReporting) *store.Store {
	e := s.Engine()
	e.KeyReporting = k
	return store.New(s.DB(), e)
}

// CaptureLogger returns a debug-level text logger writing into a buffer.
func CaptureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
