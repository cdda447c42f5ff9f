// Package store is the connectivity layer: it executes bound statements over
// database/sql and reports what each database engine gives back.
//
// # Engines
//
// An Engine describes one database dialect: its database/sql driver name,
// its placeholder style and how it reports generated keys.
//
//   - sqlite3 (mattn/go-sqlite3): ? placeholders, RETURNING (SQLite >= 3.35)
//     or LastInsertId on older libraries
//   - postgres (jackc/pgx stdlib): $n placeholders, RETURNING
//   - sqlserver (microsoft/go-mssqldb): @pN placeholders, OUTPUT INSERTED
//   - mysql (driver registered by the caller): ? placeholders, LastInsertId
//   - oracle (godror, registered by the caller): :n placeholders, RETURNING
//     INTO with out binds
//
// Engines that report keys by name return a key set whose columns carry the
// declared key names. LastInsertId engines return a synthetic one-column key
// set named GENERATED_KEY, so only positional lookup finds the key.
//
// # Statement kinds
//
//   - KindQuery: rows are returned unread; the caller owns and closes them
//   - KindUpdate: the affected row count is returned
//   - KindKeys: the statement is rewritten (or executed) so the engine reports
//     the generated keys, returned as a key set
//
// # Transactions
//
// Tx runs a function with a transaction carried in its context. Execute uses
// that transaction when present and otherwise the pool. The store never
// opens a transaction on its own.
//
// # SQLite configuration
//
//   - WAL mode: Concurrent reads during writes
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - a single open connection: SQLite has one writer
package store
