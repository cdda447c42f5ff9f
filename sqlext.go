// Package sqlext runs declared SQL methods.
//
// A method is declared once, as data: a statement with named (:name) or
// positional (?) placeholders, its typed parameters, optional explicit
// bindings and a return shape. An ExtensionSpec groups methods under a
// name. Attaching the spec to a DB yields an Extension whose methods are
// called through typed helpers:
//
//	db, err := sqlext.Open("sqlite3", "app.db")
//	dao, err := db.Attach(spec)
//	id, err := sqlext.Key[int64](ctx, dao, "insert", "Brian")
//	name, err := sqlext.One[string](ctx, dao, "findNameById", id)
//
// Each method's statement is parsed and its bindings checked the first
// time it is called; the result is cached per DB handle. Generated keys are
// located by column name or by column position depending on how the
// database engine reports them, decided once when the DB is opened.
//
// Every failure is a *Error classified by code; see the Is* helpers.
package sqlext

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/roach88/sqlext/internal/dispatch"
	"github.com/roach88/sqlext/internal/extract"
	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/registry"
	"github.com/roach88/sqlext/internal/sqlerr"
	"github.com/roach88/sqlext/internal/store"
)

// Declaration types.
type (
	ExtensionSpec = ir.ExtensionSpec
	MethodSpec    = ir.MethodSpec
	ParamSpec     = ir.ParamSpec
	BindSpec      = ir.BindSpec
)

// Engine identifies a database dialect and how it reports generated keys.
type Engine = store.Engine

// Known engines.
var (
	SQLite    = store.SQLite
	Postgres  = store.Postgres
	SQLServer = store.SQLServer
	MySQL     = store.MySQL
	Oracle    = store.Oracle
)

// KeyPolicy locates a generated key in the key set an engine reports.
type KeyPolicy = extract.KeyPolicy

// Key policies.
const (
	ByColumnName     = extract.ByColumnName
	ByColumnPosition = extract.ByColumnPosition
)

// ParseKeyPolicy parses "name" or "position".
func ParseKeyPolicy(s string) (KeyPolicy, error) { return extract.ParseKeyPolicy(s) }

// Registry caches method descriptors. See WithRegistry.
type Registry = registry.Registry

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { return registry.New() }

// IDGenerator produces execution ids that correlate log lines of one call.
type IDGenerator = dispatch.IDGenerator

type config struct {
	engine   *Engine
	policy   *KeyPolicy
	logger   *slog.Logger
	registry *Registry
	ids      IDGenerator
}

// Option configures a DB.
type Option func(*config)

// WithEngine overrides the engine resolved from the driver name, for
// example to force LastInsertId key reporting.
func WithEngine(e Engine) Option {
	return func(c *config) { c.engine = &e }
}

// WithKeyPolicy overrides the key policy derived from the engine.
func WithKeyPolicy(p KeyPolicy) Option {
	return func(c *config) { c.policy = &p }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRegistry shares a descriptor registry. Descriptors embed the key
// policy they were built with, so share a registry only between handles
// with the same policy.
func WithRegistry(r *Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithIDGenerator sets the execution id generator. Default: UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *config) { c.ids = g }
}

// DB is a database handle that runs declared methods.
type DB struct {
	store      *store.Store
	registry   *Registry
	dispatcher *dispatch.Dispatcher
	policy     KeyPolicy
	logger     *slog.Logger
}

// Open opens a database with a database/sql driver ("sqlite3", "pgx",
// "sqlserver", "mysql"). The driver must be registered; sqlite3, pgx and
// sqlserver are registered by this package.
func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	s, err := store.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return newDB(s, opts), nil
}

// New wraps an existing *sql.DB for the given engine.
func New(db *sql.DB, engine Engine, opts ...Option) *DB {
	return newDB(store.New(db, engine), opts)
}

func newDB(s *store.Store, opts []Option) *DB {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.engine != nil {
		s = store.New(s.DB(), *cfg.engine)
	}
	if cfg.registry == nil {
		cfg.registry = registry.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	policy := extract.PolicyFor(s.Engine())
	if cfg.policy != nil {
		policy = *cfg.policy
	}

	dopts := []dispatch.Option{dispatch.WithLogger(cfg.logger)}
	if cfg.ids != nil {
		dopts = append(dopts, dispatch.WithIDGenerator(cfg.ids))
	}

	cfg.logger.Debug("database opened",
		"engine", s.Engine().Name,
		"key_reporting", s.Engine().KeyReporting.String(),
		"key_policy", policy.String(),
	)

	return &DB{
		store:      s,
		registry:   cfg.registry,
		dispatcher: dispatch.New(s, dopts...),
		policy:     policy,
		logger:     cfg.logger,
	}
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}

// SQL returns the underlying *sql.DB, for schema setup and fixtures.
func (db *DB) SQL() *sql.DB {
	return db.store.DB()
}

// Engine returns the engine in use.
func (db *DB) Engine() Engine {
	return db.store.Engine()
}

// KeyPolicy returns the key policy in use.
func (db *DB) KeyPolicy() KeyPolicy {
	return db.policy
}

// Registry returns the descriptor registry.
func (db *DB) Registry() *Registry {
	return db.registry
}

// Reset drops every cached method descriptor.
func (db *DB) Reset() {
	db.registry.Reset()
}

// Tx runs fn in a transaction. Method calls made with the context passed
// to fn join the transaction, which commits when fn returns nil.
func (db *DB) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.store.Tx(ctx, fn)
}

// Attach binds an extension declaration to this database.
//
// Method names must be unique within the extension. Statements are parsed
// lazily, on first call; use Extension.Validate to check them all up front.
func (db *DB) Attach(spec ExtensionSpec) (*Extension, error) {
	if spec.Name == "" {
		return nil, sqlerr.Binding("extension has no name")
	}
	methods := make(map[string]ir.MethodSpec, len(spec.Methods))
	hashes := make(map[string]string, len(spec.Methods))
	for _, m := range spec.Methods {
		if m.Name == "" {
			return nil, sqlerr.Binding("extension %s: method has no name", spec.Name)
		}
		if _, dup := methods[m.Name]; dup {
			return nil, sqlerr.Binding("duplicate method %s", m.Name).WithMethod(spec.Name, m.Name)
		}
		h, err := ir.MethodHash(spec.Name, m)
		if err != nil {
			return nil, sqlerr.Binding("hash method: %v", err).WithMethod(spec.Name, m.Name)
		}
		methods[m.Name] = m
		hashes[m.Name] = h
	}

	db.logger.Debug("extension attached", "extension", spec.Name, "methods", len(methods))
	return &Extension{db: db, name: spec.Name, spec: spec, methods: methods, hashes: hashes}, nil
}
