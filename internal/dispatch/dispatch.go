// Package dispatch runs a declared method end to end: validate the call,
// bind arguments, execute the statement and extract the typed result.
//
// The Dispatcher holds no per-call mutable state. Each call gets its own
// ExecutionContext, which is discarded when the call returns.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/sqlext/internal/binder"
	"github.com/roach88/sqlext/internal/descriptor"
	"github.com/roach88/sqlext/internal/extract"
	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/sqlerr"
	"github.com/roach88/sqlext/internal/store"
)

// ExecutionContext describes one in-flight call.
type ExecutionContext struct {
	ID         string
	Descriptor *descriptor.Descriptor
	Engine     store.Engine
	Statement  store.Statement
	Started    time.Time
}

// Dispatcher orchestrates method calls against one store.
type Dispatcher struct {
	store  *store.Store
	logger *slog.Logger
	ids    IDGenerator
	now    func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithIDGenerator sets the execution id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) {
		if g != nil {
			d.ids = g
		}
	}
}

// New creates a Dispatcher over s.
func New(s *store.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  s,
		logger: slog.Default(),
		ids:    UUIDv7Generator{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store returns the store calls execute against.
func (d *Dispatcher) Store() *store.Store {
	return d.store
}

// Invoke runs desc with args and returns what ex extracts.
//
// Argument count and types, and the extractor's shape, are checked against
// the declaration before the database is touched; a mismatch is a
// BindingError. Driver failures become ExecutionFaults that keep the
// driver error (and any context cancellation) in their chain. A transaction
// carried in ctx by store.Tx is joined, never committed or rolled back here.
func (d *Dispatcher) Invoke(ctx context.Context, desc *descriptor.Descriptor, args []any, ex extract.Extractor) (any, error) {
	if desc == nil {
		return nil, sqlerr.Binding("no method descriptor")
	}
	if err := validate(desc, args, ex); err != nil {
		return nil, sqlerr.Annotate(err, desc.Extension, desc.Method)
	}

	engine := d.store.Engine()
	bound, err := binder.Bind(desc.Template, desc.Bindings, args, engine.Placeholders)
	if err != nil {
		return nil, sqlerr.Annotate(err, desc.Extension, desc.Method)
	}

	ec := ExecutionContext{
		ID:         d.ids.Generate(),
		Descriptor: desc,
		Engine:     engine,
		Statement:  store.Statement{SQL: bound.SQL, Args: bound.Args, KeyColumns: desc.KeyColumns},
		Started:    d.now(),
	}

	log := d.logger.With(
		"extension", desc.Extension,
		"method", desc.Method,
		"execution_id", ec.ID,
	)

	res, err := d.store.Execute(ctx, ec.Statement, desc.StoreKind())
	if err != nil {
		fault := d.fault(&ec, err)
		log.Warn("statement execution failed",
			"engine", engine.Name,
			"transient", sqlerr.IsTransient(fault),
			"error", err,
		)
		return nil, fault
	}

	out, err := ex.Extract(res)
	if err != nil {
		if sqlerr.CodeOf(err) == "" {
			err = d.fault(&ec, err)
		}
		err = sqlerr.Annotate(err, desc.Extension, desc.Method)
		log.Debug("extraction failed",
			"code", sqlerr.CodeOf(err),
			"error", err,
		)
		return nil, err
	}

	if lazy, ok := out.(interface{ OnFault(func(error) error) }); ok {
		lazy.OnFault(func(err error) error { return d.fault(&ec, err) })
	}

	log.Debug("method invoked",
		"kind", desc.StoreKind().String(),
		"rows_affected", res.RowsAffected,
		"duration", d.now().Sub(ec.Started),
	)
	return out, nil
}

// fault classifies a driver error for the call described by ec.
func (d *Dispatcher) fault(ec *ExecutionContext, err error) error {
	return sqlerr.Execution(err, ec.Engine.Name, ec.Statement.SQL, store.Transient(err)).
		WithMethod(ec.Descriptor.Extension, ec.Descriptor.Method)
}

// validate checks the call against the declaration.
func validate(desc *descriptor.Descriptor, args []any, ex extract.Extractor) error {
	if ex == nil {
		return sqlerr.Binding("no result extractor")
	}
	if ex.Shape() != desc.Shape {
		return sqlerr.Binding("extractor %s returns %s, method declares %s", ex.Variant(), ex.Shape(), desc.Shape)
	}
	if len(args) != len(desc.Params) {
		return sqlerr.Binding("got %d arguments, method %s takes %d", len(args), desc.Signature, len(desc.Params))
	}
	records := binder.FieldOnly(desc.Bindings, len(desc.Params))
	for i, p := range desc.Params {
		var err error
		if p.Type == ir.TypeStruct || records[i] {
			err = binder.CheckRecord(args[i])
		} else {
			_, err = binder.Coerce(args[i], p.Type)
		}
		if err != nil {
			if se, ok := err.(*sqlerr.Error); ok {
				return se.WithPrefix("argument " + p.Name)
			}
			return err
		}
	}
	return nil
}
