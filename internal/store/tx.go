package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type txKey struct{ store *Store }

// Tx runs fn with a transaction carried in its context. Statements executed
// through this store with that context join the transaction. The transaction
// commits when fn returns nil and rolls back otherwise (including panics).
//
// Nested calls reuse the outer transaction.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx, s) != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("commit: %w", cErr)
		}
	}()

	return fn(context.WithValue(ctx, txKey{s}, tx))
}

// InTx reports whether ctx carries a transaction of this store.
func (s *Store) InTx(ctx context.Context) bool {
	return txFrom(ctx, s) != nil
}

func txFrom(ctx context.Context, s *Store) *sql.Tx {
	tx, _ := ctx.Value(txKey{s}).(*sql.Tx)
	return tx
}
