package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
)

// ErrTransactionDone is returned when a finished Transaction is used again
var ErrTransactionDone = errors.New("transaction already committed or rolled back")

// SQLiteTransactionManager runs index and lock writes atomically.
// Repositories pick the transaction up from the context via GetTxFromContext.
type SQLiteTransactionManager struct {
	db *sql.DB
}

// NewSQLiteTransactionManager creates a new SQLite transaction manager
func NewSQLiteTransactionManager(db *sql.DB) *SQLiteTransactionManager {
	return &SQLiteTransactionManager{db: db}
}

// InTransaction runs fn in a transaction, committing when fn returns nil.
// A ctx that already carries a transaction is reused, so nested calls join
// the outer transaction and only the outermost call commits.
func (m *SQLiteTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if _, ok := GetTxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(withTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// BeginTransaction starts a transaction the caller finishes explicitly
func (m *SQLiteTransactionManager) BeginTransaction(ctx context.Context) (output.Transaction, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteTransaction{tx: tx, ctx: withTx(ctx, tx)}, nil
}

type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTxFromContext returns the transaction carried by ctx, if any
func GetTxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// sqliteTransaction implements output.Transaction
type sqliteTransaction struct {
	tx   *sql.Tx
	ctx  context.Context
	done bool
}

func (t *sqliteTransaction) Commit() error {
	if t.done {
		return ErrTransactionDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *sqliteTransaction) Rollback() error {
	if t.done {
		return ErrTransactionDone
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (t *sqliteTransaction) Context() context.Context {
	return t.ctx
}
