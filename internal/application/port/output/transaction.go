package output

import (
	"context"
)

// TransactionManager runs repository operations against the sqlite store
// as one unit (for example a full rebuild of the workflow index)
type TransactionManager interface {
	// InTransaction executes fn within a transaction
	// If fn returns an error, the transaction is rolled back
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error

	// BeginTransaction starts a new transaction
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// Transaction represents an active transaction
type Transaction interface {
	Commit() error
	Rollback() error

	// Context returns the context carrying the transaction
	Context() context.Context
}
