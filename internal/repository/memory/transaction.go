package memory

import (
	"context"

	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
)

// TransactionManager satisfies the transaction interface for the in-memory
// backend. The memory stores mutate under their own locks, so the callback
// simply runs as-is.
type TransactionManager struct{}

// NewTransactionManager creates a pass-through transaction manager.
func NewTransactionManager() repositories.TransactionManager {
	return &TransactionManager{}
}

// ExecTx runs fn directly; there is no transaction to scope.
func (tm *TransactionManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}
