package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Threads string
	Events  string
	Turns   string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Threads: fmt.Sprintf("%sthreads", prefix),
		Events:  fmt.Sprintf("%sworkflow_events", prefix),
		Turns:   fmt.Sprintf("%sturns", prefix),
	}
}

// NotifyChannel returns the LISTEN/NOTIFY channel used to wake event tails.
// Prefixed like the tables so environments sharing a database don't cross-wake.
func (t *TableNames) NotifyChannel() string {
	return t.Events + "_notify"
}

// CreateConnectionPool creates a pgx connection pool sized for one producer
// per active workflow plus one tail reader per live subscriber.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the appropriate query executor for the context.
// If a transaction is present in the context, it returns the transaction.
// Otherwise, it returns the provided pool.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
