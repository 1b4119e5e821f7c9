// Package chat implements the conversation store on PostgreSQL.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zzxtbeta/rag-demo/internal/domain"
	chatModels "github.com/zzxtbeta/rag-demo/internal/domain/models/chat"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
	"github.com/zzxtbeta/rag-demo/internal/repository/postgres"
)

// TurnStore is the PostgreSQL-backed conversation store.
type TurnStore struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTurnStore creates a new Postgres turn store.
func NewTurnStore(config *postgres.RepositoryConfig) repositories.TurnStore {
	return &TurnStore{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// AppendTurn stores a finalized turn. ON CONFLICT DO NOTHING makes the write
// idempotent on turn ID, per the store's append-only contract.
func (s *TurnStore) AppendTurn(ctx context.Context, turn *chatModels.Turn) error {
	if !turn.Role.Valid() {
		return fmt.Errorf("role %q: %w", turn.Role, domain.ErrValidation)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, s.tables.Turns)

	executor := postgres.GetExecutor(ctx, s.pool)
	tag, err := executor.Exec(ctx, query,
		turn.ID, turn.ThreadID, string(turn.Role), turn.Content, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	if tag.RowsAffected() == 0 {
		s.logger.Debug("turn already stored, skipping",
			"turn_id", turn.ID,
			"thread_id", turn.ThreadID,
		)
	}

	return nil
}

// ListTurns returns all turns for a thread ordered by timestamp, with the
// turn ID as a deterministic tie-break.
func (s *TurnStore) ListTurns(ctx context.Context, threadID string) ([]chatModels.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, role, content, created_at
		FROM %s
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
	`, s.tables.Turns)

	executor := postgres.GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []chatModels.Turn
	for rows.Next() {
		var turn chatModels.Turn
		var role string
		if err := rows.Scan(&turn.ID, &turn.ThreadID, &role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = chatModels.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}

	return turns, nil
}

// DeleteThread removes all turns for the thread.
func (s *TurnStore) DeleteThread(ctx context.Context, threadID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, s.tables.Turns)
	executor := postgres.GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}
