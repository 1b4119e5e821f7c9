package repositories

import (
	"context"

	"github.com/zzxtbeta/rag-demo/internal/domain/models/chat"
)

// TurnStore is the durable, authoritative record of finalized conversation
// turns, written independently of the event log. The core treats it as
// append-only: a turn is never edited or re-written once stored.
type TurnStore interface {
	// AppendTurn stores a finalized turn. Idempotent on turn.ID: appending
	// the same turn twice is a no-op, never a duplicate.
	AppendTurn(ctx context.Context, turn *chat.Turn) error

	// ListTurns returns all turns for a thread ordered by timestamp.
	ListTurns(ctx context.Context, threadID string) ([]chat.Turn, error)

	// DeleteThread removes all turns for the thread.
	DeleteThread(ctx context.Context, threadID string) error
}
