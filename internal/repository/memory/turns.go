package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zzxtbeta/rag-demo/internal/domain"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/chat"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
)

// TurnStore is an in-memory conversation store with the same idempotent
// append contract as the Postgres store.
type TurnStore struct {
	mu    sync.Mutex
	byID  map[string]struct{}
	turns map[string][]chat.Turn // keyed by thread ID
}

// NewTurnStore creates a memory turn store.
func NewTurnStore() *TurnStore {
	return &TurnStore{
		byID:  make(map[string]struct{}),
		turns: make(map[string][]chat.Turn),
	}
}

// AppendTurn stores a finalized turn; repeats on the same turn ID are no-ops.
func (s *TurnStore) AppendTurn(ctx context.Context, turn *chat.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !turn.Role.Valid() {
		return fmt.Errorf("role %q: %w", turn.Role, domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[turn.ID]; exists {
		return nil
	}
	s.byID[turn.ID] = struct{}{}
	s.turns[turn.ThreadID] = append(s.turns[turn.ThreadID], *turn)
	return nil
}

// ListTurns returns the thread's turns ordered by timestamp, turn ID.
func (s *TurnStore) ListTurns(ctx context.Context, threadID string) ([]chat.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append([]chat.Turn(nil), s.turns[threadID]...)
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].CreatedAt.Equal(turns[j].CreatedAt) {
			return turns[i].ID < turns[j].ID
		}
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
	return turns, nil
}

// DeleteThread removes all turns for the thread.
func (s *TurnStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, turn := range s.turns[threadID] {
		delete(s.byID, turn.ID)
	}
	delete(s.turns, threadID)
	return nil
}

var _ repositories.TurnStore = (*TurnStore)(nil)
