package repositories

import (
	"context"

	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
)

// EventLog is the durable, per-thread, append-only workflow event log.
//
// The log is the only shared mutable resource in the streaming core. All
// mutation goes through Append, whose entry-ID assignment must be atomic:
// no two concurrent appenders for the same thread may receive the same ID.
// Readers never block writers and vice versa.
type EventLog interface {
	// Append durably records ev for threadID and returns the assigned entry
	// ID, strictly increasing within the thread. ev.EntryID is also set on
	// success. Fails with domain.ErrStoreUnavailable when the backend is
	// unreachable; callers must treat that as non-fatal.
	Append(ctx context.Context, threadID string, ev *stream.Event) (int64, error)

	// ReadRange returns up to limit entries (limit <= 0 means no limit)
	// with entry ID greater than *after, in ascending order. A nil cursor
	// reads everything still retained. A cursor older than the retention
	// horizon fails with domain.ErrCursorExpired; a cursor at or past the
	// tail returns an empty slice.
	ReadRange(ctx context.Context, threadID string, after *int64, limit int) ([]stream.Event, error)

	// Tail streams entries with entry ID greater than after as they are
	// appended, blocking between entries rather than polling the caller.
	// The starting cursor is clamped to the current retention horizon; a
	// tail that later falls behind retention is closed so the consumer
	// reconnects through full reconciliation. The channel preserves
	// entry-ID order, never repeats an ID, and is closed when ctx is
	// cancelled.
	Tail(ctx context.Context, threadID string, after int64) (<-chan stream.Event, error)

	// SetRetention overrides the environment-default retention policy for
	// one thread. Enforcement stays monotonic: trimming never removes an
	// entry newer than the window boundary.
	SetRetention(ctx context.Context, threadID string, policy stream.RetentionPolicy) error

	// DeleteThread removes all log state for the thread.
	DeleteThread(ctx context.Context, threadID string) error
}
