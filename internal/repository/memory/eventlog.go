// Package memory provides in-process implementations of the event log and
// conversation store. Used for development without a database and as the
// test double for the streaming core; the semantics match the Postgres
// implementations entry for entry.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zzxtbeta/rag-demo/internal/domain"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
)

// tailPageSize bounds how many entries one tail wakeup reads at a time.
const tailPageSize = 256

// threadLog holds one thread's retained entries plus its counter state.
type threadLog struct {
	entries []stream.Event // ascending entry IDs, horizon-trimmed
	lastID  int64
	horizon int64 // highest evicted entry ID
	policy  *stream.RetentionPolicy
	waiters map[int]chan struct{}
}

// EventLog is an in-memory EventLog with the same retention and cursor
// semantics as the Postgres log.
type EventLog struct {
	mu       sync.Mutex
	threads  map[string]*threadLog
	defaults stream.RetentionPolicy
	nextSub  int
	now      func() time.Time
}

// NewEventLog creates a memory event log with the given retention defaults.
func NewEventLog(defaults stream.RetentionPolicy) *EventLog {
	return &EventLog{
		threads:  make(map[string]*threadLog),
		defaults: defaults,
		now:      time.Now,
	}
}

func (l *EventLog) thread(threadID string) *threadLog {
	t, ok := l.threads[threadID]
	if !ok {
		t = &threadLog{waiters: make(map[int]chan struct{})}
		l.threads[threadID] = t
	}
	return t
}

// Append assigns the next entry ID under the log lock, trims, and wakes tails.
func (l *EventLog) Append(ctx context.Context, threadID string, ev *stream.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.thread(threadID)
	t.lastID++
	ev.EntryID = t.lastID
	ev.ThreadID = threadID
	t.entries = append(t.entries, *ev)

	l.trimLocked(t)

	for _, ch := range t.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	return ev.EntryID, nil
}

func (l *EventLog) trimLocked(t *threadLog) {
	policy := l.defaults
	if t.policy != nil {
		policy = *t.policy
	}
	if !policy.Bounded() {
		return
	}

	cutoff := t.horizon
	if policy.MaxEntries > 0 && len(t.entries) > policy.MaxEntries {
		if id := t.entries[len(t.entries)-policy.MaxEntries-1].EntryID; id > cutoff {
			cutoff = id
		}
	}
	if policy.MaxAge > 0 {
		boundary := l.now().UTC().Add(-policy.MaxAge)
		for _, ev := range t.entries {
			if !ev.Timestamp.Before(boundary) {
				break
			}
			if ev.EntryID > cutoff {
				cutoff = ev.EntryID
			}
		}
	}

	if cutoff <= t.horizon {
		return
	}

	keep := 0
	for keep < len(t.entries) && t.entries[keep].EntryID <= cutoff {
		keep++
	}
	t.entries = append([]stream.Event(nil), t.entries[keep:]...)
	t.horizon = cutoff
}

// ReadRange returns retained entries after the cursor; a cursor behind the
// horizon fails with ErrCursorExpired.
func (l *EventLog) ReadRange(ctx context.Context, threadID string, after *int64, limit int) ([]stream.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.threads[threadID]
	if !ok {
		return []stream.Event{}, nil
	}

	from := t.horizon
	if after != nil {
		if *after < t.horizon {
			return nil, fmt.Errorf("cursor %d behind horizon %d: %w", *after, t.horizon, domain.ErrCursorExpired)
		}
		from = *after
	}

	events := make([]stream.Event, 0, len(t.entries))
	for _, ev := range t.entries {
		if ev.EntryID <= from {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

// Tail streams entries after the cursor, waking on appends.
func (l *EventLog) Tail(ctx context.Context, threadID string, after int64) (<-chan stream.Event, error) {
	l.mu.Lock()
	t := l.thread(threadID)
	id := l.nextSub
	l.nextSub++
	wake := make(chan struct{}, 1)
	t.waiters[id] = wake
	l.mu.Unlock()

	unsubscribe := func() {
		l.mu.Lock()
		delete(t.waiters, id)
		l.mu.Unlock()
	}

	out := make(chan stream.Event)
	go func() {
		defer close(out)
		defer unsubscribe()

		// Bootstrap at the retention horizon, matching the Postgres log.
		cursor := after
		l.mu.Lock()
		if t.horizon > cursor {
			cursor = t.horizon
		}
		l.mu.Unlock()

		for {
			events, err := l.ReadRange(ctx, threadID, &cursor, tailPageSize)
			if err != nil {
				// ctx cancelled, or the tail fell behind retention and its
				// cursor expired. Either way the channel closes and the
				// consumer reconnects through full reconciliation.
				return
			}

			for _, ev := range events {
				select {
				case out <- ev:
					cursor = ev.EntryID
				case <-ctx.Done():
					return
				}
			}

			if len(events) == tailPageSize {
				// More may be pending; read again before sleeping.
				continue
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// SetRetention overrides the retention policy for one thread.
func (l *EventLog) SetRetention(ctx context.Context, threadID string, policy stream.RetentionPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.thread(threadID)
	t.policy = &policy
	l.trimLocked(t)
	return nil
}

// DeleteThread drops all log state for the thread.
func (l *EventLog) DeleteThread(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.threads, threadID)
	return nil
}

var _ repositories.EventLog = (*EventLog)(nil)
