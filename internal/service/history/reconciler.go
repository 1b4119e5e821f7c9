// Package history reconciles the durable conversation transcript with the
// ephemeral workflow event backlog into one consistent client-facing
// timeline.
//
// Turns and events are written by different paths and may individually lag or
// race each other, so association is best-effort display metadata: turns are
// authoritative for content and are never re-derived from events, and a
// missing backlog degrades to turns with empty step lists, never to missing
// or duplicated turns.
package history

import (
	"log/slog"
	"sort"
	"time"

	"github.com/zzxtbeta/rag-demo/internal/domain/models/chat"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
)

// TimelineEntry is one turn annotated with the workflow events that produced
// it. Steps is advisory: it never alters the turn's own content.
type TimelineEntry struct {
	Turn  chat.Turn      `json:"turn"`
	Steps []stream.Event `json:"steps"`
}

// Reconciler merges turns and event backlogs. Reconcile is a pure function
// of its inputs; the logger only records association ambiguities.
type Reconciler struct {
	logger *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Reconcile produces the ordered, deduplicated timeline for a thread.
//
// Turns are ordered by their own timestamps. Each assistant turn claims the
// not-yet-claimed events whose timestamps fall between its preceding user
// turn and itself; the most recent assistant turn claims every event still
// unclaimed. Within a turn, steps are ordered by entry ID. Processing turns
// in timeline order makes the tie-break deterministic: an event contested by
// overlapping windows goes to the earliest turn.
//
// Neither input is mutated, and identical inputs always yield identical
// output. Events left unclaimed (a dangling start/error with no finished
// turn) are dropped: clients must treat an incomplete tail as discardable.
func (r *Reconciler) Reconcile(turns []chat.Turn, backlog []stream.Event) []TimelineEntry {
	ordered := append([]chat.Turn(nil), turns...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	events := append([]stream.Event(nil), backlog...)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EntryID < events[j].EntryID
	})

	lastAssistant := -1
	for i, turn := range ordered {
		if turn.Role == chat.RoleAssistant {
			lastAssistant = i
		}
	}

	claimed := make([]bool, len(events))
	timeline := make([]TimelineEntry, 0, len(ordered))

	var windowStart time.Time
	for i, turn := range ordered {
		entry := TimelineEntry{Turn: turn, Steps: []stream.Event{}}

		if turn.Role == chat.RoleAssistant {
			if !windowStart.IsZero() && windowStart.After(turn.CreatedAt) {
				// Clock skew between the publisher and the conversation
				// store inverted the window. Association degrades for this
				// turn; the turn itself is still emitted.
				r.logger.Warn("timeline association ambiguous, window inverted",
					"thread_id", turn.ThreadID,
					"turn_id", turn.ID,
					"window_start", windowStart,
					"turn_timestamp", turn.CreatedAt,
				)
			}

			for j, ev := range events {
				if claimed[j] {
					continue
				}
				if i == lastAssistant {
					// The most recent turn owns all remaining events.
					entry.Steps = append(entry.Steps, ev)
					claimed[j] = true
					continue
				}
				if ev.Timestamp.After(windowStart) && !ev.Timestamp.After(turn.CreatedAt) {
					entry.Steps = append(entry.Steps, ev)
					claimed[j] = true
				}
			}
		}

		if turn.Role == chat.RoleUser {
			windowStart = turn.CreatedAt
		}

		timeline = append(timeline, entry)
	}

	return timeline
}
