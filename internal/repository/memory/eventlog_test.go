package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zzxtbeta/rag-demo/internal/domain"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
)

func newTestEvent(node string, msgType stream.MessageType) *stream.Event {
	return &stream.Event{
		NodeName:    node,
		MessageType: msgType,
		Status:      stream.StatusRunning,
	}
}

func appendN(t *testing.T, log *EventLog, threadID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if _, err := log.Append(ctx, threadID, newTestEvent("generate", stream.MessageTypeToken)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestAppendAssignsDenseIncreasingIDs(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		ev := newTestEvent("generate", stream.MessageTypeToken)
		id, err := log.Append(ctx, "thread-1", ev)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if id != want {
			t.Errorf("entry ID = %d, want %d", id, want)
		}
		if ev.EntryID != want {
			t.Errorf("event EntryID = %d, want %d", ev.EntryID, want)
		}
	}
}

func TestAppendIsolatesThreads(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	ctx := context.Background()

	idA, _ := log.Append(ctx, "thread-a", newTestEvent("generate", stream.MessageTypeToken))
	idB, _ := log.Append(ctx, "thread-b", newTestEvent("generate", stream.MessageTypeToken))

	if idA != 1 || idB != 1 {
		t.Errorf("per-thread counters must be independent, got a=%d b=%d", idA, idB)
	}
}

func TestConcurrentAppendsAssignUniqueIDs(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	ctx := context.Background()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	ids := make(chan int64, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id, err := log.Append(ctx, "thread-1", newTestEvent("generate", stream.MessageTypeToken))
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("entry ID %d assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != writers*perWriter {
		t.Errorf("got %d unique IDs, want %d", len(seen), writers*perWriter)
	}
}

func TestReadRangeResumesAfterCursor(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	appendN(t, log, "thread-1", 10)

	after := int64(4)
	events, err := log.ReadRange(context.Background(), "thread-1", &after, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}

	if len(events) != 6 {
		t.Fatalf("got %d events, want 6", len(events))
	}
	for i, ev := range events {
		if want := after + int64(i) + 1; ev.EntryID != want {
			t.Errorf("events[%d].EntryID = %d, want %d", i, ev.EntryID, want)
		}
	}
}

func TestReadRangeNilCursorReadsEverything(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	appendN(t, log, "thread-1", 3)

	events, err := log.ReadRange(context.Background(), "thread-1", nil, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}

func TestReadRangeUnknownThreadIsEmpty(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})

	events, err := log.ReadRange(context.Background(), "nope", nil, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestRetentionByCountTrimsOldestAndExpiresCursors(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{MaxEntries: 5})
	appendN(t, log, "thread-1", 12)

	// Only entries 8..12 survive.
	events, err := log.ReadRange(context.Background(), "thread-1", nil, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(events) != 5 || events[0].EntryID != 8 || events[4].EntryID != 12 {
		t.Fatalf("retained range = [%d..%d] len %d, want [8..12] len 5",
			events[0].EntryID, events[len(events)-1].EntryID, len(events))
	}

	// A cursor inside the trimmed range is expired, not truncated.
	stale := int64(3)
	if _, err := log.ReadRange(context.Background(), "thread-1", &stale, 0); !errors.Is(err, domain.ErrCursorExpired) {
		t.Errorf("stale cursor error = %v, want ErrCursorExpired", err)
	}

	// A cursor exactly at the horizon is still valid.
	atHorizon := int64(7)
	if _, err := log.ReadRange(context.Background(), "thread-1", &atHorizon, 0); err != nil {
		t.Errorf("cursor at horizon: %v", err)
	}
}

func TestRetentionByAge(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{MaxAge: time.Hour})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	log.now = func() time.Time { return current }

	appendN(t, log, "thread-1", 3)

	// Two hours later the next append evicts everything older than an hour.
	current = base.Add(2 * time.Hour)
	appendN(t, log, "thread-1", 1)

	events, err := log.ReadRange(context.Background(), "thread-1", nil, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(events) != 1 || events[0].EntryID != 4 {
		t.Fatalf("retained %d events first ID %d, want only entry 4", len(events), events[0].EntryID)
	}
}

func TestSetRetentionOverridesDefaultsAndTrims(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	appendN(t, log, "thread-1", 10)

	err := log.SetRetention(context.Background(), "thread-1", stream.RetentionPolicy{MaxEntries: 2})
	if err != nil {
		t.Fatalf("set retention: %v", err)
	}

	events, _ := log.ReadRange(context.Background(), "thread-1", nil, 0)
	if len(events) != 2 || events[0].EntryID != 9 {
		t.Fatalf("retained %d events, want entries 9 and 10", len(events))
	}
}

func TestTailDeliversBacklogThenLive(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	appendN(t, log, "thread-1", 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tail, err := log.Tail(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		ev := <-tail
		if ev.EntryID != want {
			t.Fatalf("backlog entry = %d, want %d", ev.EntryID, want)
		}
	}

	// Live append wakes the tail.
	go func() {
		_, _ = log.Append(context.Background(), "thread-1", newTestEvent("generate", stream.MessageTypeToken))
	}()

	select {
	case ev := <-tail:
		if ev.EntryID != 4 {
			t.Errorf("live entry = %d, want 4", ev.EntryID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not deliver live append")
	}
}

func TestTailDrainsBacklogLargerThanOnePage(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	appendN(t, log, "thread-1", tailPageSize+44)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tail, err := log.Tail(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}

	// Every pre-existing entry must arrive without any further append
	// waking the tail between pages.
	for want := int64(1); want <= int64(tailPageSize+44); want++ {
		select {
		case ev := <-tail:
			if ev.EntryID != want {
				t.Fatalf("entry = %d, want %d", ev.EntryID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("tail stalled after %d entries", want-1)
		}
	}
}

func TestTailClosesOnCancel(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})

	ctx, cancel := context.WithCancel(context.Background())
	tail, err := log.Tail(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}

	cancel()

	select {
	case _, ok := <-tail:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not close after cancel")
	}
}

func TestTailStartOnTrimmedThreadClampsToHorizon(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{MaxEntries: 2})
	appendN(t, log, "thread-1", 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cursor 0 is far behind the horizon; the tail must start from what is
	// still retained instead of failing.
	tail, err := log.Tail(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}

	ev := <-tail
	if ev.EntryID != 9 {
		t.Errorf("first tailed entry = %d, want 9", ev.EntryID)
	}
}

func TestDeleteThreadResetsCounter(t *testing.T) {
	log := NewEventLog(stream.RetentionPolicy{})
	ctx := context.Background()
	appendN(t, log, "thread-1", 5)

	if err := log.DeleteThread(ctx, "thread-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	id, err := log.Append(ctx, "thread-1", newTestEvent("generate", stream.MessageTypeToken))
	if err != nil {
		t.Fatalf("append after delete: %v", err)
	}
	if id != 1 {
		t.Errorf("entry ID after delete = %d, want 1", id)
	}
}
