// Package gateway multiplexes the per-thread event log to any number of
// concurrent subscriber connections. Each subscription replays the backlog
// from its resumption cursor, then tails new entries live; subscriptions are
// fully independent and one disconnect never affects another.
package gateway

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
)

// backlogPageSize bounds one ReadRange call during replay.
const backlogPageSize = 256

// deliveryBuffer decouples a briefly slow subscriber from the replay loop.
const deliveryBuffer = 32

// State is a subscription's lifecycle phase. Transitions run strictly
// Connecting → ReplayingBacklog → Live → Closed; a reconnect is a new
// subscription, never a resurrected one.
type State int32

const (
	StateConnecting State = iota
	StateReplayingBacklog
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReplayingBacklog:
		return "replaying_backlog"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Delivery is one event handed to a subscriber, tagged with whether it came
// from the backlog replay or the live tail.
type Delivery struct {
	Event     stream.Event
	IsHistory bool
}

// Gateway fans the event log out to subscribers.
type Gateway struct {
	log    repositories.EventLog
	logger *slog.Logger
}

// New creates a gateway over the given event log.
func New(log repositories.EventLog, logger *slog.Logger) *Gateway {
	return &Gateway{log: log, logger: logger}
}

// Subscription is one live connection's view of a thread. It owns a cursor
// and a delivery channel and nothing durable: closing it discards all state.
type Subscription struct {
	ID       string
	ThreadID string

	ch     chan Delivery
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the delivery channel. It is closed when the subscription
// ends, whatever the reason.
func (s *Subscription) Events() <-chan Delivery {
	return s.ch
}

// State returns the current lifecycle phase.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Close tears the subscription down and releases its tail. Safe to call more
// than once; has no effect on other subscribers or the log.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) setState(state State) {
	s.state.Store(int32(state))
}

// Subscribe opens a subscription for threadID. A nil cursor replays
// everything still retained; a non-nil cursor resumes after that entry ID.
// Returns domain.ErrCursorExpired (from the first backlog read) when the
// cursor is behind the retention horizon, in which case the caller must
// direct the client to full history reconciliation instead.
func (g *Gateway) Subscribe(ctx context.Context, threadID string, cursor *int64) (*Subscription, error) {
	sub := &Subscription{
		ID:       uuid.New().String(),
		ThreadID: threadID,
		ch:       make(chan Delivery, deliveryBuffer),
		done:     make(chan struct{}),
	}
	sub.setState(StateConnecting)

	// Validate the cursor before handing out a subscription: an expired
	// cursor must surface as an error, never as silently truncated replay.
	firstPage, err := g.log.ReadRange(ctx, threadID, cursor, backlogPageSize)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel

	go g.run(runCtx, sub, cursor, firstPage)

	g.logger.Debug("subscriber connected",
		"subscriber_id", sub.ID,
		"thread_id", threadID,
		"cursor", cursorValue(cursor),
		"backlog_first_page", len(firstPage),
	)

	return sub, nil
}

// run drives one subscription through backlog replay and the live tail.
func (g *Gateway) run(ctx context.Context, sub *Subscription, cursor *int64, firstPage []stream.Event) {
	defer close(sub.done)
	defer close(sub.ch)
	defer sub.setState(StateClosed)
	defer sub.cancel()

	sub.setState(StateReplayingBacklog)

	last := cursorValue(cursor)
	page := firstPage
	for {
		for _, ev := range page {
			if !g.deliver(ctx, sub, Delivery{Event: ev, IsHistory: true}) {
				return
			}
			last = ev.EntryID
		}
		if len(page) < backlogPageSize {
			break
		}

		var err error
		page, err = g.log.ReadRange(ctx, sub.ThreadID, &last, backlogPageSize)
		if err != nil {
			if ctx.Err() == nil {
				g.logger.Warn("backlog replay failed, closing subscriber",
					"subscriber_id", sub.ID,
					"thread_id", sub.ThreadID,
					"error", err,
				)
			}
			return
		}
	}

	sub.setState(StateLive)

	// The tail re-reads from the cursor, so entries appended between the
	// last backlog page and this call are not lost.
	tail, err := g.log.Tail(ctx, sub.ThreadID, last)
	if err != nil {
		if ctx.Err() == nil {
			g.logger.Warn("tail attach failed, closing subscriber",
				"subscriber_id", sub.ID,
				"thread_id", sub.ThreadID,
				"error", err,
			)
		}
		return
	}

	for ev := range tail {
		if ev.EntryID <= last {
			continue
		}
		if !g.deliver(ctx, sub, Delivery{Event: ev, IsHistory: false}) {
			return
		}
		last = ev.EntryID
	}
}

func (g *Gateway) deliver(ctx context.Context, sub *Subscription, d Delivery) bool {
	select {
	case sub.ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func cursorValue(cursor *int64) int64 {
	if cursor == nil {
		return 0
	}
	return *cursor
}
