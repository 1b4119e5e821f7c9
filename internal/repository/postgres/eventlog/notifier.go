package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zzxtbeta/rag-demo/internal/repository/postgres"
)

// Notifier holds one dedicated LISTEN connection and fans wakeups out to the
// tails subscribed per thread. Wakeup channels carry no data — a woken tail
// re-reads from its own cursor — so dropped or coalesced notifications cost
// latency, never correctness.
type Notifier struct {
	pool    *pgxpool.Pool
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan struct{}
}

// NewNotifier creates a notifier for the configured notify channel.
func NewNotifier(config *postgres.RepositoryConfig) *Notifier {
	return &Notifier{
		pool:    config.Pool,
		channel: config.Tables.NotifyChannel(),
		logger:  config.Logger,
		subs:    make(map[string]map[int]chan struct{}),
	}
}

// Run listens for notifications until ctx is cancelled, reacquiring the
// connection with backoff after failures. Blocking; run it in its own
// goroutine (or errgroup).
func (n *Notifier) Run(ctx context.Context) error {
	for {
		if err := n.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n.logger.Warn("notify listener lost, reconnecting",
				"channel", n.channel,
				"error", err,
			)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (n *Notifier) listen(ctx context.Context) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgxIdentifier(n.channel)); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		n.wake(notification.Payload)
	}
}

// Subscribe registers a wakeup channel for a thread. The returned cancel
// function must be called when the tail ends.
func (n *Notifier) Subscribe(threadID string) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	ch := make(chan struct{}, 1)
	if n.subs[threadID] == nil {
		n.subs[threadID] = make(map[int]chan struct{})
	}
	n.subs[threadID][id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.subs[threadID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(n.subs, threadID)
			}
		}
	}
	return ch, cancel
}

// wake signals every subscriber of the thread. Sends are non-blocking: the
// single-slot buffer already marks "something new since you last looked".
func (n *Notifier) wake(threadID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[threadID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// pgxIdentifier quotes the channel name for LISTEN, which takes an
// identifier rather than a bind parameter.
func pgxIdentifier(name string) string {
	quoted := `"`
	for _, r := range name {
		if r == '"' {
			quoted += `""`
		} else {
			quoted += string(r)
		}
	}
	return quoted + `"`
}
