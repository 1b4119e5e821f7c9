// Package eventlog implements the durable workflow event log on PostgreSQL.
//
// Each thread owns a dense entry-ID sequence kept on its row in the threads
// table. Appends bump the counter under the row lock, so ID assignment is
// atomic without application-level locking; retention trimming rides the same
// transaction. Tails are woken by LISTEN/NOTIFY and re-read from their cursor,
// which keeps delivery ordered and duplicate-free even across wakeup races.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zzxtbeta/rag-demo/internal/domain"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
	"github.com/zzxtbeta/rag-demo/internal/repository/postgres"
)

// tailPageSize bounds how many entries one tail wakeup reads at a time.
const tailPageSize = 256

// Log is the PostgreSQL-backed EventLog.
type Log struct {
	pool     *pgxpool.Pool
	tables   *postgres.TableNames
	defaults stream.RetentionPolicy
	notifier *Notifier
	logger   *slog.Logger
}

// New creates a Postgres event log. The notifier must be running (see
// Notifier.Run) for Tail to observe appends from other connections.
func New(config *postgres.RepositoryConfig, defaults stream.RetentionPolicy, notifier *Notifier) repositories.EventLog {
	return &Log{
		pool:     config.Pool,
		tables:   config.Tables,
		defaults: defaults,
		notifier: notifier,
		logger:   config.Logger,
	}
}

// Append assigns the next entry ID for the thread, inserts the event, and
// enforces retention, all in one transaction. The NOTIFY fires on commit, so
// tails never observe an ID before the row is durable.
func (l *Log) Append(ctx context.Context, threadID string, ev *stream.Event) (int64, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var entryID int64
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		ensure := fmt.Sprintf(`
			INSERT INTO %s (thread_id) VALUES ($1)
			ON CONFLICT (thread_id) DO NOTHING
		`, l.tables.Threads)
		if _, err := tx.Exec(ctx, ensure, threadID); err != nil {
			return fmt.Errorf("ensure thread: %w", err)
		}

		// Row lock on the thread serializes concurrent appenders.
		bump := fmt.Sprintf(`
			UPDATE %s
			SET last_entry_id = last_entry_id + 1
			WHERE thread_id = $1
			RETURNING last_entry_id, trim_horizon, max_entries, max_age_seconds
		`, l.tables.Threads)

		var (
			horizon       int64
			maxEntries    *int
			maxAgeSeconds *int64
		)
		if err := tx.QueryRow(ctx, bump, threadID).Scan(&entryID, &horizon, &maxEntries, &maxAgeSeconds); err != nil {
			return fmt.Errorf("assign entry id: %w", err)
		}

		insert := fmt.Sprintf(`
			INSERT INTO %s (thread_id, entry_id, node_name, message_type, status, ts, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, l.tables.Events)
		if _, err := tx.Exec(ctx, insert,
			threadID, entryID, ev.NodeName, string(ev.MessageType), ev.Status, ev.Timestamp, ev.Payload,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		policy := l.policyFor(maxEntries, maxAgeSeconds)
		if err := l.trim(ctx, tx, threadID, horizon, policy); err != nil {
			return fmt.Errorf("trim: %w", err)
		}

		// Delivered to listeners on commit.
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, l.tables.NotifyChannel(), threadID); err != nil {
			return fmt.Errorf("notify: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, classifyAppendError(err)
	}

	ev.EntryID = entryID
	ev.ThreadID = threadID
	return entryID, nil
}

// policyFor resolves the effective retention policy from per-thread overrides
// and environment defaults.
func (l *Log) policyFor(maxEntries *int, maxAgeSeconds *int64) stream.RetentionPolicy {
	policy := l.defaults
	if maxEntries != nil {
		policy.MaxEntries = *maxEntries
	}
	if maxAgeSeconds != nil {
		policy.MaxAge = time.Duration(*maxAgeSeconds) * time.Second
	}
	return policy
}

// trim evicts entries past the retention window and advances the thread's
// horizon. The horizon only moves forward: an entry newer than the window
// boundary is never removed.
func (l *Log) trim(ctx context.Context, tx pgx.Tx, threadID string, horizon int64, policy stream.RetentionPolicy) error {
	if !policy.Bounded() {
		return nil
	}

	cutoff := horizon

	if policy.MaxEntries > 0 {
		// Highest entry ID falling outside the newest MaxEntries.
		query := fmt.Sprintf(`
			SELECT COALESCE((
				SELECT entry_id FROM %s
				WHERE thread_id = $1
				ORDER BY entry_id DESC
				OFFSET $2 LIMIT 1
			), 0)
		`, l.tables.Events)
		var countCutoff int64
		if err := tx.QueryRow(ctx, query, threadID, policy.MaxEntries).Scan(&countCutoff); err != nil {
			return err
		}
		if countCutoff > cutoff {
			cutoff = countCutoff
		}
	}

	if policy.MaxAge > 0 {
		query := fmt.Sprintf(`
			SELECT COALESCE(MAX(entry_id), 0) FROM %s
			WHERE thread_id = $1 AND ts < $2
		`, l.tables.Events)
		var ageCutoff int64
		boundary := time.Now().UTC().Add(-policy.MaxAge)
		if err := tx.QueryRow(ctx, query, threadID, boundary).Scan(&ageCutoff); err != nil {
			return err
		}
		if ageCutoff > cutoff {
			cutoff = ageCutoff
		}
	}

	if cutoff <= horizon {
		return nil
	}

	del := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1 AND entry_id <= $2`, l.tables.Events)
	if _, err := tx.Exec(ctx, del, threadID, cutoff); err != nil {
		return err
	}

	advance := fmt.Sprintf(`
		UPDATE %s SET trim_horizon = $2
		WHERE thread_id = $1 AND trim_horizon < $2
	`, l.tables.Threads)
	if _, err := tx.Exec(ctx, advance, threadID, cutoff); err != nil {
		return err
	}

	return nil
}

// readHorizon returns the thread's trim horizon, zero when the thread has
// never seen an append.
func (l *Log) readHorizon(ctx context.Context, threadID string) (int64, error) {
	query := fmt.Sprintf(`SELECT trim_horizon FROM %s WHERE thread_id = $1`, l.tables.Threads)

	var horizon int64
	executor := postgres.GetExecutor(ctx, l.pool)
	if err := executor.QueryRow(ctx, query, threadID).Scan(&horizon); err != nil {
		if postgres.IsPgNoRowsError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read horizon: %w", wrapUnavailable(err))
	}
	return horizon, nil
}

// ReadRange returns retained entries after the cursor in ascending entry-ID
// order. A cursor behind the retention horizon fails with ErrCursorExpired
// rather than silently returning a truncated range.
func (l *Log) ReadRange(ctx context.Context, threadID string, after *int64, limit int) ([]stream.Event, error) {
	horizon, err := l.readHorizon(ctx, threadID)
	if err != nil {
		return nil, err
	}

	from := horizon
	if after != nil {
		if *after < horizon {
			return nil, fmt.Errorf("cursor %d behind horizon %d: %w", *after, horizon, domain.ErrCursorExpired)
		}
		from = *after
	}

	if limit <= 0 {
		limit = math.MaxInt32
	}

	query := fmt.Sprintf(`
		SELECT entry_id, thread_id, node_name, message_type, status, ts, payload
		FROM %s
		WHERE thread_id = $1 AND entry_id > $2
		ORDER BY entry_id ASC
		LIMIT $3
	`, l.tables.Events)

	executor := postgres.GetExecutor(ctx, l.pool)
	rows, err := executor.Query(ctx, query, threadID, from, limit)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", wrapUnavailable(err))
	}
	defer rows.Close()

	events := make([]stream.Event, 0, 64)
	for rows.Next() {
		var ev stream.Event
		var msgType string
		if err := rows.Scan(&ev.EntryID, &ev.ThreadID, &ev.NodeName, &msgType, &ev.Status, &ev.Timestamp, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.MessageType = stream.MessageType(msgType)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read range: %w", wrapUnavailable(err))
	}

	return events, nil
}

// Tail streams entries after the cursor as they are appended. Each notifier
// wakeup re-reads from the last delivered ID, so ordering and no-duplicate
// delivery hold regardless of how notifications coalesce.
func (l *Log) Tail(ctx context.Context, threadID string, after int64) (<-chan stream.Event, error) {
	wake, unsubscribe := l.notifier.Subscribe(threadID)

	out := make(chan stream.Event)
	go func() {
		defer close(out)
		defer unsubscribe()

		// Bootstrap at the retention horizon: a tail opened on a fully
		// trimmed thread starts from whatever the log still guarantees.
		cursor := after
		if horizon, err := l.readHorizon(ctx, threadID); err == nil && horizon > cursor {
			cursor = horizon
		}

		for {
			events, err := l.ReadRange(ctx, threadID, &cursor, tailPageSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, domain.ErrCursorExpired) {
					// Retention overtook a slow consumer. End the stream so
					// the client reconnects through full reconciliation.
					l.logger.Warn("event tail fell behind retention, closing",
						"thread_id", threadID,
						"cursor", cursor,
					)
					return
				}
				l.logger.Warn("event tail read failed, retrying",
					"thread_id", threadID,
					"cursor", cursor,
					"error", err,
				)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
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

// SetRetention stores a per-thread retention override. Enforcement happens on
// the next append to the thread.
func (l *Log) SetRetention(ctx context.Context, threadID string, policy stream.RetentionPolicy) error {
	var maxEntries *int
	if policy.MaxEntries > 0 {
		maxEntries = &policy.MaxEntries
	}
	var maxAgeSeconds *int64
	if policy.MaxAge > 0 {
		secs := int64(policy.MaxAge / time.Second)
		maxAgeSeconds = &secs
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, max_entries, max_age_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id) DO UPDATE
		SET max_entries = EXCLUDED.max_entries,
		    max_age_seconds = EXCLUDED.max_age_seconds
	`, l.tables.Threads)

	executor := postgres.GetExecutor(ctx, l.pool)
	if _, err := executor.Exec(ctx, query, threadID, maxEntries, maxAgeSeconds); err != nil {
		return fmt.Errorf("set retention: %w", wrapUnavailable(err))
	}
	return nil
}

// DeleteThread removes the thread's counter row; events cascade.
func (l *Log) DeleteThread(ctx context.Context, threadID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, l.tables.Threads)
	executor := postgres.GetExecutor(ctx, l.pool)
	if _, err := executor.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", wrapUnavailable(err))
	}
	return nil
}

// classifyAppendError separates the bug-class duplicate-ID case from
// transient store failures.
func classifyAppendError(err error) error {
	if postgres.IsPgDuplicateError(err) {
		return fmt.Errorf("duplicate entry id: %w", domain.ErrAppendConflict)
	}
	if postgres.IsPgConstraintError(err) {
		return err
	}
	return wrapUnavailable(err)
}

// wrapUnavailable tags backend failures with the transient sentinel so
// callers can distinguish "store down" from logic errors.
func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
