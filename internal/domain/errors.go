package domain

import "errors"

// Sentinel errors for the core streaming and conversation contracts.
// Use with errors.Is().
var (
	// ErrNotFound indicates a thread, turn, or other resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid client input.
	ErrValidation = errors.New("validation failed")

	// ErrStoreUnavailable indicates the event log backend is unreachable.
	// Transient and non-fatal: the workflow proceeds without streaming.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrCursorExpired indicates a resumption cursor points before the
	// retention horizon. The caller must fall back to full history
	// reconciliation instead of a partial replay.
	ErrCursorExpired = errors.New("cursor expired")

	// ErrAppendConflict indicates two appenders were assigned the same
	// entry ID for one thread. The log's atomicity invariant makes this
	// impossible under normal operation; treat as a bug if observed.
	ErrAppendConflict = errors.New("append conflict")
)
