package stream

import (
	"encoding/json"
	"time"
)

// MessageType classifies a workflow event.
type MessageType string

const (
	MessageTypeStart    MessageType = "start"    // Node began executing
	MessageTypeToken    MessageType = "token"    // One generated token fragment
	MessageTypeOutput   MessageType = "output"   // Node produced its output
	MessageTypeError    MessageType = "error"    // Workflow failed
	MessageTypeComplete MessageType = "complete" // Workflow finished successfully
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeStart, MessageTypeToken, MessageTypeOutput, MessageTypeError, MessageTypeComplete:
		return true
	}
	return false
}

// Event status values, matching what the workflow engine reports at each step.
const (
	StatusStarting  = "starting"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// NodeWorkflow is the synthetic node name used for terminal complete/error
// events that describe the whole execution rather than a single node.
const NodeWorkflow = "workflow"

// Event is one record of a workflow execution step.
//
// EntryID is assigned by the event log on append and is strictly increasing
// within a thread; it doubles as the resumption cursor. Events are immutable
// once appended and die only by retention eviction or thread deletion.
//
// Payload is the opaque wire/store form; DecodePayload recovers the typed
// variant for the event's message type.
type Event struct {
	EntryID     int64           `json:"entry_id"`
	ThreadID    string          `json:"thread_id"`
	NodeName    string          `json:"node_name"`
	MessageType MessageType     `json:"message_type"`
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"data,omitempty"`
}

// RetentionPolicy bounds how much event history a thread keeps.
// Zero values mean "no limit" for that dimension.
type RetentionPolicy struct {
	MaxEntries int           // newest entries kept per thread
	MaxAge     time.Duration // entries older than this are evicted
}

// Bounded reports whether the policy limits retention at all.
func (p RetentionPolicy) Bounded() bool {
	return p.MaxEntries > 0 || p.MaxAge > 0
}
