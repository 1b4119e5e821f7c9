// Package llm routes generation requests to model providers.
package llm

import "context"

// Message is one conversation message in provider-neutral form.
type Message struct {
	Role    string
	Content string
}

// Request describes a single streaming generation call.
type Request struct {
	Model     string
	Messages  []Message
	System    string
	MaxTokens int
}

// StreamMetadata carries final usage information once a stream completes.
type StreamMetadata struct {
	Model        string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// StreamEvent is one item on a provider stream. Exactly one field is set:
// Text for an incremental delta, Metadata once at the end of a successful
// stream, or Err when the stream fails. The channel is closed after the
// terminal event.
type StreamEvent struct {
	Text     string
	Metadata *StreamMetadata
	Err      error
}

// Provider generates streaming responses for the models it supports.
type Provider interface {
	// Name returns the provider name for logging and routing.
	Name() string

	// SupportsModel reports whether this provider serves the given model.
	SupportsModel(model string) bool

	// Stream starts a streaming generation. The returned channel emits
	// deltas and is closed after a terminal Metadata or Err event.
	Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}
