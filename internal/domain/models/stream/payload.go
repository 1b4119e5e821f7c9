package stream

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed form of an event's data field. Producers build one of
// the concrete variants below; the log stores only the encoded JSON. Consumers
// that don't recognize a message type fall back to RawPayload, which keeps old
// readers forward-compatible with new event kinds.
type Payload interface {
	isPayload()
}

// StartPayload accompanies a "start" event: the inputs the node was given.
type StartPayload struct {
	Input map[string]interface{} `json:"input,omitempty"`
}

// TokenPayload carries a single generated token fragment. Fragments are never
// coalesced by the publisher; consumers concatenate them in entry-ID order.
type TokenPayload struct {
	Text string `json:"text"`
}

// OutputPayload accompanies an "output" event: the node's result plus its
// execution time.
type OutputPayload struct {
	Data            map[string]interface{} `json:"data,omitempty"`
	ExecutionTimeMS *float64               `json:"execution_time_ms,omitempty"`
}

// ErrorPayload describes a failed workflow. ErrorType distinguishes timeouts,
// cancellations, and execution errors for the client.
type ErrorPayload struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}

// CompletePayload summarizes a finished workflow with per-node timings.
type CompletePayload struct {
	NodeTimesMS map[string]float64 `json:"node_times_ms,omitempty"`
	TotalMS     float64            `json:"total_ms"`
}

// RawPayload is the opaque-bytes escape hatch for unknown message types.
type RawPayload json.RawMessage

func (StartPayload) isPayload()    {}
func (TokenPayload) isPayload()    {}
func (OutputPayload) isPayload()   {}
func (ErrorPayload) isPayload()    {}
func (CompletePayload) isPayload() {}
func (RawPayload) isPayload()      {}

// EncodePayload serializes a typed payload to its wire/store form.
// A nil payload encodes as nil (events may legitimately carry no data).
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	if raw, ok := p.(RawPayload); ok {
		return json.RawMessage(raw), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload recovers the typed payload for a message type. Unknown types
// and malformed data decode to RawPayload rather than failing: the timeline is
// display metadata and a bad payload must never break a consumer.
func DecodePayload(t MessageType, raw json.RawMessage) Payload {
	if len(raw) == 0 {
		return nil
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case MessageTypeStart:
		var v StartPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeToken:
		var v TokenPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeOutput:
		var v OutputPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeError:
		var v ErrorPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeComplete:
		var v CompletePayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return RawPayload(raw)
	}

	if err != nil {
		return RawPayload(raw)
	}
	return p
}
