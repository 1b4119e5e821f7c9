// Package publisher converts workflow execution steps into event log entries.
//
// The publisher sits between the workflow engine and the event log and must
// never slow the workflow down: every append runs under a bounded timeout,
// and any failure is logged and swallowed. A thread whose events cannot be
// streamed still completes and still gets its turn written.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
)

// Publisher appends workflow events to the event log.
type Publisher struct {
	log     repositories.EventLog
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a publisher. timeout bounds how long one publish may block the
// calling workflow.
func New(log repositories.EventLog, timeout time.Duration, logger *slog.Logger) *Publisher {
	return &Publisher{
		log:     log,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish appends one event. Failures are logged, never returned: streaming
// is best-effort and must not fail the workflow.
func (p *Publisher) Publish(ctx context.Context, threadID, nodeName string, messageType stream.MessageType, status string, payload stream.Payload) {
	raw, err := stream.EncodePayload(payload)
	if err != nil {
		p.logger.Error("event payload encode failed",
			"thread_id", threadID,
			"node_name", nodeName,
			"message_type", messageType,
			"error", err,
		)
		return
	}

	ev := &stream.Event{
		ThreadID:    threadID,
		NodeName:    nodeName,
		MessageType: messageType,
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Payload:     raw,
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.log.Append(publishCtx, threadID, ev); err != nil {
		p.logger.Warn("event publish failed, continuing without streaming",
			"thread_id", threadID,
			"node_name", nodeName,
			"message_type", messageType,
			"error", err,
		)
		return
	}

	p.logger.Debug("event published",
		"thread_id", threadID,
		"node_name", nodeName,
		"message_type", messageType,
		"entry_id", ev.EntryID,
	)
}

// NodeStart announces that a node began executing with the given inputs.
func (p *Publisher) NodeStart(ctx context.Context, threadID, nodeName string, input map[string]interface{}) {
	p.Publish(ctx, threadID, nodeName, stream.MessageTypeStart, stream.StatusStarting, stream.StartPayload{Input: input})
}

// NodeOutput publishes a node's result with its execution time.
func (p *Publisher) NodeOutput(ctx context.Context, threadID, nodeName string, data map[string]interface{}, executionTimeMS float64) {
	p.Publish(ctx, threadID, nodeName, stream.MessageTypeOutput, stream.StatusRunning, stream.OutputPayload{
		Data:            data,
		ExecutionTimeMS: &executionTimeMS,
	})
}

// Token publishes one generated token fragment. Fragments for a node are
// emitted in generation order and never coalesced; consumers concatenate.
func (p *Publisher) Token(ctx context.Context, threadID, nodeName, text string) {
	p.Publish(ctx, threadID, nodeName, stream.MessageTypeToken, stream.StatusRunning, stream.TokenPayload{Text: text})
}

// WorkflowComplete publishes the terminal success event with per-node timings.
func (p *Publisher) WorkflowComplete(ctx context.Context, threadID string, nodeTimesMS map[string]float64, totalMS float64) {
	p.Publish(ctx, threadID, stream.NodeWorkflow, stream.MessageTypeComplete, stream.StatusCompleted, stream.CompletePayload{
		NodeTimesMS: nodeTimesMS,
		TotalMS:     totalMS,
	})
}

// WorkflowError publishes the terminal failure event.
func (p *Publisher) WorkflowError(ctx context.Context, threadID, errMsg, errorType string) {
	p.Publish(ctx, threadID, stream.NodeWorkflow, stream.MessageTypeError, stream.StatusFailed, stream.ErrorPayload{
		Error:     errMsg,
		ErrorType: errorType,
	})
}
