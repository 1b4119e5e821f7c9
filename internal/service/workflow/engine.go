// Package workflow runs the answer-generation pipeline for a thread.
//
// A run executes two nodes in sequence: query_or_respond assembles the
// conversation history, generate streams the model response. Every node
// publishes progress events; the terminal complete/error event is published
// even when the caller's context is already cancelled, so subscribers always
// observe an ending.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zzxtbeta/rag-demo/internal/config"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/chat"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
	"github.com/zzxtbeta/rag-demo/internal/service/llm"
	"github.com/zzxtbeta/rag-demo/internal/service/publisher"
)

// Node names as they appear in published events.
const (
	NodeQueryOrRespond = "query_or_respond"
	NodeGenerate       = "generate"
)

const systemPrompt = "You are a helpful assistant. Answer using the conversation so far; say so when you do not know."

// Engine orchestrates one workflow run per user message.
type Engine struct {
	turns     repositories.TurnStore
	pub       *publisher.Publisher
	providers *llm.Registry
	cfg       *config.Config
	logger    *slog.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(turns repositories.TurnStore, pub *publisher.Publisher, providers *llm.Registry, cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		turns:     turns,
		pub:       pub,
		providers: providers,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes the workflow for one user message. The user turn must already
// be persisted; Run reads it back as part of the history. The assistant turn
// is written before the terminal event so subscribers that reconnect after
// "complete" always find it.
func (e *Engine) Run(ctx context.Context, threadID, model string) (err error) {
	if model == "" {
		model = e.cfg.DefaultModel
	}

	started := time.Now()
	nodeTimes := make(map[string]float64, 2)

	// Terminal events outlive request cancellation.
	terminalCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
			e.logger.Error("workflow panicked", "thread_id", threadID, "panic", r)
			e.pub.WorkflowError(terminalCtx, threadID, fmt.Sprintf("%v", r), "internal_error")
		}
	}()

	history, err := e.queryOrRespond(ctx, threadID, nodeTimes)
	if err != nil {
		e.pub.WorkflowError(terminalCtx, threadID, err.Error(), "history_error")
		return err
	}

	content, err := e.generate(ctx, threadID, model, history, nodeTimes)
	if err != nil {
		e.pub.WorkflowError(terminalCtx, threadID, err.Error(), "provider_error")
		return err
	}

	turn := &chat.Turn{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      chat.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.turns.AppendTurn(terminalCtx, turn); err != nil {
		e.pub.WorkflowError(terminalCtx, threadID, err.Error(), "store_error")
		return fmt.Errorf("failed to persist assistant turn: %w", err)
	}

	totalMS := float64(time.Since(started)) / float64(time.Millisecond)
	e.pub.WorkflowComplete(terminalCtx, threadID, nodeTimes, totalMS)

	e.logger.Info("workflow completed",
		"thread_id", threadID,
		"model", model,
		"turn_id", turn.ID,
		"total_ms", totalMS,
	)
	return nil
}

// queryOrRespond loads the transcript and shapes it into provider messages.
func (e *Engine) queryOrRespond(ctx context.Context, threadID string, nodeTimes map[string]float64) ([]llm.Message, error) {
	nodeStart := time.Now()
	e.pub.NodeStart(ctx, threadID, NodeQueryOrRespond, map[string]interface{}{
		"thread_id": threadID,
	})

	turns, err := e.turns.ListTurns(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{
			Role:    string(t.Role),
			Content: t.Content,
		})
	}

	elapsed := float64(time.Since(nodeStart)) / float64(time.Millisecond)
	nodeTimes[NodeQueryOrRespond] = elapsed
	e.pub.NodeOutput(ctx, threadID, NodeQueryOrRespond, map[string]interface{}{
		"message_count": len(messages),
	}, elapsed)

	return messages, nil
}

// generate streams the model response, publishing one token event per delta.
func (e *Engine) generate(ctx context.Context, threadID, model string, history []llm.Message, nodeTimes map[string]float64) (string, error) {
	nodeStart := time.Now()
	e.pub.NodeStart(ctx, threadID, NodeGenerate, map[string]interface{}{
		"model": model,
	})

	provider, err := e.providers.ProviderFor(model)
	if err != nil {
		return "", err
	}

	events, err := provider.Stream(ctx, &llm.Request{
		Model:    model,
		Messages: history,
		System:   systemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start generation: %w", err)
	}

	var sb strings.Builder
	var meta *llm.StreamMetadata
	for ev := range events {
		switch {
		case ev.Err != nil:
			return "", ev.Err
		case ev.Metadata != nil:
			meta = ev.Metadata
		case ev.Text != "":
			sb.WriteString(ev.Text)
			e.pub.Token(ctx, threadID, NodeGenerate, ev.Text)
		}
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", fmt.Errorf("provider returned an empty response")
	}

	elapsed := float64(time.Since(nodeStart)) / float64(time.Millisecond)
	nodeTimes[NodeGenerate] = elapsed

	output := map[string]interface{}{
		"provider": provider.Name(),
		"model":    model,
	}
	if meta != nil {
		output["input_tokens"] = meta.InputTokens
		output["output_tokens"] = meta.OutputTokens
		output["stop_reason"] = meta.StopReason
	}
	e.pub.NodeOutput(ctx, threadID, NodeGenerate, output, elapsed)

	return content, nil
}
