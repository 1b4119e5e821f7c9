package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/zzxtbeta/rag-demo/internal/service/llm"
)

// Stream generates a streaming response from Claude.
// Returns a channel that emits deltas as they arrive from the API.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by Anthropic provider", req.Model)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	apiParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	if req.System != "" {
		apiParams.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}

	eventChan := make(chan llm.StreamEvent, 10) // Buffered to prevent blocking

	go func() {
		defer close(eventChan)

		stream := p.client.Messages.NewStreaming(ctx, apiParams)

		// Accumulator for final message metadata
		message := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()

			if err := message.Accumulate(event); err != nil {
				eventChan <- llm.StreamEvent{
					Err: fmt.Errorf("failed to accumulate message: %w", err),
				}
				return
			}

			text := extractTextDelta(event)
			if text == "" {
				continue
			}

			select {
			case <-ctx.Done():
				eventChan <- llm.StreamEvent{Err: ctx.Err()}
				return
			case eventChan <- llm.StreamEvent{Text: text}:
			}
		}

		if err := stream.Err(); err != nil {
			eventChan <- llm.StreamEvent{
				Err: fmt.Errorf("anthropic streaming error: %w", err),
			}
			return
		}

		eventChan <- llm.StreamEvent{
			Metadata: &llm.StreamMetadata{
				Model:        string(message.Model),
				InputTokens:  int(message.Usage.InputTokens),
				OutputTokens: int(message.Usage.OutputTokens),
				StopReason:   string(message.StopReason),
			},
		}
	}()

	return eventChan, nil
}

// extractTextDelta pulls the incremental text out of a streaming event.
// Non-text events (message lifecycle, tool JSON deltas) yield "".
func extractTextDelta(event anthropic.MessageStreamEventUnion) string {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		if e.Delta.Type == "text_delta" {
			return e.Delta.Text
		}
	}
	return ""
}
