// Package lorem is a mock provider that generates lorem ipsum text.
// Used for development and testing without requiring real API keys.
package lorem

import (
	"context"
	"fmt"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"github.com/zzxtbeta/rag-demo/internal/service/llm"
)

// Provider serves "lorem-*" models with generated placeholder text.
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{
		generator: loremgen.New(),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-slow", "lorem-test"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// getStreamDelay returns the delay between words based on the model name.
// - lorem-slow: 2 words/second
// - lorem-fast: 30 words/second
// - lorem-test: no delay, for tests
// - default: 10 words/second
func getStreamDelay(model string) time.Duration {
	if strings.Contains(model, "slow") {
		return 500 * time.Millisecond
	}
	if strings.Contains(model, "fast") {
		return 33 * time.Millisecond
	}
	if strings.Contains(model, "test") {
		return 0
	}
	return 100 * time.Millisecond
}

// Stream generates a streaming lorem ipsum response, one word per delta.
// Speed varies based on model name (lorem-slow, lorem-fast, lorem-test).
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by lorem provider", req.Model)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 48
	}

	eventChan := make(chan llm.StreamEvent, 10)

	go func() {
		defer close(eventChan)

		text := p.generateTextWords(maxTokens)
		words := strings.Fields(text)
		delay := getStreamDelay(req.Model)

		sent := 0
		for _, word := range words {
			select {
			case <-ctx.Done():
				eventChan <- llm.StreamEvent{Err: ctx.Err()}
				return
			default:
			}

			if sent >= maxTokens {
				break
			}

			select {
			case <-ctx.Done():
				eventChan <- llm.StreamEvent{Err: ctx.Err()}
				return
			case eventChan <- llm.StreamEvent{Text: word + " "}:
			}

			if delay > 0 {
				time.Sleep(delay)
			}
			sent++
		}

		eventChan <- llm.StreamEvent{
			Metadata: &llm.StreamMetadata{
				Model:        req.Model,
				InputTokens:  p.estimateTokens(req.Messages),
				OutputTokens: sent,
				StopReason:   "end_turn",
			},
		}
	}()

	return eventChan, nil
}

// generateTextWords generates lorem ipsum text with approximately targetWords words.
func (p *Provider) generateTextWords(targetWords int) string {
	var sb strings.Builder
	wordCount := 0

	for wordCount < targetWords {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")

		wordCount += len(strings.Fields(sentence))
	}

	return strings.TrimSpace(sb.String())
}

// estimateTokens estimates the token count for a list of messages.
// Uses word count as a rough approximation.
func (p *Provider) estimateTokens(messages []llm.Message) int {
	totalWords := 0
	for _, msg := range messages {
		totalWords += len(strings.Fields(msg.Content))
	}
	return totalWords
}
