// Package anthropic implements the provider interface for Claude models.
package anthropic

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Provider serves "claude-*" models through the Anthropic Messages API.
type Provider struct {
	client *anthropic.Client
}

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Provider{
		client: &client,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-".
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}
