// Package llm abstracts the completion providers that turn a message history
// plus an optional tool catalog into text and tool calls.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no usable provider profile exists.
var ErrNotConfigured = errors.New("completion provider is not configured")

// Message is one entry of the conversation sent to a provider.
type Message struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the provider.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request contains the parameters of one completion call. A nil Tools slice
// means tools may not be invoked; providers must omit the catalog entirely.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []map[string]any
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Completion is a provider's response: text, zero or more tool calls, or both.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage
}

// Provider is the completion capability the orchestration engine consumes.
type Provider interface {
	// Complete performs one completion call.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Name returns the provider name.
	Name() string
}

// Profile holds the credentials and defaults for one provider.
type Profile struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // "anthropic" or "openai"
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// NewProvider creates a Provider from a profile.
func NewProvider(profile Profile) (Provider, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrNotConfigured)
	}

	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrNotConfigured, profile.Provider)
	}
}
