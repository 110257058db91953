package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wpscholar/wp-mcp/pkg/llm"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		shouldErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero max messages", func(cfg *Config) { cfg.History.MaxMessages = 0 }, true},
		{"negative content cap", func(cfg *Config) { cfg.History.ContentCap = -1 }, true},
		{"zero retention", func(cfg *Config) { cfg.History.RetentionDays = 0 }, true},
		{"zero context window", func(cfg *Config) { cfg.Chat.ContextWindow = 0 }, true},
		{"temperature too high", func(cfg *Config) { cfg.Chat.Temperature = 1.5 }, true},
		{"negative max tokens", func(cfg *Config) { cfg.Chat.MaxTokens = -1 }, true},
		{"zero rate limit", func(cfg *Config) { cfg.RateLimit.MaxRequests = 0 }, true},
		{"zero rate window", func(cfg *Config) { cfg.RateLimit.WindowSeconds = 0 }, true},
		{"valid anthropic profile", func(cfg *Config) {
			cfg.Providers = []llm.Profile{{Provider: "anthropic", APIKey: "sk-ant-abc"}}
		}, false},
		{"bad anthropic key", func(cfg *Config) {
			cfg.Providers = []llm.Profile{{Provider: "anthropic", APIKey: "wrong"}}
		}, true},
		{"valid openai profile", func(cfg *Config) {
			cfg.Providers = []llm.Profile{{Provider: "openai", APIKey: "sk-abc"}}
		}, false},
		{"bad openai key", func(cfg *Config) {
			cfg.Providers = []llm.Profile{{Provider: "openai", APIKey: "abc"}}
		}, true},
		{"unsupported provider", func(cfg *Config) {
			cfg.Providers = []llm.Profile{{Provider: "gemini", APIKey: "key"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
