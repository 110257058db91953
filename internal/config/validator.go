package config

import (
	"fmt"
	"strings"
)

// Validate checks a loaded configuration for values the runtime cannot use.
func Validate(cfg *Config) error {
	if cfg.History.MaxMessages < 1 {
		return fmt.Errorf("history.max_messages must be positive, got %d", cfg.History.MaxMessages)
	}
	if cfg.History.ContentCap < 1 {
		return fmt.Errorf("history.content_cap must be positive, got %d", cfg.History.ContentCap)
	}
	if cfg.History.RetentionDays < 1 {
		return fmt.Errorf("history.retention_days must be positive, got %d", cfg.History.RetentionDays)
	}

	if cfg.Chat.ContextWindow < 1 {
		return fmt.Errorf("chat.context_window must be positive, got %d", cfg.Chat.ContextWindow)
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 1 {
		return fmt.Errorf("chat.temperature must be between 0 and 1, got %v", cfg.Chat.Temperature)
	}
	if cfg.Chat.MaxTokens < 0 {
		return fmt.Errorf("chat.max_tokens cannot be negative, got %d", cfg.Chat.MaxTokens)
	}

	if cfg.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.WindowSeconds < 1 {
		return fmt.Errorf("rate_limit.window_seconds must be positive, got %d", cfg.RateLimit.WindowSeconds)
	}

	for i, profile := range cfg.Providers {
		if err := validateProfile(i, profile.Provider, profile.APIKey); err != nil {
			return err
		}
	}

	return nil
}

func validateProfile(index int, provider, apiKey string) error {
	switch provider {
	case "anthropic":
		if apiKey != "" && !strings.HasPrefix(apiKey, "sk-ant-") {
			return fmt.Errorf("providers[%d]: invalid Anthropic API key format (should start with sk-ant-)", index)
		}
	case "openai":
		if apiKey != "" && !strings.HasPrefix(apiKey, "sk-") {
			return fmt.Errorf("providers[%d]: invalid OpenAI API key format (should start with sk-)", index)
		}
	default:
		return fmt.Errorf("providers[%d]: unsupported provider %q", index, provider)
	}
	return nil
}
