package config

import (
	"github.com/wpscholar/wp-mcp/internal/logger"
	"github.com/wpscholar/wp-mcp/pkg/llm"
)

// Config represents the wp-mcp configuration.
type Config struct {
	// DataDir holds the SQLite database and log files.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// History configures the session store.
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Chat configures the orchestration engine.
	Chat ChatConfig `json:"chat" mapstructure:"chat"`

	// RateLimit throttles chat turns per user.
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	// Providers lists completion provider profiles; the first entry is used.
	Providers []llm.Profile `json:"providers" mapstructure:"providers"`

	// Logging configures log output.
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// HistoryConfig holds session store settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	MaxMessages   int    `json:"max_messages" mapstructure:"max_messages"`
	ContentCap    int    `json:"content_cap" mapstructure:"content_cap"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// ChatConfig holds orchestration engine settings.
type ChatConfig struct {
	SystemPrompt  string  `json:"system_prompt" mapstructure:"system_prompt"`
	ContextWindow int     `json:"context_window" mapstructure:"context_window"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
}

// RateLimitConfig holds fixed-window limiter settings.
type RateLimitConfig struct {
	MaxRequests   int `json:"max_requests" mapstructure:"max_requests"`
	WindowSeconds int `json:"window_seconds" mapstructure:"window_seconds"`
}

// MetricsConfig holds metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		History: HistoryConfig{
			Enabled:       true,
			MaxMessages:   100,
			ContentCap:    50000,
			RetentionDays: 30,
			SweepSchedule: "@daily",
		},
		Chat: ChatConfig{
			SystemPrompt:  "You are a helpful assistant for managing site content.",
			ContextWindow: 10,
			MaxTokens:     4096,
			Temperature:   0.7,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   10,
			WindowSeconds: 60,
		},
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}
