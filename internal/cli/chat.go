package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wpscholar/wp-mcp/internal/config"
	"github.com/wpscholar/wp-mcp/internal/logger"
	"github.com/wpscholar/wp-mcp/pkg/chat"
	"github.com/wpscholar/wp-mcp/pkg/history"
	"github.com/wpscholar/wp-mcp/pkg/llm"
	"github.com/wpscholar/wp-mcp/pkg/ratelimit"
	"github.com/wpscholar/wp-mcp/pkg/tools"
)

var (
	chatSession string
	chatUser    string
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Run one conversation turn",
	Long: `Run a single conversation turn against the configured completion
provider, with the built-in content tools available. The turn is persisted
to the session given by --session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id (a new one is minted when empty)")
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "user id")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, lgr, err := loadRuntime()
	if err != nil {
		return err
	}
	defer lgr.Close()

	if len(cfg.Providers) == 0 {
		return fmt.Errorf("no completion provider configured")
	}
	profile := cfg.Providers[0]

	provider, err := llm.NewProvider(profile)
	if err != nil {
		return err
	}

	store, err := history.Open(history.Options{
		Path:        storePath(cfg),
		MaxMessages: cfg.History.MaxMessages,
		ContentCap:  cfg.History.ContentCap,
		Disabled:    !cfg.History.Enabled,
		Logger:      lgr.GetZerolog(),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	registry := tools.NewRegistry(lgr.GetZerolog())
	contentStore := tools.NewContentStore()
	if err := tools.RegisterContentTools(registry, contentStore); err != nil {
		return err
	}

	engine, err := chat.NewEngine(chat.Options{
		History:  store,
		Limiter:  ratelimit.New(),
		Provider: provider,
		Executor: registry,
		Identity: allowAll{},
		Logger:   lgr.GetZerolog(),
		Config: chat.Config{
			Model:             profile.Model,
			SystemPrompt:      cfg.Chat.SystemPrompt,
			MaxTokens:         cfg.Chat.MaxTokens,
			Temperature:       cfg.Chat.Temperature,
			ContextWindow:     cfg.Chat.ContextWindow,
			RateLimitRequests: cfg.RateLimit.MaxRequests,
			RateLimitWindow:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		},
	})
	if err != nil {
		return err
	}

	sessionID := chatSession
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := engine.RunTurn(cmd.Context(), chat.TurnParams{
		SessionID: sessionID,
		UserID:    chatUser,
		Prompt:    strings.Join(args, " "),
	})
	if err != nil {
		return err
	}

	for _, call := range result.Reply.ToolCalls {
		fmt.Printf("[tool] %s\n", call.Name)
	}
	fmt.Println(result.Reply.Content)
	fmt.Printf("\n(session %s)\n", sessionID)

	return nil
}

// allowAll is the CLI identity: local invocations are always permitted.
type allowAll struct{}

func (allowAll) CanUseChat(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func loadRuntime() (*config.Config, *logger.Logger, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, nil, err
	}

	logCfg := cfg.Logging
	if logLevel != "" {
		logCfg.Level = logLevel
	}

	lgr, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, err
	}

	return cfg, lgr, nil
}

func dataDir(cfg *config.Config) string {
	if cfg.DataDir != "" {
		return cfg.DataDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".wp-mcp")
}

func storePath(cfg *config.Config) string {
	return filepath.Join(dataDir(cfg), "chat.db")
}
