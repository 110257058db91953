package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wpscholar/wp-mcp/internal/config"
	"github.com/wpscholar/wp-mcp/pkg/history"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and session store status",
	Long:  `Show the resolved configuration and the current session store counts.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, lgr, err := loadRuntime()
	if err != nil {
		return err
	}
	defer lgr.Close()

	configPath, err := config.NewLoader(cfgFile).Path()
	if err != nil {
		return err
	}

	store, err := history.Open(history.Options{
		Path:        storePath(cfg),
		MaxMessages: cfg.History.MaxMessages,
		ContentCap:  cfg.History.ContentCap,
		Logger:      lgr.GetZerolog(),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.CountSessions(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Print(statusReport(configPath, cfg, sessions))
	return nil
}

func statusReport(configPath string, cfg *config.Config, sessions int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Config: %s\n", configPath)
	fmt.Fprintf(&b, "Data dir: %s\n", dataDir(cfg))

	if len(cfg.Providers) > 0 {
		profile := cfg.Providers[0]
		fmt.Fprintf(&b, "Provider: %s (%s)\n", profile.Provider, profile.Model)
	} else {
		fmt.Fprintln(&b, "Provider: not configured")
	}

	if cfg.History.Enabled {
		fmt.Fprintf(&b, "History: enabled, max %d messages, retention %d days (%s)\n",
			cfg.History.MaxMessages, cfg.History.RetentionDays, cfg.History.SweepSchedule)
	} else {
		fmt.Fprintln(&b, "History: disabled")
	}

	fmt.Fprintf(&b, "Rate limit: %d requests per %ds\n",
		cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSeconds)
	fmt.Fprintf(&b, "Sessions: %d\n", sessions)

	return b.String()
}
