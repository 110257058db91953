package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wpscholar/wp-mcp/pkg/history"
)

var sweepRetentionDays int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete sessions idle past the retention period",
	Long: `Delete sessions whose last update is older than the retention period.
The same sweep runs on the configured schedule inside a long-lived process;
this command triggers it once and exits.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepRetentionDays, "retention-days", 0, "override the configured retention period")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, lgr, err := loadRuntime()
	if err != nil {
		return err
	}
	defer lgr.Close()

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

	days := cfg.History.RetentionDays
	if sweepRetentionDays > 0 {
		days = sweepRetentionDays
	}

	removed, err := store.SweepExpired(cmd.Context(), days)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d expired sessions (retention %d days)\n", removed, days)
	return nil
}
