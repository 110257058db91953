package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wpscholar/wp-mcp/internal/config"
	"github.com/wpscholar/wp-mcp/internal/observability"
	"github.com/wpscholar/wp-mcp/pkg/history"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background services",
	Long: `Run the long-lived services: the scheduled retention sweep, config
hot reload, and the metrics endpoint when enabled. Blocks until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, lgr, err := loadRuntime()
	if err != nil {
		return err
	}
	defer lgr.Close()

	svc, err := startServices(cfg, config.NewLoader(cfgFile), lgr.GetZerolog())
	if err != nil {
		return err
	}
	defer svc.Stop()

	fmt.Println("wp-mcp services running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zl := lgr.GetZerolog()
	zl.Info().Msg("Shutting down")
	return nil
}

// services holds the long-lived components hosted by the serve command.
type services struct {
	store      *history.Store
	sweeper    *history.Sweeper
	watcher    *config.Watcher
	metricsSrv *http.Server
	logger     zerolog.Logger
}

func startServices(cfg *config.Config, loader *config.Loader, lgr zerolog.Logger) (*services, error) {
	store, err := history.Open(history.Options{
		Path:        storePath(cfg),
		MaxMessages: cfg.History.MaxMessages,
		ContentCap:  cfg.History.ContentCap,
		Disabled:    !cfg.History.Enabled,
		Logger:      lgr,
	})
	if err != nil {
		return nil, err
	}

	sweeper, err := history.NewSweeper(history.SweeperOptions{
		Store:         store,
		RetentionDays: cfg.History.RetentionDays,
		Schedule:      cfg.History.SweepSchedule,
		Logger:        lgr,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := sweeper.Start(); err != nil {
		store.Close()
		return nil, err
	}

	watcher, err := config.NewWatcher(loader, lgr, func(reloaded *config.Config) {
		applyReload(reloaded, lgr)
	})
	if err != nil {
		sweeper.Stop()
		store.Close()
		return nil, err
	}

	svc := &services{store: store, sweeper: sweeper, watcher: watcher, logger: lgr}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		svc.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := svc.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lgr.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	return svc, nil
}

// applyReload applies the settings that can change without a restart.
func applyReload(cfg *config.Config, lgr zerolog.Logger) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		lgr.Warn().Str("level", cfg.Logging.Level).Msg("Ignoring unknown log level")
		return
	}
	zerolog.SetGlobalLevel(level)
	lgr.Info().Str("level", level.String()).Msg("Log level updated")
}

// Stop shuts the services down in reverse start order.
func (s *services) Stop() {
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	if err := s.watcher.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Config watcher stop failed")
	}
	s.sweeper.Stop()
	s.store.Close()
}
