package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpscholar/wp-mcp/internal/config"
)

func TestStartServices(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "wp-mcp.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{}`), 0644))

	cfg := config.DefaultConfig()
	cfg.DataDir = dir

	svc, err := startServices(cfg, config.NewLoader(cfgPath), zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, svc.sweeper.IsRunning())
	assert.Nil(t, svc.metricsSrv) // metrics disabled by default

	count, err := svc.store.CountSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	svc.Stop()
	assert.False(t, svc.sweeper.IsRunning())
}

func TestStartServices_InvalidSchedule(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.History.SweepSchedule = "not a schedule"

	_, err := startServices(cfg, config.NewLoader(filepath.Join(dir, "wp-mcp.json")), zerolog.Nop())
	assert.Error(t, err)
}

func TestApplyReload(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "warn"
	applyReload(cfg, zerolog.Nop())
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	// An unknown level leaves the current one in place.
	cfg.Logging.Level = "shout"
	applyReload(cfg, zerolog.Nop())
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
