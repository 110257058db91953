package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the retention sweep once per day.
const DefaultSweepSchedule = "@daily"

// Sweeper runs the retention sweep on a recurring schedule.
type Sweeper struct {
	store         *Store
	retentionDays int
	schedule      string
	logger        zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Store         *Store
	RetentionDays int    // DefaultRetentionDays when zero
	Schedule      string // cron expression, DefaultSweepSchedule when empty
	Logger        zerolog.Logger
}

// NewSweeper creates a retention sweeper. It does not start until Start is called.
func NewSweeper(opts SweeperOptions) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.RetentionDays == 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.RetentionDays < 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", opts.RetentionDays)
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultSweepSchedule
	}

	return &Sweeper{
		store:         opts.Store,
		retentionDays: opts.RetentionDays,
		schedule:      opts.Schedule,
		logger:        opts.Logger,
	}, nil
}

// Start schedules the recurring sweep.
func (sw *Sweeper) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.running {
		return errors.New("sweeper is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(sw.schedule, sw.sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", sw.schedule, err)
	}
	c.Start()

	sw.cron = c
	sw.running = true

	sw.logger.Info().
		Str("schedule", sw.schedule).
		Int("retention_days", sw.retentionDays).
		Msg("Retention sweeper started")

	return nil
}

// Stop halts the recurring sweep, waiting for an in-flight run to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.running {
		return
	}

	<-sw.cron.Stop().Done()
	sw.cron = nil
	sw.running = false

	sw.logger.Info().Msg("Retention sweeper stopped")
}

// IsRunning reports whether the sweeper is scheduled.
func (sw *Sweeper) IsRunning() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.running
}

// SweepNow runs one sweep immediately and returns the number of sessions removed.
func (sw *Sweeper) SweepNow(ctx context.Context) (int, error) {
	return sw.store.SweepExpired(ctx, sw.retentionDays)
}

func (sw *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := sw.store.SweepExpired(ctx, sw.retentionDays); err != nil {
		sw.logger.Error().Err(err).Msg("Retention sweep failed")
	}
}
