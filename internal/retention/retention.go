// Package retention implements the retention sweeper (C8): a ticker-driven
// loop that deletes terminal job records (and their artifact directories)
// older than a configured horizon, grounded in the teacher's
// internal/database cleanup job shape (a background goroutine on a
// time.Ticker, one sweep per tick, logged at INFO).
package retention

import (
	"context"
	"time"

	"transcriflow/internal/artifact"
	"transcriflow/internal/store"
	"transcriflow/pkg/logger"
)

// Config tunes the sweeper (spec §6.4 retain_hours / sweep interval).
type Config struct {
	Horizon  time.Duration // default 48h
	Interval time.Duration // default 1h
}

func (c Config) withDefaults() Config {
	if c.Horizon <= 0 {
		c.Horizon = 48 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	return c
}

// Sweeper periodically deletes terminal jobs (and their artifacts) past
// their retention horizon.
type Sweeper struct {
	cfg       Config
	store     *store.Store
	artifacts *artifact.Store

	stop chan struct{}
	done chan struct{}
}

// New builds a Sweeper.
func New(cfg Config, st *store.Store, artifacts *artifact.Store) *Sweeper {
	return &Sweeper{
		cfg:       cfg.withDefaults(),
		store:     st,
		artifacts: artifacts,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop in the background. Call Stop to end it.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce runs a single retention pass immediately; exported for the
// `sweep` one-shot CLI subcommand (spec §9 operational concerns) as well as
// for tests.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	return s.sweepOnce(ctx), nil
}

func (s *Sweeper) sweepOnce(ctx context.Context) int {
	victims, err := s.store.DeleteTerminalOlderThan(ctx, s.cfg.Horizon)
	if err != nil {
		logger.Error("retention sweep failed", "error", err)
		return 0
	}
	for _, j := range victims {
		if err := s.artifacts.Remove(j.ID); err != nil {
			logger.Warn("failed to remove artifact directory during sweep", "job_id", j.ID, "error", err)
		}
	}
	if len(victims) > 0 {
		logger.Info("retention sweep removed expired jobs", "count", len(victims), "horizon", s.cfg.Horizon.String())
	}
	return len(victims)
}
