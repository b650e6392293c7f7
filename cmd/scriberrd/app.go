// Package main is the daemon entrypoint: it wires every component spec
// §9 names into one dependency graph, then hands that graph to whichever
// surface adapter the invoked subcommand needs. Grounded in the teacher's
// cmd/server/main.go (ordered init: config, logger, database, downstream
// services, router, http.Server, graceful shutdown) and its
// internal/cli package (cobra root + service install/start/stop).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"transcriflow/internal/artifact"
	"transcriflow/internal/batch"
	"transcriflow/internal/broker"
	"transcriflow/internal/cancel"
	"transcriflow/internal/config"
	"transcriflow/internal/engine/asr"
	"transcriflow/internal/engine/diar"
	"transcriflow/internal/orchestrator"
	"transcriflow/internal/retention"
	"transcriflow/internal/store"
	"transcriflow/internal/worker"
	"transcriflow/pkg/logger"
)

// app bundles every long-lived component a running daemon needs to shut
// down cleanly, regardless of which surface adapter is driving it.
type app struct {
	cfg       *config.Config
	store     *store.Store
	events    *broker.Broker
	cancels   *cancel.Registry
	asr       *asr.Adapter
	pool      *worker.Pool
	batch     *batch.Coordinator
	artifacts *artifact.Store
	sweeper   *retention.Sweeper
	core      *orchestrator.Core
}

// buildApp wires the full dependency graph (spec §9's component list:
// C1 store, C2 broker, C3a/C3b engines, C5 pool, C6 batch coordinator,
// C7 cancellation registry), the way the teacher's main.go builds its
// repo -> service -> handler chain before ever touching the router.
func buildApp(cfg *config.Config) (*app, error) {
	logger.Init(cfg.LogLevel, os.Stdout)
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
			if f, err := os.OpenFile(filepath.Join(cfg.LogDir, "transcriflow.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				logger.Init(cfg.LogLevel, f)
			}
		}
	}

	logger.Startup("config", "configuration loaded", "work_dir", cfg.WorkDir, "http_addr", cfg.HTTPAddr)

	dbPath := filepath.Join(cfg.WorkDir, "transcriflow.db")
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare work dir: %w", err)
	}

	events := broker.New()
	logger.Startup("broker", "progress broker started")

	st, err := store.Open(dbPath, events)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Startup("store", "durable job store opened", "path", dbPath)

	if n, err := st.RehydrateInFlight(context.Background()); err != nil {
		logger.Warn("rehydrate in-flight jobs failed", "error", err)
	} else if n > 0 {
		logger.Startup("store", "marked stale in-flight jobs failed after restart", "count", n)
	}

	cancels := cancel.New()

	pidDir := filepath.Join(cfg.WorkDir, "pids")
	transcriber := asr.New(pidDir)
	transcriber.ScanOrphans()
	logger.Startup("engine", "transcription engine adapter ready", "pid_dir", pidDir)

	var diarizer worker.Diarizer
	if cfg.HFToken != "" {
		diarizer = diar.New(diar.SubprocessLoader(cfg.HFToken, cfg.MaxProcessingTime), cfg.Device)
		logger.Startup("engine", "diarization pipeline adapter ready", "device", cfg.Device)
	} else {
		logger.Startup("engine", "diarization disabled: no hf_token configured")
	}

	artifacts := artifact.New(filepath.Join(cfg.WorkDir, "artifacts"))

	pool := worker.New(worker.Config{
		Concurrency:    cfg.WorkerConcurrency,
		DefaultTimeout: asr.ClampTimeout(cfg.MaxProcessingTime),
	}, st, cancels, transcriber, diarizer, artifacts)
	pool.Start()
	logger.Startup("worker", "worker pool started", "concurrency", cfg.WorkerConcurrency)

	bc := batch.New(st, pool, events, cfg.BatchMaxConcurrent)

	sweeper := retention.New(retention.Config{Horizon: cfg.RetentionHorizon()}, st, artifacts)
	sweeper.Start(context.Background())
	logger.Startup("retention", "retention sweeper started", "horizon", cfg.RetentionHorizon().String())

	core := orchestrator.New(st, pool, bc, artifacts, events, cfg)

	return &app{
		cfg:       cfg,
		store:     st,
		events:    events,
		cancels:   cancels,
		asr:       transcriber,
		pool:      pool,
		batch:     bc,
		artifacts: artifacts,
		sweeper:   sweeper,
		core:      core,
	}, nil
}

// shutdown stops every long-lived component in reverse dependency order.
func (a *app) shutdown() {
	a.sweeper.Stop()
	a.pool.Stop()
	a.asr.Shutdown()
	a.events.Shutdown()
}

func loadConfig() (*config.Config, error) {
	start := time.Now()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Debug("config resolved", "elapsed", time.Since(start))
	return cfg, nil
}
