package commands

import (
	"context"
	"fmt"

	"github.com/bootforge/bootforge/pkg/bootstrap"
	"github.com/bootforge/bootforge/pkg/checkpoint"
	"github.com/bootforge/bootforge/pkg/config"
	"github.com/bootforge/bootforge/pkg/installer"
	"github.com/bootforge/bootforge/pkg/orchestrator"
	"github.com/bootforge/bootforge/pkg/state"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// runtime holds the wired components every command works against.
type runtime struct {
	cfg     *config.Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	store   state.Store
	ckpt    *checkpoint.Manager
}

// newRuntime loads the config file and wires logging, metrics, the state
// store, and the checkpoint manager.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	log, err := telemetry.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	metrics.Serve()

	var store state.Store
	switch cfg.State.Backend {
	case "sqlite":
		sqliteStore, sErr := state.NewSQLiteStore(cfg.State.Path)
		if sErr == nil {
			sErr = sqliteStore.Init(context.Background())
		}
		store, err = sqliteStore, sErr
	default:
		store, err = state.NewLogStore(cfg.State.Path)
	}
	if err != nil {
		return nil, bootstrap.NewStorageError(
			fmt.Sprintf("failed to open %s state store at %s", cfg.State.Backend, cfg.State.Path), err)
	}

	ckpt, err := checkpoint.NewManager(cfg.State.CheckpointPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		store:   store,
		ckpt:    ckpt,
	}, nil
}

// Close releases the store.
func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.log.WithError(err).Warn("failed to close state store")
	}
}

// orchestrator builds the execution pipeline: plan, package installer, and
// the orchestrator over them.
func (r *runtime) orchestrator() (*orchestrator.Orchestrator, error) {
	phases, err := r.cfg.Plan()
	if err != nil {
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(r.log),
		orchestrator.WithMetrics(r.metrics),
	}

	if planNeedsPackages(phases) {
		manager, err := installer.DetectManager(r.cfg.Installer.Manager, r.cfg.Installer.FallbackManager)
		if err != nil {
			return nil, bootstrap.NewConfigError("no usable package manager found", err)
		}
		cache := installer.NewCache(r.cfg.Installer.CacheDir)
		if err := cache.Validate(); err != nil {
			return nil, bootstrap.NewConfigError("invalid package cache", err)
		}
		inst := installer.New(manager, cache, r.cfg.TargetDir,
			installer.WithLogger(r.log),
			installer.WithMetrics(r.metrics),
			installer.WithStrictVersions(r.cfg.Installer.StrictCache),
		)
		opts = append(opts, orchestrator.WithInstaller(inst, r.cfg.RetryPolicy()))
	}

	return orchestrator.New(phases, r.store, r.ckpt, opts...), nil
}

// runOptions assembles orchestrator options from command flags and config.
func (r *runtime) runOptions(dryRun bool, forcePhases, forceUnits []string, targetDir string) orchestrator.Options {
	if targetDir == "" {
		targetDir = r.cfg.TargetDir
	}
	return orchestrator.Options{
		DryRun:      dryRun,
		ForcePhases: forcePhases,
		ForceUnits:  forceUnits,
		TargetDir:   targetDir,
		Vars:        r.cfg.Vars,
	}
}

// planNeedsPackages reports whether any unit declares required packages. A
// plan without packages runs without a package manager on PATH.
func planNeedsPackages(phases []bootstrap.Phase) bool {
	for _, phase := range phases {
		for _, unit := range phase.Units {
			if len(unit.RequiredPackages()) > 0 {
				return true
			}
		}
	}
	return false
}
