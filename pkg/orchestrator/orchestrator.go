// Package orchestrator walks an ordered list of bootstrap phases, executing
// each unit of work at most once. Durable progress lives in the state store;
// the checkpoint is an advisory resume pointer. Execution is sequential and
// fail-fast: the first failing unit halts the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bootforge/bootforge/pkg/bootstrap"
	"github.com/bootforge/bootforge/pkg/checkpoint"
	"github.com/bootforge/bootforge/pkg/installer"
	"github.com/bootforge/bootforge/pkg/state"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// PackageInstaller is the slice of the installer the orchestrator needs.
type PackageInstaller interface {
	InstallWithRetry(ctx context.Context, requests []installer.PackageRequest, policy installer.RetryPolicy) error
}

// Options control a single run.
type Options struct {
	// DryRun traverses the plan and consults the state store but writes no
	// records, installs nothing, and executes no units.
	DryRun bool

	// OnlyPhase restricts the run to the named phase. The checkpoint is
	// neither consulted nor advanced for a partial run.
	OnlyPhase string

	// ForcePhases re-executes every unit in the named phases even when the
	// store records them as completed.
	ForcePhases []string

	// ForceUnits re-executes the named units even when the store records
	// them as completed.
	ForceUnits []string

	// TargetDir overrides the configured target project directory.
	TargetDir string

	// Vars are free-form settings passed through to units.
	Vars map[string]string
}

// Summary reports what a run did.
type Summary struct {
	// RunID identifies the run in logs and metrics.
	RunID string `json:"run_id"`

	// Executed is the number of units that ran.
	Executed int `json:"executed"`

	// Skipped is the number of units skipped as already completed.
	Skipped int `json:"skipped"`

	// WouldExecute is the number of units a dry run would have executed.
	WouldExecute int `json:"would_execute,omitempty"`
}

// Orchestrator executes a bootstrap plan.
type Orchestrator struct {
	phases  []bootstrap.Phase
	store   state.Store
	ckpt    *checkpoint.Manager
	pkgs    PackageInstaller
	policy  installer.RetryPolicy
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithInstaller wires the package installer used for units that declare
// required packages. Without it, such units fail.
func WithInstaller(p PackageInstaller, policy installer.RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.pkgs = p
		o.policy = policy
	}
}

// WithLogger sets the logger.
func WithLogger(log *telemetry.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator over the given plan, store, and checkpoint
// manager.
func New(phases []bootstrap.Phase, store state.Store, ckpt *checkpoint.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		phases:  phases,
		store:   store,
		ckpt:    ckpt,
		policy:  installer.DefaultRetryPolicy(),
		log:     telemetry.Nop(),
		metrics: &telemetry.Metrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the plan. It returns a summary of what happened; on failure
// the state store records the failing unit and the checkpoint points at its
// phase, so re-invocation resumes correctly without operator bookkeeping.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Summary, error) {
	summary := &Summary{RunID: uuid.New().String()}
	log := o.log.WithRunID(summary.RunID)

	phases := o.phases
	partial := false
	if opts.OnlyPhase != "" {
		idx := bootstrap.FindPhase(phases, opts.OnlyPhase)
		if idx < 0 {
			return nil, bootstrap.NewConfigError(
				fmt.Sprintf("unknown phase %q", opts.OnlyPhase), nil)
		}
		phases = phases[idx : idx+1]
		partial = true
	}

	start := 0
	if !partial {
		start = o.resumeIndex(phases, log)
	}

	o.metrics.RunStarted()
	if opts.DryRun {
		log.Info("dry run: no state will be written, no units will execute")
	}

	for i := start; i < len(phases); i++ {
		phase := phases[i]
		plog := log.WithPhase(phase.ID)

		if err := o.runPhase(ctx, phase, opts, summary, plog); err != nil {
			o.metrics.RunCompleted("failed")
			// Pin the resume pointer at the failed phase. Best effort: the
			// store already holds the authoritative failure record.
			if !opts.DryRun && !partial {
				if saveErr := o.ckpt.Save(phase.ID, failedUnit(err)); saveErr != nil {
					plog.WithError(saveErr).Warn("failed to save checkpoint")
				}
			}
			return summary, err
		}

		if opts.DryRun || partial {
			continue
		}
		if err := o.store.MarkResult(ctx, state.KindPhase, phase.ID, state.StatusCompleted); err != nil {
			o.metrics.RunCompleted("failed")
			return summary, bootstrap.NewStorageError("failed to record phase completion", err).WithPhase(phase.ID)
		}
		if i+1 < len(phases) {
			if err := o.ckpt.Save(phases[i+1].ID, ""); err != nil {
				o.metrics.RunCompleted("failed")
				return summary, bootstrap.NewStorageError("failed to save checkpoint", err).WithPhase(phase.ID)
			}
		}
		plog.Info("phase completed")
	}

	if !opts.DryRun && !partial {
		if err := o.ckpt.Clear(); err != nil {
			o.metrics.RunCompleted("failed")
			return summary, bootstrap.NewStorageError("failed to clear checkpoint", err)
		}
	}

	o.metrics.RunCompleted("succeeded")
	log.Infof("run finished: %d executed, %d skipped", summary.Executed, summary.Skipped)
	return summary, nil
}

// resumeIndex picks the phase to start scanning from. The checkpoint is
// advisory: any load problem or unknown phase falls back to a full scan.
func (o *Orchestrator) resumeIndex(phases []bootstrap.Phase, log *telemetry.Logger) int {
	phaseID, _, ok, err := o.ckpt.Load()
	if err != nil {
		log.WithError(err).Warn("failed to load checkpoint, scanning from the first phase")
		return 0
	}
	if !ok {
		return 0
	}
	idx := bootstrap.FindPhase(phases, phaseID)
	if idx < 0 {
		log.WithField("phase", phaseID).Warn("checkpoint names an unknown phase, scanning from the first phase")
		return 0
	}
	log.WithField("phase", phaseID).Info("resuming from checkpoint")
	return idx
}

// runPhase executes every unit in a phase in order, fail-fast.
func (o *Orchestrator) runPhase(ctx context.Context, phase bootstrap.Phase, opts Options, summary *Summary, log *telemetry.Logger) error {
	forcedPhase := contains(opts.ForcePhases, phase.ID)

	phaseDone, err := o.store.HasCompleted(ctx, state.KindPhase, phase.ID)
	if err != nil {
		return bootstrap.NewStorageError("failed to query phase state", err).WithPhase(phase.ID)
	}

	for _, unit := range phase.Units {
		if err := ctx.Err(); err != nil {
			return bootstrap.NewExecutionError("run interrupted", err).WithPhase(phase.ID).WithUnit(unit.ID())
		}

		forced := forcedPhase || contains(opts.ForceUnits, unit.ID())
		ulog := log.WithUnitID(unit.ID())

		done := phaseDone
		if !done {
			done, err = o.store.HasCompleted(ctx, state.KindScript, unit.ID())
			if err != nil {
				return bootstrap.NewStorageError("failed to query unit state", err).WithPhase(phase.ID).WithUnit(unit.ID())
			}
		}

		if done && !forced {
			summary.Skipped++
			if opts.DryRun {
				ulog.Info("would skip: already completed")
			} else {
				ulog.Info("skipped: already completed")
			}
			continue
		}

		if opts.DryRun {
			summary.WouldExecute++
			ulog.Info("would execute")
			continue
		}

		if err := o.executeUnit(ctx, phase, unit, opts, forced, ulog); err != nil {
			return err
		}
		summary.Executed++
	}
	return nil
}

// executeUnit runs one unit: record in_progress, install its packages,
// execute, record the outcome.
func (o *Orchestrator) executeUnit(ctx context.Context, phase bootstrap.Phase, unit bootstrap.Unit, opts Options, forced bool, log *telemetry.Logger) error {
	if err := o.store.MarkInProgress(ctx, state.KindScript, unit.ID()); err != nil {
		return bootstrap.NewStorageError("failed to record unit start", err).WithPhase(phase.ID).WithUnit(unit.ID())
	}

	if packages := unit.RequiredPackages(); len(packages) > 0 {
		if o.pkgs == nil {
			err := bootstrap.NewConfigError("unit requires packages but no installer is configured", nil).
				WithPhase(phase.ID).WithUnit(unit.ID())
			o.recordFailure(ctx, unit, log)
			return err
		}
		log.Infof("installing %d required packages", len(packages))
		if err := o.pkgs.InstallWithRetry(ctx, packages, o.policy); err != nil {
			o.recordFailure(ctx, unit, log)
			return bootstrap.NewInstallError("required packages failed to install", err).
				WithPhase(phase.ID).WithUnit(unit.ID())
		}
	}

	if forced {
		log.Info("executing (forced)")
	} else {
		log.Info("executing")
	}

	startedAt := time.Now()
	result := unit.Execute(ctx, &bootstrap.Env{
		TargetDir: opts.TargetDir,
		DryRun:    false,
		Force:     forced,
		Vars:      opts.Vars,
		Log:       log,
	})
	elapsed := time.Since(startedAt)

	status := result.Status
	if status != state.StatusCompleted {
		status = state.StatusFailed
	}
	o.metrics.UnitExecuted(string(status), elapsed.Seconds())

	if err := o.store.MarkResult(ctx, state.KindScript, unit.ID(), status); err != nil {
		return bootstrap.NewStorageError("failed to record unit result", err).WithPhase(phase.ID).WithUnit(unit.ID())
	}

	if status == state.StatusFailed {
		msg := result.Message
		if msg == "" {
			msg = "unit execution failed"
		}
		log.WithError(result.Err).Error(msg)
		return bootstrap.NewExecutionError(msg, result.Err).WithPhase(phase.ID).WithUnit(unit.ID())
	}

	log.WithField("duration", elapsed.String()).Info("unit completed")
	return nil
}

// recordFailure appends a failed record for a unit whose preparation (not
// execution) failed. Best effort: the caller is already returning an error.
func (o *Orchestrator) recordFailure(ctx context.Context, unit bootstrap.Unit, log *telemetry.Logger) {
	if err := o.store.MarkResult(ctx, state.KindScript, unit.ID(), state.StatusFailed); err != nil {
		log.WithError(err).Warn("failed to record unit failure")
	}
}

// failedUnit extracts the unit ID from a classified error for the checkpoint
// pointer.
func failedUnit(err error) string {
	var berr *bootstrap.Error
	if errors.As(err, &berr) {
		return berr.Unit
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
