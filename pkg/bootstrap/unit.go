package bootstrap

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bootforge/bootforge/pkg/installer"
	"github.com/bootforge/bootforge/pkg/state"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Unit is one idempotent setup action. Implementations own their side
// effects entirely; the orchestrator only invokes Execute, observes the
// Result, and records it. Execute must be idempotent at the effect level
// even though the orchestrator also gates on the state store, so a lost
// record cannot cause duplicate damage.
//
// ID must be globally unique, stable across runs, and free of ':' (it keys
// the persisted state records).
type Unit interface {
	// ID returns the stable identifier for this unit.
	ID() string

	// Execute performs the unit's work.
	Execute(ctx context.Context, env *Env) Result

	// RequiredPackages lists packages the orchestrator installs before
	// Execute is called. May be nil.
	RequiredPackages() []installer.PackageRequest
}

// Env is the execution context handed to every unit. It replaces shared
// mutable globals: everything a unit may consult travels in here.
type Env struct {
	// TargetDir is the root of the project being bootstrapped.
	TargetDir string

	// DryRun indicates the run is a preview; units are not invoked at all in
	// dry-run mode, but the flag travels with the env for collaborators that
	// plan their own work.
	DryRun bool

	// Force indicates the unit was forced to re-run despite a completed
	// record.
	Force bool

	// Vars are free-form key-value settings from configuration.
	Vars map[string]string

	// Log is the logger scoped to the current unit.
	Log *telemetry.Logger
}

// Logger returns the env's logger, or a no-op logger when unset.
func (e *Env) Logger() *telemetry.Logger {
	if e == nil || e.Log == nil {
		return telemetry.Nop()
	}
	return e.Log
}

// Result is the outcome of one unit execution.
type Result struct {
	// Status is the terminal status: completed, failed, or skipped.
	Status state.Status `json:"status"`

	// Message is an optional human-readable diagnostic.
	Message string `json:"message,omitempty"`

	// Err is the underlying error for a failed result.
	Err error `json:"-"`
}

// Completed returns a successful result.
func Completed(message string) Result {
	return Result{Status: state.StatusCompleted, Message: message}
}

// Failed returns a failed result carrying the error.
func Failed(message string, err error) Result {
	return Result{Status: state.StatusFailed, Message: message, Err: err}
}

// FuncUnit adapts a function into a Unit.
type FuncUnit struct {
	UnitID   string
	Packages []installer.PackageRequest
	Fn       func(ctx context.Context, env *Env) Result
}

// ID returns the unit identifier.
func (u *FuncUnit) ID() string { return u.UnitID }

// Execute invokes the wrapped function.
func (u *FuncUnit) Execute(ctx context.Context, env *Env) Result {
	return u.Fn(ctx, env)
}

// RequiredPackages returns the declared package requests.
func (u *FuncUnit) RequiredPackages() []installer.PackageRequest { return u.Packages }

// CommandUnit runs an external command in the target directory. It is the
// workhorse for config-declared setup steps.
type CommandUnit struct {
	UnitID   string
	Command  string
	Args     []string
	Packages []installer.PackageRequest
}

// ID returns the unit identifier.
func (u *CommandUnit) ID() string { return u.UnitID }

// Execute runs the command with the env's target directory as working
// directory. Captured output is folded into the failure diagnostic.
func (u *CommandUnit) Execute(ctx context.Context, env *Env) Result {
	cmd := exec.CommandContext(ctx, u.Command, u.Args...)
	cmd.Dir = env.TargetDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			msg = err.Error()
		}
		return Failed(fmt.Sprintf("%s failed: %s", u.Command, msg), err)
	}
	return Completed(fmt.Sprintf("%s succeeded", u.Command))
}

// RequiredPackages returns the declared package requests.
func (u *CommandUnit) RequiredPackages() []installer.PackageRequest { return u.Packages }
