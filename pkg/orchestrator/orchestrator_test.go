package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bootforge/bootforge/pkg/bootstrap"
	"github.com/bootforge/bootforge/pkg/checkpoint"
	"github.com/bootforge/bootforge/pkg/installer"
	"github.com/bootforge/bootforge/pkg/state"
)

// recorder tracks unit executions across a test.
type recorder struct {
	executions []string
}

func (r *recorder) unit(id string) bootstrap.Unit {
	return &bootstrap.FuncUnit{
		UnitID: id,
		Fn: func(context.Context, *bootstrap.Env) bootstrap.Result {
			r.executions = append(r.executions, id)
			return bootstrap.Completed("")
		},
	}
}

func (r *recorder) failingUnit(id string) bootstrap.Unit {
	return &bootstrap.FuncUnit{
		UnitID: id,
		Fn: func(context.Context, *bootstrap.Env) bootstrap.Result {
			r.executions = append(r.executions, id)
			return bootstrap.Failed("compose file rejected", errors.New("exit status 1"))
		},
	}
}

func (r *recorder) count(id string) int {
	n := 0
	for _, e := range r.executions {
		if e == id {
			n++
		}
	}
	return n
}

// fakeInstaller records install invocations.
type fakeInstaller struct {
	requests [][]installer.PackageRequest
	err      error
}

func (f *fakeInstaller) InstallWithRetry(_ context.Context, reqs []installer.PackageRequest, _ installer.RetryPolicy) error {
	f.requests = append(f.requests, reqs)
	return f.err
}

type fixture struct {
	store *state.LogStore
	ckpt  *checkpoint.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := state.NewLogStore(filepath.Join(dir, "state.log"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ckpt, err := checkpoint.NewManager(filepath.Join(dir, "checkpoint"))
	if err != nil {
		t.Fatalf("failed to create checkpoint manager: %v", err)
	}
	return &fixture{store: store, ckpt: ckpt}
}

func twoPhasePlan(t *testing.T, rec *recorder) []bootstrap.Phase {
	t.Helper()
	phases, err := bootstrap.NewBuilder().
		Phase("foundation", "Foundation").
		Unit(rec.unit("core/env-file")).
		Unit(rec.unit("core/tsconfig")).
		Phase("docker", "Docker services").
		Unit(rec.unit("docker/db-compose")).
		Build()
	if err != nil {
		t.Fatalf("failed to build plan: %v", err)
	}
	return phases
}

func TestRunExecutesAllPhasesInOrder(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)

	summary, err := o.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Executed != 3 || summary.Skipped != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	want := []string{"core/env-file", "core/tsconfig", "docker/db-compose"}
	if len(rec.executions) != len(want) {
		t.Fatalf("expected %d executions, got %v", len(want), rec.executions)
	}
	for i, id := range want {
		if rec.executions[i] != id {
			t.Errorf("execution %d = %s, want %s", i, rec.executions[i], id)
		}
	}

	// Every unit has a completed record; the checkpoint is cleared.
	ctx := context.Background()
	for _, id := range want {
		done, err := fx.store.HasCompleted(ctx, state.KindScript, id)
		if err != nil || !done {
			t.Errorf("expected completed record for %s (err=%v)", id, err)
		}
	}
	if _, _, ok, _ := fx.ckpt.Load(); ok {
		t.Error("expected checkpoint cleared after full success")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	if _, err := o.Run(ctx, Options{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	summary, err := o.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if summary.Executed != 0 || summary.Skipped != 3 {
		t.Errorf("second run must skip everything: %+v", summary)
	}
	for _, id := range []string{"core/env-file", "core/tsconfig", "docker/db-compose"} {
		if rec.count(id) != 1 {
			t.Errorf("unit %s executed %d times, want 1", id, rec.count(id))
		}
	}
}

func TestRunFailFastOrdering(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	phases, err := bootstrap.NewBuilder().
		Phase("foundation", "").
		Unit(rec.unit("core/env-file")).
		Phase("docker", "").
		Unit(rec.failingUnit("docker/db-compose")).
		Unit(rec.unit("docker/cache-compose")).
		Phase("services", "").
		Unit(rec.unit("services/api")).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	o := New(phases, fx.store, fx.ckpt)
	ctx := context.Background()

	_, runErr := o.Run(ctx, Options{})
	if runErr == nil {
		t.Fatal("expected run to fail")
	}
	if !bootstrap.IsExecution(runErr) {
		t.Errorf("expected an execution-classified error, got %v", runErr)
	}

	// Nothing after the failing unit ran.
	if rec.count("docker/cache-compose") != 0 || rec.count("services/api") != 0 {
		t.Errorf("units after the failure must not execute: %v", rec.executions)
	}

	// The failure is recorded; later units have no records.
	done, _ := fx.store.HasCompleted(ctx, state.KindScript, "docker/db-compose")
	if done {
		t.Error("failed unit must not record completed")
	}
	records, _ := fx.store.Records(ctx, state.KindScript, "docker/db-compose")
	if len(records) == 0 || records[len(records)-1].Status != state.StatusFailed {
		t.Errorf("expected a trailing failed record, got %v", records)
	}
	records, _ = fx.store.Records(ctx, state.KindScript, "services/api")
	if len(records) != 0 {
		t.Errorf("later units must have no records, got %v", records)
	}

	// The checkpoint points at the failed phase.
	phaseID, _, ok, _ := fx.ckpt.Load()
	if !ok || phaseID != "docker" {
		t.Errorf("expected checkpoint at docker, got %q ok=%v", phaseID, ok)
	}
}

func TestRunResumesAfterFailure(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	fail := true
	flaky := &bootstrap.FuncUnit{
		UnitID: "docker/db-compose",
		Fn: func(context.Context, *bootstrap.Env) bootstrap.Result {
			rec.executions = append(rec.executions, "docker/db-compose")
			if fail {
				return bootstrap.Failed("first attempt", nil)
			}
			return bootstrap.Completed("")
		},
	}

	phases, err := bootstrap.NewBuilder().
		Phase("foundation", "").
		Unit(rec.unit("core/env-file")).
		Phase("docker", "").
		Unit(flaky).
		Unit(rec.unit("docker/cache-compose")).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	o := New(phases, fx.store, fx.ckpt)
	ctx := context.Background()

	if _, err := o.Run(ctx, Options{}); err == nil {
		t.Fatal("expected first run to fail")
	}

	fail = false
	summary, err := o.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("resume run failed: %v", err)
	}

	// The completed foundation unit is not re-executed.
	if rec.count("core/env-file") != 1 {
		t.Errorf("completed unit re-executed on resume: %v", rec.executions)
	}
	if rec.count("docker/db-compose") != 2 {
		t.Errorf("failed unit should re-execute on resume, ran %d times", rec.count("docker/db-compose"))
	}
	if summary.Executed != 2 {
		t.Errorf("expected resume to execute 2 units, got %+v", summary)
	}
	if _, _, ok, _ := fx.ckpt.Load(); ok {
		t.Error("expected checkpoint cleared after successful resume")
	}
}

func TestRunResumeWithoutCheckpoint(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	// Simulate a prior partial run that recorded progress but lost its
	// checkpoint.
	if err := fx.store.MarkResult(ctx, state.KindScript, "core/env-file", state.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	summary, err := o.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.count("core/env-file") != 0 {
		t.Error("completed unit must be skipped even without a checkpoint")
	}
	if summary.Executed != 2 || summary.Skipped != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestRunSkipsPhaseCompletedAtPhaseGranularity(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	// Only a PHASE record exists, no per-unit records.
	if err := fx.store.MarkResult(ctx, state.KindPhase, "foundation", state.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	summary, err := o.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rec.count("core/env-file") != 0 || rec.count("core/tsconfig") != 0 {
		t.Errorf("foundation units must be skipped: %v", rec.executions)
	}
	if rec.count("docker/db-compose") != 1 {
		t.Error("docker phase must still execute")
	}
	if summary.Skipped != 2 || summary.Executed != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestRunForcedRerunAppendsHistory(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	if _, err := o.Run(ctx, Options{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	summary, err := o.Run(ctx, Options{ForceUnits: []string{"core/tsconfig"}})
	if err != nil {
		t.Fatalf("forced run failed: %v", err)
	}

	if rec.count("core/tsconfig") != 2 {
		t.Errorf("forced unit executed %d times, want 2", rec.count("core/tsconfig"))
	}
	if rec.count("core/env-file") != 1 {
		t.Error("non-forced units must stay skipped")
	}
	if summary.Executed != 1 || summary.Skipped != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	// History: completed, then a fresh in_progress + completed pair.
	records, err := fx.store.Records(ctx, state.KindScript, "core/tsconfig")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records (2 runs x in_progress+completed), got %d", len(records))
	}
	if records[0].Status != state.StatusInProgress || records[1].Status != state.StatusCompleted {
		t.Errorf("prior history rewritten: %v", records)
	}
}

func TestRunForcedPhase(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	if _, err := o.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(ctx, Options{ForcePhases: []string{"foundation"}}); err != nil {
		t.Fatalf("forced phase run failed: %v", err)
	}

	if rec.count("core/env-file") != 2 || rec.count("core/tsconfig") != 2 {
		t.Errorf("forced phase must re-execute all its units: %v", rec.executions)
	}
	if rec.count("docker/db-compose") != 1 {
		t.Error("other phases must stay skipped")
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	summary, err := o.Run(ctx, Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if len(rec.executions) != 0 {
		t.Errorf("dry run must not execute units: %v", rec.executions)
	}
	if summary.WouldExecute != 3 {
		t.Errorf("expected 3 would-execute, got %+v", summary)
	}

	p, err := fx.store.Progress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p.Total != 0 {
		t.Errorf("dry run must write no records, store has %d keys", p.Total)
	}
	if _, _, ok, _ := fx.ckpt.Load(); ok {
		t.Error("dry run must leave the checkpoint untouched")
	}
}

func TestDryRunConsultsState(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	if err := fx.store.MarkResult(ctx, state.KindScript, "core/env-file", state.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	summary, err := o.Run(ctx, Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if summary.WouldExecute != 2 || summary.Skipped != 1 {
		t.Errorf("dry run must honor state checks: %+v", summary)
	}
}

func TestRunInstallsRequiredPackages(t *testing.T) {
	fx := newFixture(t)
	inst := &fakeInstaller{}

	executed := false
	phases, err := bootstrap.NewBuilder().
		Phase("foundation", "").
		Unit(&bootstrap.FuncUnit{
			UnitID: "core/validation",
			Packages: []installer.PackageRequest{
				{Name: "zod", Version: "^3.22.0"},
			},
			Fn: func(context.Context, *bootstrap.Env) bootstrap.Result {
				executed = true
				return bootstrap.Completed("")
			},
		}).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	o := New(phases, fx.store, fx.ckpt, WithInstaller(inst, installer.DefaultRetryPolicy()))
	if _, err := o.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(inst.requests) != 1 || inst.requests[0][0].Name != "zod" {
		t.Errorf("expected one install of zod, got %v", inst.requests)
	}
	if !executed {
		t.Error("unit must execute after its packages install")
	}
}

func TestRunHaltsWhenInstallFails(t *testing.T) {
	fx := newFixture(t)
	inst := &fakeInstaller{err: errors.New("registry down")}
	rec := &recorder{}

	phases, err := bootstrap.NewBuilder().
		Phase("foundation", "").
		Unit(&bootstrap.FuncUnit{
			UnitID:   "core/validation",
			Packages: []installer.PackageRequest{{Name: "zod"}},
			Fn: func(context.Context, *bootstrap.Env) bootstrap.Result {
				rec.executions = append(rec.executions, "core/validation")
				return bootstrap.Completed("")
			},
		}).
		Unit(rec.unit("core/tsconfig")).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	o := New(phases, fx.store, fx.ckpt, WithInstaller(inst, installer.DefaultRetryPolicy()))
	ctx := context.Background()

	_, runErr := o.Run(ctx, Options{})
	if runErr == nil {
		t.Fatal("expected run to fail")
	}
	if !bootstrap.IsInstall(runErr) {
		t.Errorf("expected an install-classified error, got %v", runErr)
	}
	if len(rec.executions) != 0 {
		t.Errorf("no unit may execute after an install failure: %v", rec.executions)
	}

	records, _ := fx.store.Records(ctx, state.KindScript, "core/validation")
	if len(records) == 0 || records[len(records)-1].Status != state.StatusFailed {
		t.Errorf("expected a failed record for the halted unit, got %v", records)
	}
}

func TestRunOnlyPhase(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	summary, err := o.Run(ctx, Options{OnlyPhase: "docker"})
	if err != nil {
		t.Fatalf("phase run failed: %v", err)
	}

	if rec.count("core/env-file") != 0 || rec.count("docker/db-compose") != 1 {
		t.Errorf("only the named phase may run: %v", rec.executions)
	}
	if summary.Executed != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	// Partial runs leave the checkpoint alone.
	if _, _, ok, _ := fx.ckpt.Load(); ok {
		t.Error("partial run must not write a checkpoint")
	}

	if _, err := o.Run(ctx, Options{OnlyPhase: "nope"}); err == nil {
		t.Error("expected error for unknown phase")
	}
}

func TestRunStartsFromCheckpointPhase(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)
	ctx := context.Background()

	// Checkpoint says the foundation phase is behind us, even though its
	// units have no records. The orchestrator trusts it for scan position.
	if err := fx.ckpt.Save("docker", ""); err != nil {
		t.Fatal(err)
	}

	summary, err := o.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.count("core/env-file") != 0 {
		t.Error("phases before the checkpoint must not be scanned")
	}
	if rec.count("docker/db-compose") != 1 {
		t.Error("checkpointed phase must execute")
	}
	if summary.Executed != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestRunIgnoresStaleCheckpoint(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)

	if err := fx.ckpt.Save("removed-phase", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := o.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rec.executions) != 3 {
		t.Errorf("stale checkpoint must fall back to a full scan: %v", rec.executions)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	fx := newFixture(t)
	rec := &recorder{}
	o := New(twoPhasePlan(t, rec), fx.store, fx.ckpt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := o.Run(ctx, Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if len(rec.executions) != 0 {
		t.Errorf("no unit may run after cancellation: %v", rec.executions)
	}
}
