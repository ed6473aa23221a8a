package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "checkpoint")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m, path
}

func TestCheckpointAbsentMeansStartFromBeginning(t *testing.T) {
	m, _ := newTestManager(t)

	phase, unit, ok, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ok {
		t.Errorf("expected no checkpoint, got phase=%q unit=%q", phase, unit)
	}
}

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Save("docker", "docker/db-compose"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	phase, unit, ok, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a checkpoint")
	}
	if phase != "docker" || unit != "docker/db-compose" {
		t.Errorf("unexpected pointer: phase=%q unit=%q", phase, unit)
	}
}

func TestCheckpointPhaseGranularity(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Save("services", ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	phase, unit, ok, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok || phase != "services" || unit != "" {
		t.Errorf("unexpected pointer: phase=%q unit=%q ok=%v", phase, unit, ok)
	}
}

func TestCheckpointSaveOverwrites(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Save("foundation", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Save("docker", ""); err != nil {
		t.Fatal(err)
	}

	phase, _, ok, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok || phase != "docker" {
		t.Errorf("expected latest save to win, got phase=%q ok=%v", phase, ok)
	}
}

func TestCheckpointClear(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Save("docker", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Errorf("clearing an absent checkpoint must not fail: %v", err)
	}

	_, _, ok, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ok {
		t.Error("expected no checkpoint after clear")
	}
}

func TestCheckpointPersistedFormat(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.Save("docker", "docker/db-compose"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read checkpoint file: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"CHECKPOINT_PHASE=docker\n",
		"CHECKPOINT_SCRIPT=docker/db-compose\n",
		"CHECKPOINT_TIMESTAMP=",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("checkpoint file missing %q:\n%s", want, content)
		}
	}
}

func TestCheckpointCorruptFileDegradesToRescan(t *testing.T) {
	m, path := newTestManager(t)

	if err := os.WriteFile(path, []byte("not a checkpoint\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, ok, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ok {
		t.Error("corrupt checkpoint must read as absent")
	}
}
