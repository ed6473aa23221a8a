// Package checkpoint persists the single resume pointer for a bootstrap run.
//
// The checkpoint is advisory: it lets the orchestrator skip straight to the
// phase it was working on, but the state store stays authoritative for
// whether any given unit ran. A missing or stale checkpoint costs a re-scan
// from the first phase, never correctness.
package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Keys in the persisted key-value file.
const (
	keyPhase     = "CHECKPOINT_PHASE"
	keyScript    = "CHECKPOINT_SCRIPT"
	keyTimestamp = "CHECKPOINT_TIMESTAMP"
)

// Manager reads and writes the checkpoint file. At most one checkpoint
// exists at a time; Save overwrites, Clear removes.
type Manager struct {
	path string
	now  func() time.Time
}

// NewManager creates a checkpoint manager for the given file path.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Manager{path: path, now: time.Now}, nil
}

// Save writes the resume pointer. unitID may be empty for phase-granularity
// resume. The write is atomic (temp file + rename) so a crash mid-save leaves
// either the old checkpoint or the new one, never a torn file.
func (m *Manager) Save(phaseID, unitID string) error {
	if phaseID == "" {
		return fmt.Errorf("phase id is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s\n", keyPhase, phaseID)
	if unitID != "" {
		fmt.Fprintf(&b, "%s=%s\n", keyScript, unitID)
	}
	fmt.Fprintf(&b, "%s=%s\n", keyTimestamp, m.now().Format(time.RFC3339))

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the resume pointer. ok is false when no checkpoint exists or the
// file is unreadable as a checkpoint; a corrupt checkpoint degrades to a full
// re-scan rather than an error.
func (m *Manager) Load() (phaseID, unitID string, ok bool, err error) {
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		values[k] = v
	}
	if err := scanner.Err(); err != nil {
		return "", "", false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	phaseID = values[keyPhase]
	if phaseID == "" {
		return "", "", false, nil
	}
	return phaseID, values[keyScript], true, nil
}

// Clear removes the checkpoint. A missing checkpoint is not an error.
func (m *Manager) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
