package state

import (
	"context"
	"fmt"
	"time"
)

// Status represents the recorded outcome of a unit of work or a phase.
type Status string

const (
	// StatusPending indicates no record exists for the key yet.
	StatusPending Status = "pending"

	// StatusInProgress indicates execution has started but not finished.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates execution finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates execution finished with an error.
	StatusFailed Status = "failed"

	// StatusSkipped indicates execution was skipped because the work was
	// already recorded as completed.
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status represents a final outcome.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// RecordKind distinguishes the two key namespaces tracked by the store.
type RecordKind string

const (
	// KindScript records the outcome of a single unit of work.
	KindScript RecordKind = "SCRIPT"

	// KindPhase records the outcome of a whole phase.
	KindPhase RecordKind = "PHASE"
)

// Validate checks if the record kind is valid.
func (k RecordKind) Validate() error {
	switch k {
	case KindScript, KindPhase:
		return nil
	default:
		return fmt.Errorf("invalid record kind: %s", k)
	}
}

// Record is one appended fact about a key's outcome. Records are never
// mutated; the current status of a key is the status of its most recent
// record.
type Record struct {
	Kind      RecordKind `json:"kind"`
	Key       string     `json:"key"`
	Status    Status     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// Progress holds informational counters derived from the store. It is
// reporting-only; the orchestrator never bases control flow on it.
type Progress struct {
	// Done is the number of distinct script keys whose latest record is
	// completed.
	Done int `json:"done"`

	// Total is the number of distinct script keys with at least one record.
	Total int `json:"total"`
}

// Store is the durable, append-oriented record of execution outcomes.
//
// Implementations must be append-only: MarkInProgress and MarkResult add
// records, they never rewrite history. The current status of a key is the
// status of its latest record (latest timestamp, ties broken by insertion
// order). A failure to append is fatal to the caller: a bootstrap that cannot
// durably record progress must not proceed.
type Store interface {
	// MarkInProgress appends an in_progress record for the key.
	MarkInProgress(ctx context.Context, kind RecordKind, key string) error

	// MarkResult appends a terminal record for the key.
	MarkResult(ctx context.Context, kind RecordKind, key string, status Status) error

	// HasCompleted reports whether the most recent record for the key has
	// status completed. Missing keys and failed or in_progress records all
	// return false, so incomplete work is always re-executed rather than
	// silently skipped.
	HasCompleted(ctx context.Context, kind RecordKind, key string) (bool, error)

	// Records returns the full history for a key in insertion order.
	Records(ctx context.Context, kind RecordKind, key string) ([]Record, error)

	// Progress returns informational counters over script records.
	Progress(ctx context.Context) (Progress, error)

	// Reset discards all records. Used by the operator-facing reset command.
	Reset(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// ValidateKey rejects keys that would corrupt the persisted record format.
// Keys are embedded in colon-separated log lines, so they must be non-empty
// and colon-free.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	for _, r := range key {
		if r == ':' || r == '\n' {
			return fmt.Errorf("key %q contains a reserved character", key)
		}
	}
	return nil
}
