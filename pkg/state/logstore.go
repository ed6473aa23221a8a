package state

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// timestampFormat is the wire format for record timestamps. It contains
// colons, so readers must split log lines into at most four fields.
const timestampFormat = time.RFC3339Nano

// LogStore is a Store backed by a sequential text log. Each line is one
// record of the shape KIND:KEY:STATUS:TIMESTAMP. The file is only ever
// appended to; status resolution scans from the top and keeps the last
// record per (KIND, KEY).
//
// The record count is small (tens of units, one storage round trip per unit),
// so the sequential scan is deliberate. A single process owns the file at a
// time; concurrent orchestrator runs against the same log are out of contract.
type LogStore struct {
	path string

	mu  sync.Mutex
	now func() time.Time
}

// NewLogStore creates a log store at the given path. The file is created on
// first append; the parent directory must exist or be creatable.
func NewLogStore(path string) (*LogStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &LogStore{path: path, now: time.Now}, nil
}

// MarkInProgress appends an in_progress record for the key.
func (s *LogStore) MarkInProgress(ctx context.Context, kind RecordKind, key string) error {
	return s.append(ctx, kind, key, StatusInProgress)
}

// MarkResult appends a terminal record for the key.
func (s *LogStore) MarkResult(ctx context.Context, kind RecordKind, key string, status Status) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	return s.append(ctx, kind, key, status)
}

func (s *LogStore) append(ctx context.Context, kind RecordKind, key string, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := kind.Validate(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := status.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open state log: %w", err)
	}

	line := fmt.Sprintf("%s:%s:%s:%s\n", kind, key, status, s.now().Format(timestampFormat))
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append state record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync state log: %w", err)
	}
	return f.Close()
}

// HasCompleted reports whether the latest record for the key is completed.
func (s *LogStore) HasCompleted(ctx context.Context, kind RecordKind, key string) (bool, error) {
	records, err := s.Records(ctx, kind, key)
	if err != nil {
		return false, err
	}
	return resolve(records) == StatusCompleted, nil
}

// Records returns the full history for a key in insertion order.
func (s *LogStore) Records(ctx context.Context, kind RecordKind, key string) ([]Record, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.Kind == kind && r.Key == key {
			out = append(out, r)
		}
	}
	return out, nil
}

// Progress returns informational counters over script records.
func (s *LogStore) Progress(ctx context.Context) (Progress, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return Progress{}, err
	}
	byKey := make(map[string][]Record)
	for _, r := range all {
		if r.Kind == KindScript {
			byKey[r.Key] = append(byKey[r.Key], r)
		}
	}
	p := Progress{Total: len(byKey)}
	for _, records := range byKey {
		if resolve(records) == StatusCompleted {
			p.Done++
		}
	}
	return p, nil
}

// Reset discards all records by truncating the log.
func (s *LogStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset state log: %w", err)
	}
	return nil
}

// Close is a no-op; the log file is opened per append.
func (s *LogStore) Close() error {
	return nil
}

// scan reads the whole log into memory. Malformed lines are skipped rather
// than aborting the scan, so a torn final write from a crashed run does not
// brick resume.
func (s *LogStore) scan(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open state log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		r, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read state log: %w", err)
	}
	return records, nil
}

// parseLine parses KIND:KEY:STATUS:TIMESTAMP. The timestamp is RFC3339 and
// contains colons itself, so the line is split into at most four fields.
func parseLine(line string) (Record, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Record{}, false
	}
	parts := strings.SplitN(line, ":", 4)
	if len(parts) != 4 {
		return Record{}, false
	}
	r := Record{
		Kind:   RecordKind(parts[0]),
		Key:    parts[1],
		Status: Status(parts[2]),
	}
	if r.Kind.Validate() != nil || r.Status.Validate() != nil {
		return Record{}, false
	}
	ts, err := time.Parse(timestampFormat, parts[3])
	if err != nil {
		return Record{}, false
	}
	r.Timestamp = ts
	return r, true
}

// resolve returns the authoritative status for a key's history: the record
// with the latest timestamp wins, and equal timestamps fall to the later
// record (last write wins). An empty history is pending.
func resolve(records []Record) Status {
	if len(records) == 0 {
		return StatusPending
	}
	best := records[0]
	for _, r := range records[1:] {
		if !r.Timestamp.Before(best.Timestamp) {
			best = r
		}
	}
	return best.Status
}
