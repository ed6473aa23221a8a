package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a SQLite database. Records live in a single
// autoincrement table, so the append-only contract and insertion-order
// tie-breaking carry over from the log store unchanged.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteStore creates a SQLite store instance for the given database path.
// Use ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path, now: time.Now}, nil
}

// Init opens the database connection, enables WAL mode, and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One orchestrator run owns the database at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// migrate applies the embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MarkInProgress appends an in_progress record for the key.
func (s *SQLiteStore) MarkInProgress(ctx context.Context, kind RecordKind, key string) error {
	return s.append(ctx, kind, key, StatusInProgress)
}

// MarkResult appends a terminal record for the key.
func (s *SQLiteStore) MarkResult(ctx context.Context, kind RecordKind, key string, status Status) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	return s.append(ctx, kind, key, status)
}

func (s *SQLiteStore) append(ctx context.Context, kind RecordKind, key string, status Status) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := status.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO records (kind, key, status, timestamp) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, string(kind), key, string(status), s.now().UTC()); err != nil {
		return fmt.Errorf("failed to append state record: %w", err)
	}
	return nil
}

// HasCompleted reports whether the latest record for the key is completed.
func (s *SQLiteStore) HasCompleted(ctx context.Context, kind RecordKind, key string) (bool, error) {
	query := `
		SELECT status FROM records
		WHERE kind = ? AND key = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`
	var status string
	err := s.db.QueryRowContext(ctx, query, string(kind), key).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query state record: %w", err)
	}
	return Status(status) == StatusCompleted, nil
}

// Records returns the full history for a key in insertion order.
func (s *SQLiteStore) Records(ctx context.Context, kind RecordKind, key string) ([]Record, error) {
	query := `
		SELECT kind, key, status, timestamp FROM records
		WHERE kind = ? AND key = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(kind), key)
	if err != nil {
		return nil, fmt.Errorf("failed to query state records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Kind, &r.Key, &r.Status, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan state record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read state records: %w", err)
	}
	return records, nil
}

// Progress returns informational counters over script records.
func (s *SQLiteStore) Progress(ctx context.Context) (Progress, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0)
		FROM (
			SELECT key, status,
			       ROW_NUMBER() OVER (PARTITION BY key ORDER BY timestamp DESC, id DESC) AS rn
			FROM records WHERE kind = 'SCRIPT'
		) WHERE rn = 1
	`
	var p Progress
	if err := s.db.QueryRowContext(ctx, query).Scan(&p.Total, &p.Done); err != nil {
		return Progress{}, fmt.Errorf("failed to query progress: %w", err)
	}
	return p, nil
}

// Reset discards all records.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
