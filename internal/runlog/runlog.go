// Package runlog keeps a small SQLite history of generation runs under
// the configured root. Recording is best-effort: a failure here never
// fails the run that produced the configuration.
package runlog

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// DefaultPath is the run-log location relative to the root.
const DefaultPath = "run/netplan/generate.db"

// Run is one recorded generation run.
type Run struct {
	ID          string
	StartedAt   time.Time
	SourceCount int
	Definitions int
	Routes      int
	Rules       int
	Managed     bool
	Fingerprint string
}

// NewRunID returns a time-sortable run identifier.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Store is the SQLite-backed run log.
type Store struct {
	db *sql.DB
}

// Open creates or opens the run log at the given path, creating parent
// directories as needed. Idempotent.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating run-log directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to run log: %w", err)
	}

	// SQLite supports one writer at a time; the run log has exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one run to the log.
func (s *Store) Record(run Run) error {
	managed := 0
	if run.Managed {
		managed = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, source_count, definitions, routes, rules, managed, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.SourceCount,
		run.Definitions,
		run.Routes,
		run.Rules,
		managed,
		run.Fingerprint,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, source_count, definitions, routes, rules, managed, fingerprint
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt string
		var managed int
		if err := rows.Scan(&run.ID, &startedAt, &run.SourceCount, &run.Definitions, &run.Routes, &run.Rules, &managed, &run.Fingerprint); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at %q: %w", startedAt, err)
		}
		run.Managed = managed != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if needed and records the schema version
// via user_version. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("setting user_version: %w", err)
	}
	return nil
}
