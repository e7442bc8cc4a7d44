// Package history persists provision runs in a local SQLite ledger so
// operators can see what the provisioner actually did on a bench machine
// after the fact.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeBestEffort Outcome = "best_effort" // finished with swallowed step failures
)

// Run is one provisioner invocation.
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Outcome         Outcome
	ManifestPath    string
	DependencyCount int
	PythonVersion   string
}

// Step is one recorded step within a run.
type Step struct {
	RunID      string
	Name       string
	ExitCode   int
	Duration   time.Duration
	OutputTail string
}

// Store is the SQLite-backed ledger.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open initializes the ledger database at the given path, creating the
// directory and schema as needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("history: failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			outcome TEXT,
			manifest_path TEXT,
			dependency_count INTEGER DEFAULT 0,
			python_version TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			exit_code INTEGER,
			duration_ms INTEGER,
			output_tail TEXT,
			FOREIGN KEY(run_id) REFERENCES runs(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run ON run_steps(run_id);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("history: failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a provision run and returns its id.
func (s *Store) BeginRun(manifestPath, pythonVersion string, dependencyCount int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at, manifest_path, dependency_count, python_version)
		 VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), manifestPath, dependencyCount, pythonVersion,
	)
	if err != nil {
		return "", fmt.Errorf("history: failed to begin run: %w", err)
	}
	return id, nil
}

// RecordStep appends a step result to a run.
func (s *Store) RecordStep(step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO run_steps (run_id, name, exit_code, duration_ms, output_tail)
		 VALUES (?, ?, ?, ?, ?)`,
		step.RunID, step.Name, step.ExitCode, step.Duration.Milliseconds(), step.OutputTail,
	)
	if err != nil {
		return fmt.Errorf("history: failed to record step: %w", err)
	}
	return nil
}

// FinishRun marks a run as complete with its outcome.
func (s *Store) FinishRun(id string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ?`,
		time.Now().UTC(), outcome, id,
	)
	if err != nil {
		return fmt.Errorf("history: failed to finish run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, COALESCE(finished_at, started_at), COALESCE(outcome, ''),
		        COALESCE(manifest_path, ''), dependency_count, COALESCE(python_version, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var outcome string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &outcome,
			&r.ManifestPath, &r.DependencyCount, &r.PythonVersion); err != nil {
			return nil, fmt.Errorf("history: failed to scan run: %w", err)
		}
		r.Outcome = Outcome(outcome)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StepsForRun returns the recorded steps of a run in execution order.
func (s *Store) StepsForRun(runID string) ([]Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT run_id, name, exit_code, duration_ms, COALESCE(output_tail, '')
		 FROM run_steps WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		var durationMs int64
		if err := rows.Scan(&st.RunID, &st.Name, &st.ExitCode, &durationMs, &st.OutputTail); err != nil {
			return nil, fmt.Errorf("history: failed to scan step: %w", err)
		}
		st.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
