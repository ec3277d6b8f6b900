// Package track records run and stage-level progress in a local SQLite
// database. The record is purely observational: nothing in the engine reads
// it back during execution.
package track

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"volpipe/internal/graph"
)

// Store is a SQLite-backed run tracking store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the tracking database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		subject TEXT,
		backend TEXT,
		status TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS stage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		stage_id TEXT,
		state TEXT,
		created_at DATETIME
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tracking schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// BeginRun inserts the run record in state "running".
func (s *Store) BeginRun(runID, subject, backend string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, subject, backend, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, subject, backend, "running", now, now)
	return err
}

// FinishRun records the run's terminal status.
func (s *Store) FinishRun(runID, status string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), runID)
	return err
}

// StageEvent appends one stage state transition.
func (s *Store) StageEvent(runID, stageID string, st graph.State) error {
	_, err := s.db.Exec(
		`INSERT INTO stage_events (run_id, stage_id, state, created_at) VALUES (?, ?, ?, ?)`,
		runID, stageID, string(st), time.Now().UTC())
	return err
}

// StageEvents returns the recorded transitions of a run in insertion order.
func (s *Store) StageEvents(runID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT stage_id, state, created_at FROM stage_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.StageID, &e.State, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Event is one recorded stage transition.
type Event struct {
	StageID   string
	State     string
	CreatedAt time.Time
}

// RunStatus returns the stored status of a run.
func (s *Store) RunStatus(runID string) (string, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	return status, err
}

// Recorder adapts a Store into a scheduler observer for one run.
//
// Scheduler transitions happen under the scheduler lock, so recording is
// best-effort: a tracking write failure never fails the run.
type Recorder struct {
	Store *Store
	RunID string
}

func (r *Recorder) StageTransition(stageID string, st graph.State) {
	_ = r.Store.StageEvent(r.RunID, stageID, st)
}
