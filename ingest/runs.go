package ingest

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/qacompanion/qac/errors"
)

// Run is one ingestion run's report: what was processed, what was skipped,
// and how many chunks came out of it.
type Run struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Processed  int        `json:"processed"`
	Unchanged  int        `json:"unchanged"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Chunks     int        `json:"chunks"`
	Error      string     `json:"error,omitempty"`
}

// Duration is the wall-clock length of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStore persists run reports in the ingest_runs table.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a run store backed by db.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Begin records the start of a run and returns it with an assigned ID.
func (s *RunStore) Begin(source string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO ingest_runs (id, source, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Source, run.StartedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to record ingest run")
	}
	return run, nil
}

// Finish stamps the run as done and persists its counts.
func (s *RunStore) Finish(run *Run) error {
	now := time.Now().UTC()
	run.FinishedAt = &now

	var runErr sql.NullString
	if run.Error != "" {
		runErr = sql.NullString{String: run.Error, Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE ingest_runs
		 SET finished_at = ?, processed = ?, unchanged = ?, failed = ?, skipped = ?, chunks = ?, error = ?
		 WHERE id = ?`,
		run.FinishedAt, run.Processed, run.Unchanged, run.Failed, run.Skipped, run.Chunks, runErr, run.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to finish ingest run")
	}
	return nil
}

// Get returns one run by ID.
func (s *RunStore) Get(id string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, source, started_at, finished_at, processed, unchanged, failed, skipped, chunks, error
		 FROM ingest_runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("ingest run %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ingest run")
	}
	return run, nil
}

// Recent returns the latest runs, newest first.
func (s *RunStore) Recent(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, source, started_at, finished_at, processed, unchanged, failed, skipped, chunks, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ingest runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan ingest run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	var (
		run      Run
		finished sql.NullTime
		runErr   sql.NullString
	)
	err := row.Scan(&run.ID, &run.Source, &run.StartedAt, &finished,
		&run.Processed, &run.Unchanged, &run.Failed, &run.Skipped, &run.Chunks, &runErr)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	run.Error = runErr.String
	return &run, nil
}
