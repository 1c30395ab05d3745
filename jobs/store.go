package jobs

import (
	"database/sql"
	"time"

	"github.com/qacompanion/qac/errors"
)

// DefaultListLimit bounds job listings when the caller does not specify one.
const DefaultListLimit = 100

// Store persists jobs in the jobs table.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(job *Job) error {
	gateState, err := MarshalGateState(job.GateState)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		nullString(job.HandlerName),
		job.Source,
		string(job.Status),
		job.Progress.Current,
		job.Progress.Total,
		job.CostEstimate,
		job.CostActual,
		nullString(gateState),
		nullString(string(job.Payload)),
		nullString(job.ParentJobID),
		job.RetryCount,
		nullString(job.Error),
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("job %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// UpdateJob writes the job's mutable fields back to the database.
func (s *Store) UpdateJob(job *Job) error {
	gateState, err := MarshalGateState(job.GateState)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE jobs SET
			status = ?,
			progress_current = ?,
			progress_total = ?,
			cost_estimate = ?,
			cost_actual = ?,
			gate_state = ?,
			payload = ?,
			retry_count = ?,
			error = ?,
			started_at = ?,
			completed_at = ?,
			updated_at = ?
		WHERE id = ?`,
		string(job.Status),
		job.Progress.Current,
		job.Progress.Total,
		job.CostEstimate,
		job.CostActual,
		nullString(gateState),
		nullString(string(job.Payload)),
		job.RetryCount,
		nullString(job.Error),
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("job %s", job.ID)
	}
	return nil
}

// ListJobs returns jobs ordered newest first, optionally filtered by status.
func (s *Store) ListJobs(status *Status, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = s.db.Query(`
			SELECT `+jobColumns+` FROM jobs
			WHERE status = ?
			ORDER BY created_at DESC
			LIMIT ?`, string(*status), limit)
	} else {
		rows, err = s.db.Query(`
			SELECT `+jobColumns+` FROM jobs
			ORDER BY created_at DESC
			LIMIT ?`, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	return scanJobs(rows)
}

// ListActive returns queued, running, and paused jobs, newest first.
func (s *Store) ListActive(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?, ?)
		ORDER BY created_at DESC
		LIMIT ?`,
		string(StatusQueued), string(StatusRunning), string(StatusPaused), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	return scanJobs(rows)
}

// NextQueued returns the oldest queued job, or nil when the queue is empty.
// Dequeue order is FIFO on created_at.
func (s *Store) NextQueued() (*Job, error) {
	row := s.db.QueryRow(`
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC, id ASC
		LIMIT 1`)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to fetch next queued job")
	}
	return job, nil
}

// ListJobsByParent returns all children of a parent job, oldest first.
func (s *Store) ListJobsByParent(parentJobID string) ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE parent_job_id = ?
		ORDER BY created_at ASC`, parentJobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list jobs for parent %s", parentJobID)
	}
	return scanJobs(rows)
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check delete result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

// CleanupOldJobs deletes terminal jobs whose last update is older than the
// retention window. Returns the number of jobs removed.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := s.db.Exec(`
		DELETE FROM jobs
		WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled), cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up old jobs")
	}
	return result.RowsAffected()
}

// FindActiveJobBySourceAndHandler returns an active job matching source and
// handler, or nil when none exists. Used to dedupe enqueues.
func (s *Store) FindActiveJobBySourceAndHandler(source, handlerName string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobColumns+` FROM jobs
		WHERE source = ? AND handler_name = ? AND status IN (?, ?, ?)
		ORDER BY created_at DESC
		LIMIT 1`,
		source, handlerName,
		string(StatusQueued), string(StatusRunning), string(StatusPaused))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find active job")
	}
	return job, nil
}

// FindRecentJobBySourceAndHandler returns the most recent terminal job for
// source and handler completed within the window, or nil when none exists.
func (s *Store) FindRecentJobBySourceAndHandler(source, handlerName string, within time.Duration) (*Job, error) {
	cutoff := time.Now().UTC().Add(-within)

	row := s.db.QueryRow(`
		SELECT `+jobColumns+` FROM jobs
		WHERE source = ? AND handler_name = ?
			AND status IN (?, ?)
			AND completed_at > ?
		ORDER BY completed_at DESC
		LIMIT 1`,
		source, handlerName,
		string(StatusCompleted), string(StatusFailed), cutoff)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find recent job")
	}
	return job, nil
}

// CountByStatus returns job counts per status in one pass.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
