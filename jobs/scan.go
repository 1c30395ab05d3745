package jobs

import (
	"database/sql"
	"encoding/json"

	"github.com/qacompanion/qac/errors"
)

// jobColumns is the canonical column list shared by every job SELECT. Order
// must match scanJob.
const jobColumns = `id, handler_name, source, status, progress_current, progress_total,
	cost_estimate, cost_actual, gate_state, payload, parent_job_id, retry_count, error,
	created_at, started_at, completed_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob reads one job row. Nullable columns round-trip through sql.Null*
// so empty strings never overwrite genuine NULLs.
func scanJob(row rowScanner) (*Job, error) {
	var (
		job         Job
		handlerName sql.NullString
		gateState   sql.NullString
		payload     sql.NullString
		parentJobID sql.NullString
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&handlerName,
		&job.Source,
		&job.Status,
		&job.Progress.Current,
		&job.Progress.Total,
		&job.CostEstimate,
		&job.CostActual,
		&gateState,
		&payload,
		&parentJobID,
		&job.RetryCount,
		&errMsg,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.HandlerName = handlerName.String
	job.ParentJobID = parentJobID.String
	job.Error = errMsg.String
	if payload.Valid && payload.String != "" {
		job.Payload = json.RawMessage(payload.String)
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if gateState.Valid {
		state, err := UnmarshalGateState(gateState.String)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt gate state for job %s", job.ID)
		}
		job.GateState = state
	}

	return &job, nil
}

// scanJobs drains a result set into a slice.
func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job row")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// nullString maps "" to NULL for optional text columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
