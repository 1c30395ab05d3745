// Package jobs provides the SQLite-backed async job queue and worker pool.
// Infrastructure here is domain-agnostic: handlers are registered by name and
// payloads are opaque JSON owned by the package that registers the handler.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/qacompanion/qac/errors"
)

// Status represents the current state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ValidStatus returns true if s is a known job status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses a job can never leave.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active returns true for statuses the worker pool still owns.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusPaused
}

// Pause reasons recorded in GateState when the worker pool halts a job.
const (
	PauseReasonRateLimited    = "rate_limited"
	PauseReasonBudgetExceeded = "budget_exceeded"
	PauseReasonUserRequested  = "user_requested"
)

// GateState carries the rate-limit and budget snapshot attached to a job when
// the worker pool's gates evaluate it. Persisted as JSON in jobs.gate_state.
type GateState struct {
	CallsThisMinute int     `json:"calls_this_minute,omitempty"`
	CallsRemaining  int     `json:"calls_remaining,omitempty"`
	SpendToday      float64 `json:"spend_today,omitempty"`
	SpendThisMonth  float64 `json:"spend_this_month,omitempty"`
	BudgetRemaining float64 `json:"budget_remaining,omitempty"`
	Paused          bool    `json:"paused,omitempty"`
	PauseReason     string  `json:"pause_reason,omitempty"`
}

// Progress tracks completed operations against a known total.
type Progress struct {
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`
}

// Percentage calculates progress as a percentage (0-100).
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job represents one unit of async work.
type Job struct {
	ID           string          `json:"id"`
	HandlerName  string          `json:"handler_name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Source       string          `json:"source"`
	Status       Status          `json:"status"`
	Progress     Progress        `json:"progress,omitempty"`
	CostEstimate float64         `json:"cost_estimate,omitempty"`
	CostActual   float64         `json:"cost_actual,omitempty"`
	GateState    *GateState      `json:"gate_state,omitempty"`
	Error        string          `json:"error,omitempty"`
	ParentJobID  string          `json:"parent_job_id,omitempty"`
	RetryCount   int             `json:"retry_count,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates a queued job for the named handler.
//
// Example:
//
//	payload, _ := json.Marshal(ingestPayload{Source: "./docs"})
//	job, _ := jobs.NewJob("ingest.fs", "./docs", payload, 0, 0)
func NewJob(handlerName, source string, payload json.RawMessage, totalOps int, costEstimate float64) (*Job, error) {
	return NewChildJob(handlerName, source, payload, totalOps, costEstimate, "")
}

// NewChildJob creates a queued job grouped under a parent job. The worker
// pool cancels queued children when their parent fails, is cancelled, or is
// deleted.
func NewChildJob(handlerName, source string, payload json.RawMessage, totalOps int, costEstimate float64, parentJobID string) (*Job, error) {
	if handlerName == "" {
		return nil, errors.NewInvalidInputError("handler name is required")
	}

	now := time.Now().UTC()
	return &Job{
		ID:           uuid.NewString(),
		HandlerName:  handlerName,
		Payload:      payload,
		Source:       source,
		Status:       StatusQueued,
		Progress:     Progress{Current: 0, Total: totalOps},
		CostEstimate: costEstimate,
		ParentJobID:  parentJobID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Start marks the job as running.
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Pause marks the job as paused and records the reason in the gate state.
func (j *Job) Pause(reason string) {
	j.Status = StatusPaused
	j.UpdatedAt = time.Now().UTC()
	if j.GateState == nil {
		j.GateState = &GateState{}
	}
	j.GateState.Paused = true
	j.GateState.PauseReason = reason
}

// Resume returns a paused job to the queue.
func (j *Job) Resume() {
	j.Status = StatusQueued
	j.UpdatedAt = time.Now().UTC()
	if j.GateState != nil {
		j.GateState.Paused = false
		j.GateState.PauseReason = ""
	}
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason.
func (j *Job) Cancel(reason string) {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// UpdateProgress sets the number of completed operations.
func (j *Job) UpdateProgress(current int) {
	j.Progress.Current = current
	j.UpdatedAt = time.Now().UTC()
}

// RecordCost adds to the actual cost incurred.
func (j *Job) RecordCost(cost float64) {
	j.CostActual += cost
	j.UpdatedAt = time.Now().UTC()
}

// SetGateState replaces the gate snapshot.
func (j *Job) SetGateState(state *GateState) {
	j.GateState = state
	j.UpdatedAt = time.Now().UTC()
}

// MarshalGateState converts a GateState to its stored JSON form. A nil state
// maps to the empty string so the column stays NULL-equivalent.
func MarshalGateState(state *GateState) (string, error) {
	if state == nil {
		return "", nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal gate state")
	}
	return string(data), nil
}

// UnmarshalGateState converts the stored JSON form back to a GateState.
func UnmarshalGateState(data string) (*GateState, error) {
	if data == "" {
		return nil, nil
	}
	var state GateState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal gate state")
	}
	return &state, nil
}
