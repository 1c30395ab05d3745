package github

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// checkpointEvery bounds job-row writes while storing fetched items.
const checkpointEvery = 50

// Payload is the payload of an ingest.github job.
type Payload struct {
	Source string   `json:"source"`           // owner/repo
	Repo   string   `json:"repo,omitempty"`   // artifact repo label override
	State  string   `json:"state,omitempty"`  // open, closed, all
	Since  string   `json:"since,omitempty"`  // RFC3339 timestamp or date
	Labels []string `json:"labels,omitempty"` // issue label filter
}

// Handler executes ingest.github jobs, mirroring API pull progress onto the
// job row.
type Handler struct {
	ingester *Ingester
	queue    *jobs.Queue
}

// NewHandler builds the GitHub ingestion handler.
func NewHandler(ingester *Ingester, queue *jobs.Queue) *Handler {
	return &Handler{ingester: ingester, queue: queue}
}

func (h *Handler) Name() string { return jobs.HandlerIngestGitHub }

func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.NewInvalidInputError("ingest.github payload is malformed: %v", err)
	}
	if payload.Source == "" {
		return errors.NewInvalidInputError("ingest.github payload has no source repository")
	}

	since, err := parseSince(payload.Since)
	if err != nil {
		return err
	}

	runner := h.ingester.WithEmitter(&jobEmitter{job: job, queue: h.queue})
	result, err := runner.Ingest(ctx, payload.Source, Options{
		Repo:   payload.Repo,
		State:  payload.State,
		Since:  since,
		Labels: payload.Labels,
	})
	if err != nil {
		return err
	}

	// Item counts are only known once the API pages are fetched; settle
	// the total on what the emitter recorded.
	job.Progress.Total = job.Progress.Current
	if err := h.queue.UpdateJob(job); err != nil {
		logger.Debugw(sym.IX+" Failed to checkpoint final job progress",
			"job_id", job.ID, "error", err)
	}

	logger.Infow(sym.IX+" GitHub ingestion job finished",
		"job_id", job.ID,
		"repo", payload.Source,
		"issues", result.Issues,
		"pulls", result.Pulls,
	)
	return nil
}

// parseSince accepts an RFC3339 timestamp or a date.
func parseSince(since string) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, since); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", since); err == nil {
		return t, nil
	}
	return time.Time{}, errors.NewInvalidInputError(
		"cannot parse since value %q: use an RFC3339 timestamp or a date", since)
}

// jobEmitter mirrors store progress onto the job row.
type jobEmitter struct {
	ingest.NullEmitter
	job   *jobs.Job
	queue *jobs.Queue
}

func (e *jobEmitter) EmitProgress(count int, _ map[string]interface{}) {
	e.job.UpdateProgress(count)
	if count%checkpointEvery == 0 {
		if err := e.queue.UpdateJob(e.job); err != nil {
			logger.Debugw(sym.IX+" Failed to checkpoint job progress",
				"job_id", e.job.ID, "error", err)
		}
	}
}

func (e *jobEmitter) EmitError(stage string, err error) {
	logger.Warnw(sym.IX+" GitHub ingestion stage error",
		"job_id", e.job.ID,
		"stage", stage,
		"error", err,
	)
}
