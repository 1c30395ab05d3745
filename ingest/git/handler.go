package git

import (
	"context"
	"encoding/json"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// checkpointEvery bounds job-row writes while walking commit history.
const checkpointEvery = 50

// Payload is the payload of an ingest.git job.
type Payload struct {
	Source string `json:"source"`
	Repo   string `json:"repo,omitempty"`
	Since  string `json:"since,omitempty"`
}

// Handler executes ingest.git jobs: resolve the source (cloning remotes into
// a temp dir), walk the history, checkpoint progress on the job row.
type Handler struct {
	ingester *Ingester
	queue    *jobs.Queue
}

// NewHandler builds the git ingestion handler.
func NewHandler(ingester *Ingester, queue *jobs.Queue) *Handler {
	return &Handler{ingester: ingester, queue: queue}
}

func (h *Handler) Name() string { return jobs.HandlerIngestGit }

func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.NewInvalidInputError("ingest.git payload is malformed: %v", err)
	}
	if payload.Source == "" {
		return errors.NewInvalidInputError("ingest.git payload has no source")
	}

	src, err := ingest.Resolve(ctx, payload.Source)
	if err != nil {
		return err
	}
	defer src.Cleanup()

	repo := payload.Repo
	if repo == "" {
		repo = ingest.SourceName(payload.Source)
	}

	runner := h.ingester.WithEmitter(&jobEmitter{job: job, queue: h.queue})
	result, err := runner.Ingest(ctx, src.LocalPath, Options{Repo: repo, Since: payload.Since})
	if err != nil {
		return err
	}

	// Total is unknowable until the walk finishes; settle it on the final
	// walked count the emitter recorded.
	job.Progress.Total = job.Progress.Current
	if err := h.queue.UpdateJob(job); err != nil {
		logger.Debugw(sym.IX+" Failed to checkpoint final job progress",
			"job_id", job.ID, "error", err)
	}

	logger.Infow(sym.IX+" Repository ingestion job finished",
		"job_id", job.ID,
		"repo", repo,
		"commits", result.Commits,
		"manifests", result.Manifests,
		"links", result.Links,
	)
	return nil
}

// jobEmitter mirrors walk progress onto the job row. Total stays zero until
// the handler settles it; clients show a spinner instead of a bar.
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
	logger.Warnw(sym.IX+" Repository ingestion stage error",
		"job_id", e.job.ID,
		"stage", stage,
		"error", err,
	)
}
