package ingest

import (
	"context"
	"encoding/json"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// progressCheckpointEvery bounds job-row writes during large runs.
const progressCheckpointEvery = 10

// FSPayload is the payload of an ingest.fs job.
type FSPayload struct {
	Source    string `json:"source"`
	Repo      string `json:"repo,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Recursive bool   `json:"recursive"`
}

// FSHandler executes ingest.fs jobs: resolve the source, run the pipeline,
// checkpoint progress on the job row so WebSocket clients can follow along.
type FSHandler struct {
	pipeline *Pipeline
	queue    *jobs.Queue
	cfg      config.IngestConfig
}

// NewFSHandler builds the filesystem ingestion handler.
func NewFSHandler(pipeline *Pipeline, queue *jobs.Queue, cfg config.IngestConfig) *FSHandler {
	return &FSHandler{pipeline: pipeline, queue: queue, cfg: cfg}
}

func (h *FSHandler) Name() string { return jobs.HandlerIngestFS }

func (h *FSHandler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload FSPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.NewInvalidInputError("ingest.fs payload is malformed: %v", err)
	}
	if payload.Source == "" {
		return errors.NewInvalidInputError("ingest.fs payload has no source")
	}
	if payload.Kind != "" && !artifact.ValidKind(artifact.Kind(payload.Kind)) {
		return errors.NewInvalidInputError("ingest.fs payload has unknown kind %q", payload.Kind)
	}

	src, err := Resolve(ctx, payload.Source)
	if err != nil {
		return err
	}
	defer src.Cleanup()

	repo := payload.Repo
	if repo == "" {
		repo = SourceName(payload.Source)
	}
	opts := Options{
		Recursive:     payload.Recursive,
		MaxFileSizeMB: float64(h.cfg.MaxFileSizeMB),
		Repo:          repo,
		Kind:          artifact.Kind(payload.Kind),
		Root:          src.LocalPath,
	}

	valid, skipped, err := h.pipeline.Plan(src.LocalPath, opts)
	if err != nil {
		return err
	}

	job.Progress.Total = len(valid)
	job.UpdateProgress(0)
	if err := h.queue.UpdateJob(job); err != nil {
		logger.Debugw(sym.IX+" Failed to checkpoint job before processing",
			"job_id", job.ID, "error", err)
	}

	runner := h.pipeline.WithEmitter(&jobProgressEmitter{job: job, queue: h.queue})
	result, err := runner.Execute(ctx, valid, skipped, payload.Source, opts)
	if err != nil {
		return err
	}
	if n := len(result.Failed); n > 0 {
		logger.Warnw(sym.IX+" Ingestion job finished with file failures",
			"job_id", job.ID,
			"failed", n,
		)
	}
	return nil
}

// jobProgressEmitter mirrors pipeline progress onto the job row. Writes are
// batched so a large run does not hammer the jobs table.
type jobProgressEmitter struct {
	NullEmitter
	job   *jobs.Job
	queue *jobs.Queue
}

func (e *jobProgressEmitter) EmitFile(index, total int, name string) {
	e.job.Progress.Total = total
	e.job.UpdateProgress(index)
	if index%progressCheckpointEvery == 0 || index == total {
		if err := e.queue.UpdateJob(e.job); err != nil {
			logger.Debugw(sym.IX+" Failed to checkpoint job progress",
				"job_id", e.job.ID, "error", err)
		}
	}
}

func (e *jobProgressEmitter) EmitError(stage string, err error) {
	logger.Warnw(sym.IX+" Ingestion stage error",
		"job_id", e.job.ID,
		"stage", stage,
		"error", err,
	)
}
