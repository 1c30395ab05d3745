package trace

import (
	"context"
	"encoding/json"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// rescanLimit bounds a full rescan to the most recently updated artifacts
// per kind. Link upserts are idempotent, so periodic rescans converge.
const rescanLimit = 1000

// rescanSource dedupes full-rescan jobs: one active sweep at a time.
const rescanSource = "rescan"

// scannableKinds are the kinds ScanArtifact derives links from.
var scannableKinds = []artifact.Kind{
	artifact.KindCommit,
	artifact.KindRCA,
	artifact.KindTestResult,
}

// ScanPayload is the payload of a trace.scan job. An empty artifact id
// rescans every link-bearing artifact.
type ScanPayload struct {
	ArtifactID string `json:"artifact_id,omitempty"`
}

// ScanHandler executes trace.scan jobs.
type ScanHandler struct {
	artifacts *artifact.Store
	linker    *Linker
	queue     *jobs.Queue
}

// NewScanHandler builds the trace scan job handler.
func NewScanHandler(artifacts *artifact.Store, linker *Linker, queue *jobs.Queue) *ScanHandler {
	return &ScanHandler{artifacts: artifacts, linker: linker, queue: queue}
}

func (h *ScanHandler) Name() string { return jobs.HandlerTraceScan }

func (h *ScanHandler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload ScanPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errors.NewInvalidInputError("trace.scan payload is malformed: %v", err)
		}
	}

	if payload.ArtifactID != "" {
		a, err := h.artifacts.Get(payload.ArtifactID)
		if err != nil {
			return err
		}
		links, err := h.linker.ScanArtifact(a)
		if err != nil {
			return err
		}
		logger.Debugw(sym.Trace+" Scan job finished",
			"job_id", job.ID,
			"artifact_id", a.ID,
			"links", len(links),
		)
		return nil
	}

	return h.rescanAll(ctx, job)
}

// rescanAll sweeps the scannable kinds and re-derives heuristic links.
func (h *ScanHandler) rescanAll(ctx context.Context, job *jobs.Job) error {
	var pending []*artifact.Artifact
	for _, kind := range scannableKinds {
		batch, err := h.artifacts.List(artifact.ListOptions{Kind: kind, Limit: rescanLimit})
		if err != nil {
			return err
		}
		pending = append(pending, batch...)
	}

	job.Progress.Total = len(pending)
	job.UpdateProgress(0)
	if err := h.queue.UpdateJob(job); err != nil {
		logger.Debugw(sym.Trace+" Failed to checkpoint scan job", "job_id", job.ID, "error", err)
	}

	linked := 0
	for i, a := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		links, err := h.linker.ScanArtifact(a)
		if err != nil {
			return errors.Wrapf(err, "failed to scan artifact %s", a.ID)
		}
		linked += len(links)

		job.UpdateProgress(i + 1)
		if (i+1)%50 == 0 || i+1 == len(pending) {
			if err := h.queue.UpdateJob(job); err != nil {
				logger.Debugw(sym.Trace+" Failed to checkpoint scan job", "job_id", job.ID, "error", err)
			}
		}
	}

	logger.Infow(sym.Trace+" Rescan finished",
		"job_id", job.ID,
		"scanned", len(pending),
		"links", linked,
	)
	return nil
}

// EnqueueRescan queues one deduped full link rescan. Ingesters call it after
// new bug reports land, so commits stored earlier pick up links to them.
func EnqueueRescan(queue *jobs.Queue) {
	job, err := jobs.NewJob(jobs.HandlerTraceScan, rescanSource, nil, 0, 0)
	if err != nil {
		logger.Warnw(sym.Trace+" Failed to build rescan job", "error", err)
		return
	}
	queued, err := queue.EnqueueDeduped(job)
	if err != nil {
		logger.Warnw(sym.Trace+" Failed to enqueue rescan job", "error", err)
		return
	}
	logger.Debugw(sym.Trace+" Link rescan queued", "job_id", queued.ID)
}
