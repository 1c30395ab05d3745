package summarize

import (
	"context"
	"encoding/json"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// Payload is the payload of a summarize.artifact job. One job summarizes one
// artifact; the pending sweep enqueues a job per artifact so the budget gate
// prices each summary individually.
type Payload struct {
	ArtifactID string `json:"artifact_id"`
}

// Handler executes summarize.artifact jobs.
type Handler struct {
	summarizer *Summarizer
}

// NewHandler builds the summarization job handler.
func NewHandler(summarizer *Summarizer) *Handler {
	return &Handler{summarizer: summarizer}
}

func (h *Handler) Name() string { return jobs.HandlerSummarize }

func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.NewInvalidInputError("summarize.artifact payload is malformed: %v", err)
	}
	if payload.ArtifactID == "" {
		return errors.NewInvalidInputError("summarize.artifact payload has no artifact id")
	}

	summary, err := h.summarizer.Summarize(ctx, payload.ArtifactID)
	if err != nil {
		return err
	}

	logger.Debugw(sym.Prose+" Summarization job finished",
		"job_id", job.ID,
		"artifact_id", summary.ArtifactID,
		"model", summary.Model,
	)
	return nil
}

// EnqueuePending queues one summarize.artifact job per artifact whose
// summary is missing or stale. Returns the jobs actually enqueued; artifacts
// already queued are skipped via dedup on their id.
func EnqueuePending(summarizer *Summarizer, queue *jobs.Queue, limit int, costEstimate float64) ([]*jobs.Job, error) {
	ids, err := summarizer.PendingArtifacts(limit)
	if err != nil {
		return nil, err
	}

	var queued []*jobs.Job
	for _, id := range ids {
		payload, err := json.Marshal(Payload{ArtifactID: id})
		if err != nil {
			return queued, errors.Wrap(err, "failed to marshal summarize payload")
		}
		job, err := jobs.NewJob(jobs.HandlerSummarize, id, payload, 1, costEstimate)
		if err != nil {
			return queued, err
		}
		enqueued, err := queue.EnqueueDeduped(job)
		if err != nil {
			return queued, err
		}
		if enqueued.ID == job.ID {
			queued = append(queued, enqueued)
		}
	}

	logger.Infow(sym.Prose+" Pending summaries queued",
		"pending", len(ids),
		"queued", len(queued),
	)
	return queued, nil
}
