package embed

import (
	"context"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/sym"
)

// defaultBacklogBatch is the per-round chunk count when no batch size is
// configured.
const defaultBacklogBatch = 32

// BacklogHandler executes embed.backlog jobs: it drains chunks that have no
// vector yet, embedding them in batches and writing them to the index.
// Ingestion stays fast because it only enqueues this job; the vectors catch
// up here.
type BacklogHandler struct {
	artifacts *artifact.Store
	service   Service
	index     *search.Store
	queue     *jobs.Queue
	batchSize int
}

// NewBacklogHandler builds the embedding backlog handler.
func NewBacklogHandler(artifacts *artifact.Store, service Service, index *search.Store, queue *jobs.Queue, batchSize int) *BacklogHandler {
	if batchSize <= 0 {
		batchSize = defaultBacklogBatch
	}
	return &BacklogHandler{
		artifacts: artifacts,
		service:   service,
		index:     index,
		queue:     queue,
		batchSize: batchSize,
	}
}

func (h *BacklogHandler) Name() string { return jobs.HandlerEmbedBacklog }

func (h *BacklogHandler) Execute(ctx context.Context, job *jobs.Job) error {
	total, err := h.artifacts.CountChunksWithoutEmbedding()
	if err != nil {
		return err
	}
	if total == 0 {
		logger.Debugw(sym.Embed + " Embedding backlog is empty")
		return nil
	}

	job.Progress.Total = total
	job.UpdateProgress(0)
	if err := h.queue.UpdateJob(job); err != nil {
		logger.Debugw(sym.Embed+" Failed to checkpoint backlog job", "job_id", job.ID, "error", err)
	}

	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks, err := h.artifacts.ChunksWithoutEmbedding(h.batchSize)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			break
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := h.service.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}

		items := make([]search.IndexItem, len(chunks))
		for i, c := range chunks {
			items[i] = search.IndexItem{ChunkID: c.ID, Vector: vectors[i]}
		}
		if err := h.index.IndexBatch(ctx, items); err != nil {
			return err
		}

		done += len(chunks)
		job.UpdateProgress(done)
		if err := h.queue.UpdateJob(job); err != nil {
			logger.Debugw(sym.Embed+" Failed to checkpoint backlog job", "job_id", job.ID, "error", err)
		}
	}

	logger.Infow(sym.Embed+" Embedding backlog drained",
		"job_id", job.ID,
		"embedded", done,
	)
	return nil
}
