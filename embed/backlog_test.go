package embed

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	qactest "github.com/qacompanion/qac/internal/testing"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/search"
)

type backlogFixture struct {
	artifacts *artifact.Store
	index     *search.Store
	queue     *jobs.Queue
	service   *fakeService
}

func newBacklogFixture(t *testing.T) *backlogFixture {
	t.Helper()
	db := qactest.CreateTestDB(t)
	return &backlogFixture{
		artifacts: artifact.NewStore(db),
		index:     search.NewStore(db, "all-minilm", 384),
		queue:     jobs.NewQueue(db),
		service:   newFakeService("all-minilm", 384),
	}
}

// seedUnembeddedChunks stores one artifact with n chunks and no vectors.
func (f *backlogFixture) seedUnembeddedChunks(t *testing.T, n int) {
	t.Helper()

	content := fmt.Sprintf("gateway retry handling across %d sections", n)
	saved, _, err := f.artifacts.Save(&artifact.Draft{
		Kind:     artifact.KindDesignDoc,
		SourceID: "docs/" + artifact.Fingerprint(content)[:12],
		Title:    "Gateway retry handling",
		Content:  content,
		Repo:     "acme/payments",
	})
	require.NoError(t, err)

	chunks := make([]artifact.Chunk, n)
	for i := range chunks {
		text := fmt.Sprintf("section %d: retries back off exponentially", i)
		chunks[i] = artifact.Chunk{
			ID:         artifact.ChunkID(saved.ID, text),
			ArtifactID: saved.ID,
			Seq:        i,
			Content:    text,
			WordCount:  len(strings.Fields(text)),
		}
	}
	require.NoError(t, f.artifacts.ReplaceChunks(saved.ID, chunks))
}

func (f *backlogFixture) newJob(t *testing.T) *jobs.Job {
	t.Helper()
	job, err := jobs.NewJob(jobs.HandlerEmbedBacklog, "backlog", nil, 0, 0)
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(job))
	return job
}

func TestBacklogHandler_Name(t *testing.T) {
	h := NewBacklogHandler(nil, nil, nil, nil, 0)
	assert.Equal(t, jobs.HandlerEmbedBacklog, h.Name())
}

func TestBacklogHandler_DefaultBatchSize(t *testing.T) {
	h := NewBacklogHandler(nil, nil, nil, nil, 0)
	assert.Equal(t, defaultBacklogBatch, h.batchSize)

	h = NewBacklogHandler(nil, nil, nil, nil, 8)
	assert.Equal(t, 8, h.batchSize)
}

func TestBacklogHandler_EmptyBacklog(t *testing.T) {
	f := newBacklogFixture(t)
	h := NewBacklogHandler(f.artifacts, f.service, f.index, f.queue, 0)

	err := h.Execute(context.Background(), f.newJob(t))
	require.NoError(t, err)

	assert.Zero(t, f.service.embedCalls.Load())

	count, err := f.index.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBacklogHandler_DrainsBacklog(t *testing.T) {
	f := newBacklogFixture(t)
	f.seedUnembeddedChunks(t, 5)
	h := NewBacklogHandler(f.artifacts, f.service, f.index, f.queue, 0)

	job := f.newJob(t)
	require.NoError(t, h.Execute(context.Background(), job))

	remaining, err := f.artifacts.CountChunksWithoutEmbedding()
	require.NoError(t, err)
	assert.Zero(t, remaining)

	count, err := f.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	assert.Equal(t, 5, job.Progress.Total)
	assert.Equal(t, 5, job.Progress.Current)
}

func TestBacklogHandler_EmbedsInBatches(t *testing.T) {
	f := newBacklogFixture(t)
	f.seedUnembeddedChunks(t, 5)
	h := NewBacklogHandler(f.artifacts, f.service, f.index, f.queue, 2)

	require.NoError(t, h.Execute(context.Background(), f.newJob(t)))

	// 5 chunks at batch size 2: batches of 2, 2, 1.
	assert.Equal(t, int64(3), f.service.embedCalls.Load())
}

func TestBacklogHandler_IsResumable(t *testing.T) {
	f := newBacklogFixture(t)
	f.seedUnembeddedChunks(t, 3)
	h := NewBacklogHandler(f.artifacts, f.service, f.index, f.queue, 0)

	require.NoError(t, h.Execute(context.Background(), f.newJob(t)))

	// A second run finds nothing left to embed and does no extra work.
	calls := f.service.embedCalls.Load()
	require.NoError(t, h.Execute(context.Background(), f.newJob(t)))
	assert.Equal(t, calls, f.service.embedCalls.Load())
}

func TestBacklogHandler_ContextCancelled(t *testing.T) {
	f := newBacklogFixture(t)
	f.seedUnembeddedChunks(t, 3)
	h := NewBacklogHandler(f.artifacts, f.service, f.index, f.queue, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Execute(ctx, f.newJob(t))
	require.ErrorIs(t, err, context.Canceled)

	count, err := f.index.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBacklogHandler_EmbedErrorPropagates(t *testing.T) {
	f := newBacklogFixture(t)
	f.seedUnembeddedChunks(t, 3)
	f.service.embedErr = errors.New("embedding backend unreachable")
	h := NewBacklogHandler(f.artifacts, f.service, f.index, f.queue, 0)

	err := h.Execute(context.Background(), f.newJob(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding backend unreachable")

	// Nothing indexed: the chunks stay in the backlog for the retry.
	remaining, countErr := f.artifacts.CountChunksWithoutEmbedding()
	require.NoError(t, countErr)
	assert.Equal(t, 3, remaining)
}
