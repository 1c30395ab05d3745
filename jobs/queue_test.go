package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/errors"
	qactest "github.com/qacompanion/qac/internal/testing"
)

func recvJobUpdate(t *testing.T, ch chan *Job) *Job {
	t.Helper()
	select {
	case job := <-ch:
		return job
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job update")
		return nil
	}
}

func TestQueue_EnqueueAndDequeueFIFO(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	base := time.Now().UTC().Add(-time.Hour)

	first, err := NewJob("ingest.fs", "./first", nil, 0, 0)
	require.NoError(t, err)
	first.CreatedAt = base
	require.NoError(t, queue.Enqueue(first))

	second, err := NewJob("ingest.fs", "./second", nil, 0, 0)
	require.NoError(t, err)
	second.CreatedAt = base.Add(time.Minute)
	require.NoError(t, queue.Enqueue(second))

	got, err := queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	// The claim is persisted, so the next dequeue moves on.
	got, err = queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestQueue_Dequeue_Empty(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	job, err := queue.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_EnqueueDeduped(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	first, err := NewJob("ingest.fs", "./docs", nil, 0, 0)
	require.NoError(t, err)
	got, err := queue.EnqueueDeduped(first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	duplicate, err := NewJob("ingest.fs", "./docs", nil, 0, 0)
	require.NoError(t, err)
	got, err = queue.EnqueueDeduped(duplicate)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "active job for the same source and handler must be reused")

	// A different handler on the same source is real new work.
	gitJob, err := NewJob("ingest.git", "./docs", nil, 0, 0)
	require.NoError(t, err)
	got, err = queue.EnqueueDeduped(gitJob)
	require.NoError(t, err)
	assert.Equal(t, gitJob.ID, got.ID)
}

func TestQueue_PauseAndResume(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	job, err := NewJob("summarize.artifact", "art-1", nil, 1, 0.002)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(job))

	require.NoError(t, queue.PauseJob(job.ID, PauseReasonRateLimited))

	paused, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	require.NotNil(t, paused.GateState)
	assert.Equal(t, PauseReasonRateLimited, paused.GateState.PauseReason)

	err = queue.PauseJob(job.ID, PauseReasonRateLimited)
	require.Error(t, err, "pausing a paused job must fail")
	assert.True(t, errors.IsInvalidInput(err))

	require.NoError(t, queue.ResumeJob(job.ID))
	resumed, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, resumed.Status)

	err = queue.ResumeJob(job.ID)
	require.Error(t, err, "resuming a queued job must fail")
	assert.True(t, errors.IsInvalidInput(err))
}

func TestQueue_CompleteAndFail(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	job, err := NewJob("ingest.fs", "./docs", nil, 0, 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, queue.CompleteJob(job.ID))

	done, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	failing, err := NewJob("ingest.fs", "./broken", nil, 0, 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(failing))
	require.NoError(t, queue.FailJob(failing.ID, errors.New("loader crashed")))

	failed, err := queue.GetJob(failing.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "loader crashed", failed.Error)
}

func TestQueue_CancelJob(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	job, err := NewJob("ingest.fs", "./docs", nil, 0, 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(job))
	require.NoError(t, queue.CancelJob(job.ID, "user requested"))

	cancelled, err := queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "user requested", cancelled.Error)

	err = queue.CancelJob(job.ID, "again")
	require.Error(t, err, "cancelling a terminal job must fail")
	assert.True(t, errors.IsInvalidInput(err))
}

func TestQueue_SubscribeReceivesUpdates(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	ch := queue.Subscribe()
	defer queue.Unsubscribe(ch)

	job, err := NewJob("ingest.fs", "./docs", nil, 0, 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(job))

	update := recvJobUpdate(t, ch)
	assert.Equal(t, job.ID, update.ID)
	assert.Equal(t, StatusQueued, update.Status)

	_, err = queue.Dequeue()
	require.NoError(t, err)
	update = recvJobUpdate(t, ch)
	assert.Equal(t, StatusRunning, update.Status)

	require.NoError(t, queue.CompleteJob(job.ID))
	update = recvJobUpdate(t, ch)
	assert.Equal(t, StatusCompleted, update.Status)
}

func TestQueue_Unsubscribe(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	ch := queue.Subscribe()
	queue.Unsubscribe(ch)

	job, err := NewJob("ingest.fs", "./docs", nil, 0, 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(job))

	assert.Empty(t, ch, "unsubscribed channel must receive nothing")
}

func TestQueue_GetStats(t *testing.T) {
	db := qactest.CreateTestDB(t)
	queue := NewQueue(db)

	for _, status := range []Status{StatusQueued, StatusQueued, StatusRunning, StatusCompleted, StatusFailed} {
		job, err := NewJob("ingest.fs", "./src", nil, 0, 0)
		require.NoError(t, err)
		job.Status = status
		require.NoError(t, queue.Store().CreateJob(job))
	}

	stats, err := queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Paused)
	assert.Zero(t, stats.Cancelled)
	assert.Equal(t, 5, stats.Total)

	queued, running, err := queue.GetJobCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, 1, running)
}
