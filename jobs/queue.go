package jobs

import (
	"database/sql"
	"sync"
	"time"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// SubscriberBufferSize is the buffer size for subscriber channels. Slow
// consumers drop updates rather than stall the queue.
const SubscriberBufferSize = 100

// Queue wraps the job store with subscriber fanout. Every state change is
// broadcast to subscribers so WebSocket clients see live job updates.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a queue backed by the given database.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

// Store exposes the underlying job store for read paths that bypass fanout.
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a job to the queue.
func (q *Queue) Enqueue(job *Job) error {
	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, "handler: "+job.HandlerName)
		err = errors.WithDetail(err, "source: "+job.Source)
		return err
	}

	logger.Debugw(sym.Pulse+" Job enqueued",
		"job_id", job.ID,
		"handler", job.HandlerName,
		"source", job.Source,
	)
	q.notifySubscribers(job)
	return nil
}

// EnqueueDeduped enqueues the job unless an active job with the same source
// and handler already exists, in which case the existing job is returned.
func (q *Queue) EnqueueDeduped(job *Job) (*Job, error) {
	existing, err := q.store.FindActiveJobBySourceAndHandler(job.Source, job.HandlerName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Debugw(sym.Pulse+" Duplicate job suppressed",
			"job_id", existing.ID,
			"handler", job.HandlerName,
			"source", job.Source,
		)
		return existing, nil
	}
	if err := q.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Dequeue claims the oldest queued job and marks it running. Returns nil
// when the queue is empty.
func (q *Queue) Dequeue() (*Job, error) {
	job, err := q.store.NextQueued()
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	job.Start()
	if err := q.store.UpdateJob(job); err != nil {
		return nil, errors.Wrapf(err, "failed to mark job %s running", job.ID)
	}

	q.notifySubscribers(job)
	return job, nil
}

// GetJob retrieves a job by ID.
func (q *Queue) GetJob(id string) (*Job, error) {
	return q.store.GetJob(id)
}

// UpdateJob persists job changes and notifies subscribers. Handlers call
// this to checkpoint progress mid-execution.
func (q *Queue) UpdateJob(job *Job) error {
	if err := q.store.UpdateJob(job); err != nil {
		return err
	}
	q.notifySubscribers(job)
	return nil
}

// PauseJob pauses a queued or running job.
func (q *Queue) PauseJob(id, reason string) error {
	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status != StatusQueued && job.Status != StatusRunning {
		return errors.NewInvalidInputError("cannot pause job %s in status %s", id, job.Status)
	}

	job.Pause(reason)
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to pause job %s", id)
	}

	logger.Infow(sym.Pulse+" Job paused", "job_id", id, "reason", reason)
	q.notifySubscribers(job)
	return nil
}

// ResumeJob returns a paused job to the queue.
func (q *Queue) ResumeJob(id string) error {
	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status != StatusPaused {
		return errors.NewInvalidInputError("cannot resume job %s in status %s", id, job.Status)
	}

	job.Resume()
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to resume job %s", id)
	}

	logger.Infow(sym.Pulse+" Job resumed", "job_id", id)
	q.notifySubscribers(job)
	return nil
}

// CompleteJob marks a job as completed. Children are left untouched; they
// finish or fail on their own.
func (q *Queue) CompleteJob(id string) error {
	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}

	job.Complete()
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to complete job %s", id)
	}

	logger.Infow(sym.Pulse+" Job completed",
		"job_id", id,
		"handler", job.HandlerName,
		"cost_actual", job.CostActual,
	)
	q.notifySubscribers(job)
	return nil
}

// FailJob marks a job as failed. Queued children are cancelled by the worker
// pool when it next sees them.
func (q *Queue) FailJob(id string, jobErr error) error {
	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}

	job.Fail(jobErr)
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to mark job %s failed", id)
	}

	logger.Warnw(sym.Pulse+" Job failed",
		"job_id", id,
		"handler", job.HandlerName,
		"error", jobErr,
	)
	q.notifySubscribers(job)
	return nil
}

// CancelJob cancels an active job.
func (q *Queue) CancelJob(id, reason string) error {
	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return errors.NewInvalidInputError("cannot cancel job %s in status %s", id, job.Status)
	}

	job.Cancel(reason)
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}

	logger.Infow(sym.Pulse+" Job cancelled", "job_id", id, "reason", reason)
	q.notifySubscribers(job)
	return nil
}

// Subscribe returns a channel receiving every job state change. The caller
// owns the channel and must Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed; the
// caller manages its lifecycle.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers broadcasts a job update without blocking. Full channels
// drop the update.
func (q *Queue) notifySubscribers(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}

// QueueStats summarizes job counts per status.
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// GetStats returns current queue statistics.
func (q *Queue) GetStats() (*QueueStats, error) {
	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Queued:    counts[StatusQueued],
		Running:   counts[StatusRunning],
		Paused:    counts[StatusPaused],
		Completed: counts[StatusCompleted],
		Failed:    counts[StatusFailed],
		Cancelled: counts[StatusCancelled],
	}
	stats.Total = stats.Queued + stats.Running + stats.Paused +
		stats.Completed + stats.Failed + stats.Cancelled
	return stats, nil
}

// GetJobCounts returns the queued and running counts used by system metrics.
func (q *Queue) GetJobCounts() (queued, running int, err error) {
	counts, err := q.store.CountByStatus()
	if err != nil {
		return 0, 0, err
	}
	return counts[StatusQueued], counts[StatusRunning], nil
}

// FindActiveJobBySourceAndHandler delegates to the store.
func (q *Queue) FindActiveJobBySourceAndHandler(source, handlerName string) (*Job, error) {
	return q.store.FindActiveJobBySourceAndHandler(source, handlerName)
}

// FindRecentJobBySourceAndHandler delegates to the store.
func (q *Queue) FindRecentJobBySourceAndHandler(source, handlerName string, within time.Duration) (*Job, error) {
	return q.store.FindRecentJobBySourceAndHandler(source, handlerName, within)
}

// Cleanup removes terminal jobs older than the retention window.
func (q *Queue) Cleanup(olderThan time.Duration) (int64, error) {
	return q.store.CleanupOldJobs(olderThan)
}
