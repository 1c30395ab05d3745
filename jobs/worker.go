package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

const (
	// MaxOrphanedJobsToRecover caps how many orphaned jobs are recovered on
	// startup so a crash with a huge backlog cannot overwhelm the system.
	MaxOrphanedJobsToRecover = 1000

	// MaxRetries is the maximum number of retry attempts for failed jobs.
	MaxRetries = 2
)

// BudgetGate guards jobs against spend overruns.
type BudgetGate interface {
	Check(estimatedCost float64) error
	Status() (*BudgetStatus, error)
}

// RateGate guards jobs against model-call rate violations.
type RateGate interface {
	Allow() error
	Stats() (callsInWindow, remaining int)
}

// starting logs a worker-pool opening event.
func starting(msg string, keysAndValues ...interface{}) {
	logger.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// closing logs a worker-pool closing event.
func closing(msg string, keysAndValues ...interface{}) {
	logger.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// WorkerPoolConfig contains configuration for the worker pool.
type WorkerPoolConfig struct {
	Workers            int           `json:"workers"`
	PollInterval       time.Duration `json:"poll_interval"`
	PauseOnBudget      bool          `json:"pause_on_budget"`
	GracefulStartPhase time.Duration `json:"graceful_start_phase"`
}

// DefaultWorkerPoolConfig returns production defaults: a single worker, five
// second polling, and pause (not fail) when budget runs out.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:            1,
		PollInterval:       5 * time.Second,
		PauseOnBudget:      true,
		GracefulStartPhase: 5 * time.Minute,
	}
}

// WorkerPool processes queued jobs. Before executing a job it runs two
// gates: the rate gate (model calls per minute) and the budget gate (spend
// limits). Jobs with no cost estimate bypass both since the gates exist to
// protect model spend.
type WorkerPool struct {
	queue         *Queue
	budget        BudgetGate // optional, nil disables the budget gate
	rate          RateGate   // optional, nil disables the rate gate
	db            *sql.DB
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      Executor
	registry      *Registry
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool. Handlers must be registered on the
// registry before Start. The parent context controls shutdown: cancelling it
// stops all workers.
func NewWorkerPool(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, registry *Registry, budget BudgetGate, rate RateGate) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	if poolCfg.Workers <= 0 {
		poolCfg.Workers = 1
	}

	return &WorkerPool{
		queue:      NewQueue(db),
		budget:     budget,
		rate:       rate,
		db:         db,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		executor:   &registryExecutor{registry: registry},
		registry:   registry,
	}
}

// Start recovers orphaned jobs and begins processing.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()

	// A pool restarted after Stop needs a fresh context before workers spawn.
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		starting("Recreated worker context after previous shutdown")
	default:
	}

	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		logger.Warnw("Failed to recover orphaned jobs", "error", err)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels workers and waits for them to exit. Waits at most 30 seconds
// so shutdown never blocks on a slow handler; stragglers keep checkpointing
// in the background.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		logger.Infow(sym.PulseClose + " Worker pool stopped, all workers exited cleanly")
	case <-time.After(timeout):
		closing("Worker pool stop timed out, workers may still be checkpointing", "timeout", timeout)
	}
}

// recoverOrphanedJobs re-queues jobs stuck in running state after an
// ungraceful shutdown. Recovery is gradual: the first job immediately, the
// rest spread out so a crash backlog cannot flood the gates.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	runningStatus := StatusRunning
	orphaned, err := wp.queue.store.ListJobs(&runningStatus, MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}
	if len(orphaned) == 0 {
		return nil
	}

	starting("Found orphaned jobs from previous shutdown", "count", len(orphaned))

	if err := wp.requeueOrphanedJob(orphaned[0]); err != nil {
		logger.Warnw("Failed to recover orphaned job", "job_id", orphaned[0].ID, "error", err)
	} else {
		starting("Recovered first orphaned job immediately", "current", 1, "total", len(orphaned))
	}

	if len(orphaned) > 1 {
		starting("Recovering remaining orphaned jobs gradually", "count", len(orphaned)-1)
		go wp.gradualRecovery(orphaned[1:])
	}

	return nil
}

// requeueOrphanedJob returns a single orphaned job to the queue.
func (wp *WorkerPool) requeueOrphanedJob(job *Job) error {
	job.Status = StatusQueued
	job.Error = "" // stale error from the crashed run
	job.UpdatedAt = time.Now().UTC()

	if err := wp.queue.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to update recovered job %s", job.ID)
	}

	starting("Recovered orphaned job", "job_id", job.ID, "handler", job.HandlerName)
	return nil
}

// gradualRecovery re-queues orphaned jobs in two phases: a short warm start
// for the first nine, then the remainder spread across a long slow start.
func (wp *WorkerPool) gradualRecovery(orphaned []*Job) {
	if len(orphaned) == 0 {
		return
	}

	begun := time.Now()

	warmStartDuration := 10 * time.Second
	slowStartDuration := 15 * time.Minute
	if wp.poolConfig.GracefulStartPhase > 0 {
		warmStartDuration = wp.poolConfig.GracefulStartPhase / 5
		slowStartDuration = wp.poolConfig.GracefulStartPhase * 3
	}

	warmStartLimit := min(9, len(orphaned))
	warmStartInterval := warmStartDuration / time.Duration(warmStartLimit)
	starting("Warm start phase", "count", warmStartLimit, "interval", warmStartInterval)

	warmRecovered := wp.recoverJobsWithInterval(orphaned[:warmStartLimit], warmStartInterval, "warm start")

	remaining := orphaned[warmStartLimit:]
	if len(remaining) == 0 {
		starting("All orphaned jobs recovered during warm start", "recovered", warmRecovered, "duration", time.Since(begun))
		return
	}

	slowStartInterval := slowStartDuration / time.Duration(len(remaining))
	starting("Slow start phase", "count", len(remaining), "interval", slowStartInterval)

	slowRecovered := wp.recoverJobsWithInterval(remaining, slowStartInterval, "slow start")
	starting("Gradual recovery complete",
		"recovered", warmRecovered+slowRecovered,
		"total", len(orphaned),
		"duration", time.Since(begun),
	)
}

// recoverJobsWithInterval re-queues a batch of jobs with a delay between
// each. Returns how many were recovered before completion or shutdown.
func (wp *WorkerPool) recoverJobsWithInterval(batch []*Job, interval time.Duration, phase string) int {
	recovered := 0
	for i, job := range batch {
		select {
		case <-wp.ctx.Done():
			closing("Gradual recovery cancelled during "+phase, "recovered", recovered, "total", len(batch))
			return recovered
		default:
		}

		if err := wp.requeueOrphanedJob(job); err != nil {
			logger.Warnw("Failed to recover job during "+phase, "job_id", job.ID, "error", err)
			continue
		}
		recovered++

		if recovered%10 == 0 {
			starting("Gradual recovery progress", "current", recovered, "total", len(batch), "phase", phase)
		}

		if i < len(batch)-1 {
			time.Sleep(interval)
		}
	}
	return recovered
}

// worker polls the queue for jobs until the pool context is cancelled.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	interval := wp.getWorkerInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown.
					return
				}

				errorCount++
				logger.Errorw("Worker error processing job",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount,
				)
				if errorCount >= maxConsecutiveErrors {
					logger.Warnw("Worker backing off after consecutive errors",
						"worker_id", id,
						"backoff", backoff,
						"consecutive_errors", errorCount,
					)
					time.Sleep(backoff)
					backoff = min(backoff*2, maxBackoff)
				}
			} else {
				if errorCount > 0 {
					logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount,
					)
				}
				errorCount = 0
				backoff = time.Second
			}

			if newInterval := wp.getWorkerInterval(); newInterval != interval {
				ticker.Reset(newInterval)
				interval = newInterval
			}
		}
	}
}

// getWorkerInterval ramps polling from one second during warmup to five
// seconds steady state. An explicit PollInterval overrides the ramp.
func (wp *WorkerPool) getWorkerInterval() time.Duration {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.poolConfig.PollInterval > 0 {
		return wp.poolConfig.PollInterval
	}

	elapsed := time.Since(wp.startTime)
	if wp.jobsProcessed < 20 || elapsed < 2*time.Minute {
		return time.Second
	}
	return 5 * time.Second
}

// processNextJob dequeues and runs one job through the gates.
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return nil
	}

	// The gates protect model spend. Rate limiting runs first so API
	// violations are prevented before cost is considered.
	if job.CostEstimate > 0 {
		if paused, err := wp.checkRateGate(job); paused || err != nil {
			if err != nil {
				return errors.Wrapf(err, "rate gate failed for job %s", job.ID)
			}
			return nil
		}
		if paused, err := wp.checkBudgetGate(job); paused || err != nil {
			if err != nil {
				return errors.Wrapf(err, "budget gate failed for job %s", job.ID)
			}
			return nil
		}
		wp.updateJobGateState(job)
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.mu.Unlock()

	// Children of failed, cancelled, or deleted parents are cancelled
	// instead of executed.
	if job.ParentJobID != "" {
		parent, err := wp.queue.GetJob(job.ParentJobID)
		if err != nil {
			job.Cancel("parent job deleted")
			return wp.queue.UpdateJob(job)
		}
		if parent.Status == StatusFailed || parent.Status == StatusCancelled {
			job.Cancel(fmt.Sprintf("parent job %s", parent.Status))
			return wp.queue.UpdateJob(job)
		}
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	if err := wp.executor.Execute(wp.ctx, job); err != nil {
		select {
		case <-wp.ctx.Done():
			// Shutdown interrupted the job. Re-queue it with whatever
			// checkpoint the handler saved in the payload.
			closing("Job interrupted by shutdown, re-queuing", "job_id", job.ID)
			job.Status = StatusQueued
			job.UpdatedAt = time.Now().UTC()
			if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
				logger.Errorw("Failed to re-queue interrupted job", "job_id", job.ID, "error", updateErr)
			}
			return nil
		default:
		}

		if retryable(err) && job.RetryCount < MaxRetries {
			job.RetryCount++
			job.Status = StatusQueued
			job.Error = fmt.Sprintf("retry %d/%d: %v", job.RetryCount, MaxRetries, err)
			job.UpdatedAt = time.Now().UTC()
			if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
				return errors.Wrapf(updateErr, "failed to re-queue job %s for retry", job.ID)
			}
			logger.Infow(sym.Pulse+" Retry scheduled",
				"job_id", job.ID,
				"handler", job.HandlerName,
				"retry_count", job.RetryCount,
				"max_retries", MaxRetries,
				"error", err,
			)
			return nil
		}

		return wp.queue.FailJob(job.ID, err)
	}

	return wp.queue.CompleteJob(job.ID)
}

// retryable reports whether a handler error is worth retrying. Validation
// and missing-resource failures never heal on their own.
func retryable(err error) bool {
	return !errors.IsInvalidInput(err) && !errors.IsNotFound(err)
}

// checkRateGate pauses the job when the rate limit is reached. Returns true
// when the job was paused.
func (wp *WorkerPool) checkRateGate(job *Job) (paused bool, err error) {
	if wp.rate == nil {
		return false, nil
	}

	if err := wp.rate.Allow(); err != nil {
		if pauseErr := wp.queue.PauseJob(job.ID, PauseReasonRateLimited); pauseErr != nil {
			return false, errors.Wrapf(pauseErr, "failed to pause job %s", job.ID)
		}
		callsInWindow, remaining := wp.rate.Stats()
		logger.Infow(sym.Pulse+" Rate limit reached, job paused",
			"job_id", job.ID,
			"calls_in_window", callsInWindow,
			"calls_remaining", remaining,
			"reason", PauseReasonRateLimited,
		)
		return true, nil
	}
	return false, nil
}

// checkBudgetGate pauses or fails the job when spend limits would be
// exceeded. Returns true when the job was halted.
func (wp *WorkerPool) checkBudgetGate(job *Job) (paused bool, err error) {
	if wp.budget == nil {
		return false, nil
	}

	if err := wp.budget.Check(job.CostEstimate); err != nil {
		if status, statusErr := wp.budget.Status(); statusErr == nil {
			logger.Infow(sym.Pulse+" Budget exceeded",
				"job_id", job.ID,
				"estimated_cost", job.CostEstimate,
				"daily_spend", status.DailySpend,
				"daily_remaining", status.DailyRemaining,
				"monthly_spend", status.MonthlySpend,
				"monthly_remaining", status.MonthlyRemaining,
				"reason", PauseReasonBudgetExceeded,
			)
		}

		if wp.poolConfig.PauseOnBudget {
			if pauseErr := wp.queue.PauseJob(job.ID, PauseReasonBudgetExceeded); pauseErr != nil {
				return false, errors.Wrapf(pauseErr, "failed to pause job %s", job.ID)
			}
			return true, nil
		}
		return true, wp.queue.FailJob(job.ID, err)
	}
	return false, nil
}

// updateJobGateState snapshots rate and budget stats onto the job so
// clients can show why a job might pause next.
func (wp *WorkerPool) updateJobGateState(job *Job) {
	if wp.budget == nil || wp.rate == nil {
		return
	}

	status, err := wp.budget.Status()
	if err != nil {
		logger.Warnw("Failed to get budget status", "error", err)
		return
	}

	callsInWindow, remaining := wp.rate.Stats()
	job.SetGateState(&GateState{
		CallsThisMinute: callsInWindow,
		CallsRemaining:  remaining,
		SpendToday:      status.DailySpend,
		SpendThisMonth:  status.MonthlySpend,
		BudgetRemaining: status.DailyRemaining,
	})
	if err := wp.queue.UpdateJob(job); err != nil {
		logger.Warnw("Failed to update job gate state", "error", err)
	}
}

// GetQueue returns the job queue for enqueuing and subscriptions.
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Registry returns the handler registry.
func (wp *WorkerPool) Registry() *Registry {
	return wp.registry
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// BudgetStatus reports spend per budget window, or nil when the pool
// has no budget gate.
func (wp *WorkerPool) BudgetStatus() (*BudgetStatus, error) {
	if wp.budget == nil {
		return nil, nil
	}
	return wp.budget.Status()
}

// IsRunning reports whether Start has been called and the pool has not
// been stopped since.
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.startTime.IsZero() {
		return false
	}
	select {
	case <-wp.ctx.Done():
		return false
	default:
		return true
	}
}
