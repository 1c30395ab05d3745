package watch

import (
	"context"
	"database/sql"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

const (
	initialBackoff      = 1 * time.Second
	maxBackoff          = 60 * time.Second
	retryTickerInterval = 1 * time.Second
)

// Engine turns filesystem events on registered paths into deduplicated
// ingest.fs jobs. Events are filtered per watcher, rate limited, and
// debounced; enqueue failures back off exponentially before giving up.
type Engine struct {
	store *Store
	queue *jobs.Queue
	cfg   config.WatchConfig

	// In-memory state
	mu       sync.RWMutex
	watchers map[string]*Watcher
	limiters map[string]*rate.Limiter

	// Debounce timers, one per watcher with pending events
	debounceMu sync.Mutex
	debounce   map[string]*time.Timer

	// Retry queue for failed enqueues
	retryMu    sync.Mutex
	retryQueue []*pendingEnqueue

	// Control
	fsw    *fsnotify.Watcher
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pendingEnqueue is a failed re-ingestion enqueue waiting out its backoff.
type pendingEnqueue struct {
	WatcherID   string
	Attempt     int
	NextRetryAt time.Time
	LastError   string
}

// NewEngine creates a watch engine over the given database and job queue.
func NewEngine(db *sql.DB, queue *jobs.Queue, cfg config.WatchConfig) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      NewStore(db),
		queue:      queue,
		cfg:        cfg,
		watchers:   make(map[string]*Watcher),
		limiters:   make(map[string]*rate.Limiter),
		debounce:   make(map[string]*time.Timer),
		retryQueue: make([]*pendingEnqueue, 0),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start loads enabled watchers, registers their paths with fsnotify, and
// starts the event and retry loops.
func (e *Engine) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create filesystem watcher")
	}
	e.fsw = fsw

	if err := e.loadWatchers(); err != nil {
		fsw.Close()
		return errors.Wrap(err, "failed to load watchers")
	}

	e.wg.Add(2)
	go e.eventLoop()
	go e.retryLoop()

	logger.Infow(sym.Watch+" Watch engine started", "watchers", len(e.watchers))
	return nil
}

// Stop shuts the engine down and waits for its loops to exit. Pending
// debounce windows are cancelled, not flushed.
func (e *Engine) Stop() {
	e.cancel()
	if e.fsw != nil {
		e.fsw.Close()
	}

	e.debounceMu.Lock()
	for id, timer := range e.debounce {
		timer.Stop()
		delete(e.debounce, id)
	}
	e.debounceMu.Unlock()

	e.wg.Wait()
	logger.Infow(sym.Watch + " Watch engine stopped")
}

// Reload re-reads watchers from the database and resyncs the observed
// paths. Call after watcher CRUD.
func (e *Engine) Reload() error {
	return e.loadWatchers()
}

// loadWatchers swaps in the enabled watcher set and reconciles fsnotify
// registrations against it. Limiter state survives for watchers that
// remain, so a reload cannot reset rate limits mid-storm.
func (e *Engine) loadWatchers() error {
	list, err := e.store.List(true)
	if err != nil {
		return err
	}

	e.mu.Lock()
	kept := e.limiters
	e.watchers = make(map[string]*Watcher, len(list))
	e.limiters = make(map[string]*rate.Limiter, len(list))
	for _, w := range list {
		e.watchers[w.ID] = w
		if lim, ok := kept[w.ID]; ok {
			e.limiters[w.ID] = lim
		} else {
			e.limiters[w.ID] = rate.NewLimiter(rate.Limit(e.cfg.EventsPerSecond), 1)
		}
	}
	e.mu.Unlock()

	want := make(map[string]bool)
	for _, w := range list {
		for _, dir := range watchRoots(w) {
			want[dir] = true
		}
	}
	have := make(map[string]bool)
	for _, p := range e.fsw.WatchList() {
		have[p] = true
	}
	for p := range want {
		if !have[p] {
			if err := e.fsw.Add(p); err != nil {
				logger.Warnw(sym.Watch+" Failed to observe path", "path", p, "error", err)
			}
		}
	}
	for p := range have {
		if !want[p] {
			if err := e.fsw.Remove(p); err != nil {
				logger.Debugw(sym.Watch+" Failed to release path", "path", p, "error", err)
			}
		}
	}
	return nil
}

// watchRoots expands a watcher into the directories fsnotify must observe.
// fsnotify is not recursive, so a recursive watcher contributes its whole
// directory tree minus what discovery would skip anyway.
func watchRoots(w *Watcher) []string {
	info, err := os.Stat(w.Path)
	if err != nil {
		logger.Warnw(sym.Watch+" Watched path is missing", "path", w.Path, "error", err)
		return nil
	}
	if !info.IsDir() || !w.Recursive {
		return []string{w.Path}
	}

	var dirs []string
	err = filepath.WalkDir(w.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.Path && ingest.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		logger.Warnw(sym.Watch+" Failed to walk watched tree", "path", w.Path, "error", err)
	}
	return dirs
}

// eventLoop drains fsnotify until the engine stops.
func (e *Engine) eventLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.fsw.Events:
			if !ok {
				return
			}
			e.handleEvent(ev)
		case err, ok := <-e.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnw(sym.Watch+" Filesystem watcher error", "error", err)
		}
	}
}

// handleEvent routes one filesystem event. Renames surface as a create at
// the new path and removals leave nothing to ingest, so only creates and
// writes are considered.
func (e *Engine) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	path := filepath.Clean(ev.Name)

	// A directory born under a recursive watcher joins the observed set.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			e.observeNewDir(path)
			return
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, w := range e.watchers {
		if !w.Matches(path) {
			continue
		}

		limiter := e.limiters[w.ID]
		if limiter != nil && !limiter.Allow() {
			logger.Debugw(sym.Watch+" Event rate limited",
				"watcher_id", w.ID,
				"path", path)
			continue
		}

		e.scheduleFire(w.ID)
	}
}

// observeNewDir adds a freshly created directory (and any subtree racing
// ahead of the events) when a recursive watcher covers it.
func (e *Engine) observeNewDir(dir string) {
	if ingest.SkipDir(filepath.Base(dir)) {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, w := range e.watchers {
		if !w.Recursive || !w.Covers(dir) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if path != dir && ingest.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := e.fsw.Add(path); err != nil {
				logger.Debugw(sym.Watch+" Failed to observe new directory", "path", path, "error", err)
			}
			return nil
		})
		if err != nil {
			logger.Debugw(sym.Watch+" Failed to walk new directory", "path", dir, "error", err)
		}
		return
	}
}

// scheduleFire arms (or re-arms) the watcher's debounce timer. The job is
// enqueued only once the watcher has been quiet for the debounce window.
func (e *Engine) scheduleFire(watcherID string) {
	quiet := time.Duration(e.cfg.DebounceMs) * time.Millisecond

	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	if timer, ok := e.debounce[watcherID]; ok {
		timer.Reset(quiet)
		return
	}
	e.debounce[watcherID] = time.AfterFunc(quiet, func() {
		e.fire(watcherID)
	})
}

// fire enqueues the watcher's re-ingestion job after its debounce window
// closes. Failures land in the retry queue.
func (e *Engine) fire(watcherID string) {
	e.debounceMu.Lock()
	delete(e.debounce, watcherID)
	e.debounceMu.Unlock()

	if e.ctx.Err() != nil {
		return
	}

	e.mu.RLock()
	w, ok := e.watchers[watcherID]
	e.mu.RUnlock()
	if !ok || !w.Enabled {
		return
	}

	if err := e.enqueue(w); err != nil {
		logger.Errorw(sym.Watch+" Failed to enqueue re-ingestion",
			"watcher_id", w.ID,
			"path", w.Path,
			"error", err)
		e.queueRetry(w.ID, 1, err.Error())
		return
	}

	if err := e.store.RecordEvent(w.ID); err != nil {
		logger.Debugw(sym.Watch+" Failed to record watcher event",
			"watcher_id", w.ID, "error", err)
	}
}

// enqueue submits one deduplicated ingest.fs job for the watcher's path.
// While that job is still active, further fires piggyback on it. A
// single-kind filter is forwarded as the forced classification; a broader
// filter leaves classification to the loaders.
func (e *Engine) enqueue(w *Watcher) error {
	payload := ingest.FSPayload{
		Source:    w.Path,
		Recursive: w.Recursive,
	}
	if len(w.Kinds) == 1 {
		payload.Kind = w.Kinds[0]
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal re-ingestion payload")
	}

	job, err := jobs.NewJob(jobs.HandlerIngestFS, w.Path, raw, 0, 0)
	if err != nil {
		return err
	}
	queued, err := e.queue.EnqueueDeduped(job)
	if err != nil {
		return err
	}

	logger.Infow(sym.Watch+" Re-ingestion queued",
		"watcher_id", w.ID,
		"path", w.Path,
		"job_id", queued.ID)
	return nil
}

// queueRetry schedules another enqueue attempt with exponential backoff:
// 1s, 2s, 4s, ... capped at maxBackoff. Past the configured attempt
// budget the event is dropped; the next filesystem change tries again.
func (e *Engine) queueRetry(watcherID string, attempt int, lastError string) {
	if attempt > e.cfg.MaxRetries {
		logger.Warnw(sym.Watch+" Giving up on re-ingestion enqueue",
			"watcher_id", watcherID,
			"attempts", attempt,
			"last_error", lastError)
		return
	}

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	e.retryMu.Lock()
	defer e.retryMu.Unlock()

	e.retryQueue = append(e.retryQueue, &pendingEnqueue{
		WatcherID:   watcherID,
		Attempt:     attempt,
		NextRetryAt: time.Now().Add(backoff),
		LastError:   lastError,
	})

	logger.Debugw(sym.Watch+" Enqueue scheduled for retry",
		"watcher_id", watcherID,
		"attempt", attempt,
		"backoff", backoff)
}

// retryLoop periodically drains due retries.
func (e *Engine) retryLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(retryTickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.processRetryQueue()
		}
	}
}

// processRetryQueue re-attempts due enqueues. Watchers that vanished or
// were disabled since the failure are silently dropped.
func (e *Engine) processRetryQueue() {
	now := time.Now()

	e.retryMu.Lock()
	var due []*pendingEnqueue
	var remaining []*pendingEnqueue
	for _, pe := range e.retryQueue {
		if !pe.NextRetryAt.After(now) {
			due = append(due, pe)
		} else {
			remaining = append(remaining, pe)
		}
	}
	e.retryQueue = remaining
	e.retryMu.Unlock()

	for _, pe := range due {
		e.mu.RLock()
		w, exists := e.watchers[pe.WatcherID]
		e.mu.RUnlock()
		if !exists || !w.Enabled {
			continue
		}

		if err := e.enqueue(w); err != nil {
			logger.Warnw(sym.Watch+" Enqueue retry failed",
				"watcher_id", w.ID,
				"attempt", pe.Attempt,
				"error", err)
			e.queueRetry(w.ID, pe.Attempt+1, err.Error())
			continue
		}

		logger.Infow(sym.Watch+" Enqueue retry succeeded",
			"watcher_id", w.ID,
			"attempt", pe.Attempt)
		if err := e.store.RecordEvent(w.ID); err != nil {
			logger.Debugw(sym.Watch+" Failed to record watcher event",
				"watcher_id", w.ID, "error", err)
		}
	}
}

// GetWatcher returns a loaded watcher by ID. Only enabled watchers are
// ever loaded.
func (e *Engine) GetWatcher(id string) (*Watcher, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.watchers[id]
	return w, ok
}

// GetStore exposes the underlying store for watcher CRUD.
func (e *Engine) GetStore() *Store {
	return e.store
}
