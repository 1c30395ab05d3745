package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/qacompanion/qac/errors"
)

// Well-known handler names. Handlers live in the packages that own the
// domain logic; the names are defined here so enqueue sites and dedup
// lookups share one vocabulary.
const (
	HandlerIngestFS     = "ingest.fs"
	HandlerIngestGit    = "ingest.git"
	HandlerIngestGitHub = "ingest.github"
	HandlerEmbedBacklog = "embed.backlog"
	HandlerSummarize    = "summarize.artifact"
	HandlerTraceScan    = "trace.scan"
)

// Handler executes jobs of one kind. Implementations checkpoint progress via
// the queue and return an error to fail or retry the job.
type Handler interface {
	Execute(ctx context.Context, job *Job) error
	Name() string
}

// Executor dispatches a job to whatever will run it. The worker pool depends
// on this interface so tests can substitute fakes.
type Executor interface {
	Execute(ctx context.Context, job *Job) error
}

// Registry maps handler names to handlers. Registration happens at wiring
// time, before the worker pool starts.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Duplicate registration is a wiring bug, so it
// panics rather than silently replacing the handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, exists := r.handlers[name]; exists {
		panic("jobs: handler already registered: " + name)
	}
	r.handlers[name] = h
}

// Get returns the handler for a name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// Has reports whether a handler is registered for the name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registryExecutor dispatches jobs by HandlerName.
type registryExecutor struct {
	registry *Registry
}

func (e *registryExecutor) Execute(ctx context.Context, job *Job) error {
	if job.HandlerName == "" {
		return errors.NewInvalidInputError("job %s has no handler name", job.ID)
	}

	handler, ok := e.registry.Get(job.HandlerName)
	if !ok {
		return errors.Newf("no handler registered for %q (job %s)", job.HandlerName, job.ID)
	}
	return handler.Execute(ctx, job)
}
