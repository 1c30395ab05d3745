// Package embed turns chunk text into fixed-dimension vectors for the
// semantic index. The default backend is an Ollama-compatible HTTP
// endpoint; Managed wraps any Service with lazy initialization and
// hot swapping so callers never coordinate startup themselves.
package embed

import (
	"context"
	"sync"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// Service produces embeddings for text.
type Service interface {
	// Init prepares the service and verifies the model is reachable.
	Init(ctx context.Context) error

	// ModelInfo returns the model name and vector dimension.
	ModelInfo() (name string, dim int)

	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases any resources held by the service.
	Close() error
}

// Managed wraps a Service with lazy initialization and hot swapping.
// All methods are safe for concurrent use.
type Managed struct {
	mu          sync.RWMutex
	service     Service
	initialized bool
}

// NewManaged wraps service. The underlying service is not initialized
// until the first embedding request or an explicit Init.
func NewManaged(service Service) *Managed {
	return &Managed{service: service}
}

// Init initializes the underlying service. Calling Init on an already
// initialized Managed is a no-op.
func (m *Managed) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked(ctx)
}

func (m *Managed) initLocked(ctx context.Context) error {
	if m.initialized {
		return nil
	}
	if m.service == nil {
		return errors.New("no embedding service configured")
	}
	if err := m.service.Init(ctx); err != nil {
		return errors.Wrap(err, "initialize embedding service")
	}
	name, dim := m.service.ModelInfo()
	logger.Infow(sym.Embed+" Embedding service ready",
		"model", name,
		"dimensions", dim,
	)
	m.initialized = true
	return nil
}

// ensure initializes the service on first use.
func (m *Managed) ensure(ctx context.Context) error {
	m.mu.RLock()
	ready := m.initialized
	m.mu.RUnlock()
	if ready {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked(ctx)
}

// ModelInfo reports the underlying service's model without forcing
// initialization.
func (m *Managed) ModelInfo() (string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.service == nil {
		return "", 0
	}
	return m.service.ModelInfo()
}

// Embed returns the embedding for text, initializing the service if needed.
func (m *Managed) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, errors.New("embedding service not initialized")
	}
	return m.service.Embed(ctx, text)
}

// EmbedBatch returns one embedding per text, initializing the service
// if needed.
func (m *Managed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, errors.New("embedding service not initialized")
	}
	return m.service.EmbedBatch(ctx, texts)
}

// Swap initializes next, installs it, and closes the previous service.
// In-flight requests on the old service complete before it is closed.
func (m *Managed) Swap(ctx context.Context, next Service) error {
	if next == nil {
		return errors.New("no embedding service configured")
	}
	if err := next.Init(ctx); err != nil {
		return errors.Wrap(err, "initialize replacement embedding service")
	}

	m.mu.Lock()
	prev := m.service
	wasInitialized := m.initialized
	m.service = next
	m.initialized = true
	m.mu.Unlock()

	name, dim := next.ModelInfo()
	logger.Infow(sym.Embed+" Embedding service swapped",
		"model", name,
		"dimensions", dim,
	)

	if prev != nil && wasInitialized {
		if err := prev.Close(); err != nil {
			logger.Warnw(sym.Embed+" Failed to close previous embedding service",
				"error", err,
			)
		}
	}
	return nil
}

// Close shuts down the underlying service. A closed Managed
// re-initializes on the next embedding request.
func (m *Managed) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized || m.service == nil {
		return nil
	}
	m.initialized = false
	return m.service.Close()
}
